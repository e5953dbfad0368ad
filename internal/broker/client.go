package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"tradeexec/pkg/ratelimit"
	"tradeexec/pkg/retry"
	"tradeexec/pkg/utils"
)

const maxResponseBody = 8 << 20

// Config - настройки клиента шлюза
type Config struct {
	HTTP               HTTPClientConfig
	RequestTimeout     time.Duration // дедлайн одной попытки
	Critical           retry.Profile
	NonCritical        retry.Profile
	Breaker            BreakerConfig
	Dedup              DedupConfig
	MaxInFlightPerHost int // 0 = без ограничения
	QuoteFallbacks     int // сколько запасных инстансов пробовать для котировок
	QuoteConcurrency   int
	Location           *time.Location // часовой пояс меток времени брокера
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		HTTP:               DefaultHTTPClientConfig(),
		RequestTimeout:     10 * time.Second,
		Critical:           retry.Critical(3, time.Second),
		NonCritical:        retry.NonCritical(2, 500*time.Millisecond),
		Breaker:            BreakerConfig{NotFoundThreshold: 20, AuthThreshold: 5, Backoff: 15 * time.Minute},
		Dedup:              DefaultDedupConfig(),
		MaxInFlightPerHost: 8,
		QuoteFallbacks:     2,
		QuoteConcurrency:   4,
		Location:           time.UTC,
	}
}

// Client - клиент брокерских шлюзов
type Client struct {
	cfg     Config
	pools   *Pools
	limits  *ratelimit.Registry
	breaker *Breaker
	book    *metricsBook
	logger  *utils.Logger
	now     func() time.Time

	semMu sync.Mutex
	sems  map[string]chan struct{}
}

// NewClient создаёт клиент. limits может быть общим с LimitManager.
func NewClient(cfg Config, limits *ratelimit.Registry, logger *utils.Logger) (*Client, error) {
	pools, err := NewPools(cfg.HTTP)
	if err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Breaker.Location == nil {
		cfg.Breaker.Location = cfg.Location
	}
	if limits == nil {
		limits = ratelimit.NewRegistry(ratelimit.Limits{}, 0)
	}
	if logger == nil {
		logger = utils.L()
	}
	return &Client{
		cfg:     cfg,
		pools:   pools,
		limits:  limits,
		breaker: NewBreaker(cfg.Breaker),
		book:    newMetricsBook(),
		logger:  logger.WithComponent("broker"),
		now:     time.Now,
		sems:    make(map[string]chan struct{}),
	}, nil
}

// Close закрывает пулы соединений
func (c *Client) Close() {
	c.pools.Close()
}

// Request - единая точка вызова шлюза.
//
// Порядок: circuit breaker -> лимитер -> HTTP с дедлайном попытки.
// Ошибки 4xx не повторяются. Для ордеров с Dedup перед каждым повтором
// проверяется, не исполнилась ли предыдущая попытка.
func (c *Client) Request(ctx context.Context, inst Instance, endpoint string, payload map[string]interface{}, method string, opts RequestOptions) (*Response, error) {
	order := IsOrderEndpoint(endpoint)
	profile := c.cfg.NonCritical
	if opts.Critical || order {
		profile = c.cfg.Critical
	}

	log := c.logger.With(utils.InstanceName(inst.Label()), utils.Endpoint(endpoint))
	profile = profile.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		c.book.update(inst, func(m *counters) { m.retries++ })
		log.Warn("retrying broker request",
			utils.Attempt(attempt),
			utils.Err(err),
			utils.Int64("delay_ms", delay.Milliseconds()),
		)
	})

	var mark *positionMark
	if opts.Dedup != nil {
		mark = c.markPosition(ctx, inst, *opts.Dedup)
	}

	return retry.Do(ctx, profile, func(ctx context.Context, attempt int) (*Response, error) {
		if err := c.checkCircuit(inst, endpoint); err != nil {
			return nil, err
		}

		if attempt > 0 && mark != nil {
			if resp := c.findExecuted(ctx, inst, endpoint, *opts.Dedup, mark); resp != nil {
				return resp, nil
			}
		}

		if !opts.SkipRateLimit {
			waited, err := c.limits.Acquire(ctx, inst.Key(), order)
			if err != nil {
				return nil, retry.Permanent(err)
			}
			if waited > 0 {
				rateLimitWait.WithLabelValues(inst.Label()).Observe(float64(waited.Milliseconds()))
			}
		}

		return c.do(ctx, inst, endpoint, payload, method)
	})
}

func (c *Client) checkCircuit(inst Instance, endpoint string) error {
	ok, until := c.breaker.Allow(inst.Key())
	if ok {
		return nil
	}
	c.book.update(inst, func(m *counters) { m.circuitRejects++ })
	requestsTotal.WithLabelValues(inst.Label(), endpoint, "circuit_open").Inc()
	return &BrokerError{
		InstanceID: inst.ID,
		Instance:   inst.Label(),
		Endpoint:   endpoint,
		StatusCode: http.StatusTooManyRequests,
		Message:    "instance blocked until " + until.Format(time.RFC3339),
		Original:   ErrCircuitOpen,
	}
}

func (c *Client) do(ctx context.Context, inst Instance, endpoint string, payload map[string]interface{}, method string) (*Response, error) {
	httpClient, host, err := c.pools.ForHost(inst.BaseURL)
	if err != nil {
		return nil, retry.Permanent(&BrokerError{
			InstanceID: inst.ID, Instance: inst.Label(), Endpoint: endpoint,
			StatusCode: http.StatusBadRequest, Message: err.Error(), Original: err,
		})
	}

	release, err := c.acquireSlot(ctx, host)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := buildRequest(ctx, inst, endpoint, payload, method)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	requestLatency.WithLabelValues(inst.Label(), endpoint).Observe(utils.MillisSince(start))
	c.book.update(inst, func(m *counters) { m.requests++ })
	if err != nil {
		return nil, c.fail(inst, endpoint, 0, err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, c.fail(inst, endpoint, 0, "read body: "+err.Error(), err)
	}

	parsed := parseEnvelope(body)
	parsed.StatusCode = resp.StatusCode

	if resp.StatusCode >= http.StatusBadRequest {
		msg := parsed.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, c.fail(inst, endpoint, resp.StatusCode, msg, nil)
	}
	if strings.EqualFold(parsed.Status, "error") {
		// отказ брокера с HTTP 200: бизнес-ошибка, не повторяем
		return nil, c.fail(inst, endpoint, http.StatusUnprocessableEntity, parsed.Message, nil)
	}

	requestsTotal.WithLabelValues(inst.Label(), endpoint, "success").Inc()
	return parsed, nil
}

// fail учитывает ошибку в счётчиках и breaker'е
func (c *Client) fail(inst Instance, endpoint string, status int, message string, original error) error {
	be := &BrokerError{
		InstanceID: inst.ID,
		Instance:   inst.Label(),
		Endpoint:   endpoint,
		StatusCode: status,
		Message:    message,
		Original:   original,
	}

	outcome := "error"
	if isClientStatus(status) {
		outcome = "client_error"
	}
	requestsTotal.WithLabelValues(inst.Label(), endpoint, outcome).Inc()

	now := c.now()
	c.book.update(inst, func(m *counters) {
		m.errors++
		if isClientStatus(status) {
			m.clientErrors++
		}
		m.lastError = be.Error()
		m.lastErrorAt = now
	})

	var kind failureKind
	counted := true
	switch {
	case isInvalidCredentials(status, message):
		kind = failureAuth
	case status == http.StatusNotFound:
		kind = failureNotFound
	default:
		counted = false
	}
	if counted && c.breaker.Record(inst.Key(), kind) {
		circuitTrips.WithLabelValues(inst.Label(), kind.String()).Inc()
		c.logger.Error("instance circuit opened",
			utils.InstanceName(inst.Label()),
			utils.String("reason", kind.String()),
			utils.Int64("backoff_sec", int64(c.cfg.Breaker.Backoff.Seconds())),
		)
	}

	return be
}

func (c *Client) acquireSlot(ctx context.Context, host string) (func(), error) {
	if c.cfg.MaxInFlightPerHost <= 0 {
		return func() {}, nil
	}
	c.semMu.Lock()
	sem, ok := c.sems[host]
	if !ok {
		sem = make(chan struct{}, c.cfg.MaxInFlightPerHost)
		c.sems[host] = sem
	}
	c.semMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func buildRequest(ctx context.Context, inst Instance, endpoint string, payload map[string]interface{}, method string) (*http.Request, error) {
	if method == "" {
		method = http.MethodPost
	}
	reqURL := strings.TrimRight(inst.BaseURL, "/") + "/api/v1/" + endpoint

	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["apikey"] = inst.APIKey

	if method == http.MethodGet {
		q := url.Values{}
		for k, v := range body {
			q.Set(k, fmt.Sprint(v))
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func parseEnvelope(body []byte) *Response {
	r := &Response{Body: body}
	var env map[string]jsoniter.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return r
	}
	r.Status = rawString(env["status"])
	r.Message = rawString(env["message"])
	r.OrderID = rawString(env["orderid"])
	if r.OrderID == "" {
		r.OrderID = rawString(env["order_id"])
	}
	r.Data = env["data"]
	return r
}

func rawString(raw jsoniter.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return formatNumber(f)
	}
	return ""
}

// ============ Метрики ============

// InstanceMetrics возвращает счётчики всех инстансов, к которым были запросы
func (c *Client) InstanceMetrics() []InstanceMetrics {
	out := c.book.snapshot()
	for i := range out {
		key := Instance{ID: out[i].InstanceID}.Key()
		out[i].RateLimit = c.limits.Usage(key)
		out[i].Breaker = c.breaker.Snapshot(key)
	}
	return out
}

// ErrorTotals - суммарные ошибки инстансов и переключения котировок
func (c *Client) ErrorTotals() (instanceErrors, failovers int64) {
	return c.book.totals()
}

// IsCircuitOpen - признак ErrCircuitOpen в цепочке
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
