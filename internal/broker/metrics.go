package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tradeexec/pkg/ratelimit"
)

// ============ Prometheus метрики шлюза ============

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeexec",
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Broker gateway requests by instance, endpoint and outcome",
		},
		[]string{"instance", "endpoint", "outcome"},
	)

	requestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeexec",
			Subsystem: "broker",
			Name:      "request_latency_ms",
			Help:      "Broker gateway HTTP round trip in milliseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"instance", "endpoint"},
	)

	rateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeexec",
			Subsystem: "broker",
			Name:      "rate_limit_wait_ms",
			Help:      "Time spent waiting for a rate limit slot",
			Buckets:   []float64{1, 5, 25, 100, 250, 500, 1000, 5000},
		},
		[]string{"instance"},
	)

	circuitTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeexec",
			Subsystem: "broker",
			Name:      "circuit_trips_total",
			Help:      "Daily circuit breaker trips by reason",
		},
		[]string{"instance", "reason"},
	)

	dedupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeexec",
			Subsystem: "broker",
			Name:      "dedup_hits_total",
			Help:      "Order retries suppressed because the first attempt was executed",
		},
		[]string{"instance", "endpoint"},
	)

	quoteFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeexec",
			Subsystem: "broker",
			Name:      "quote_failovers_total",
			Help:      "Quotes served by a fallback instance",
		},
		[]string{"instance"},
	)
)

// ============ Счётчики по инстансам ============

// InstanceMetrics - снимок счётчиков инстанса для операторского API
type InstanceMetrics struct {
	InstanceID     int             `json:"instance_id"`
	Instance       string          `json:"instance"`
	Requests       int64           `json:"requests"`
	Errors         int64           `json:"errors"`
	ClientErrors   int64           `json:"client_errors"`
	Retries        int64           `json:"retries"`
	CircuitRejects int64           `json:"circuit_rejects"`
	DedupHits      int64           `json:"dedup_hits"`
	QuoteFailovers int64           `json:"quote_failovers"`
	LastError      string          `json:"last_error,omitempty"`
	LastErrorAt    *time.Time      `json:"last_error_at,omitempty"`
	RateLimit      ratelimit.Usage `json:"rate_limit"`
	Breaker        BreakerSnapshot `json:"breaker"`
}

type counters struct {
	id             int
	name           string
	requests       int64
	errors         int64
	clientErrors   int64
	retries        int64
	circuitRejects int64
	dedupHits      int64
	quoteFailovers int64
	lastError      string
	lastErrorAt    time.Time
}

// metricsBook - счётчики под мьютексом, принадлежат клиенту
type metricsBook struct {
	mu   sync.Mutex
	byID map[string]*counters
}

func newMetricsBook() *metricsBook {
	return &metricsBook{byID: make(map[string]*counters)}
}

func (m *metricsBook) update(inst Instance, fn func(c *counters)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[inst.Key()]
	if !ok {
		c = &counters{id: inst.ID, name: inst.Label()}
		m.byID[inst.Key()] = c
	}
	fn(c)
}

func (m *metricsBook) snapshot() []InstanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InstanceMetrics, 0, len(m.byID))
	for _, c := range m.byID {
		im := InstanceMetrics{
			InstanceID:     c.id,
			Instance:       c.name,
			Requests:       c.requests,
			Errors:         c.errors,
			ClientErrors:   c.clientErrors,
			Retries:        c.retries,
			CircuitRejects: c.circuitRejects,
			DedupHits:      c.dedupHits,
			QuoteFailovers: c.quoteFailovers,
			LastError:      c.lastError,
		}
		if !c.lastErrorAt.IsZero() {
			at := c.lastErrorAt
			im.LastErrorAt = &at
		}
		out = append(out, im)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

func (m *metricsBook) totals() (errors, failovers int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		errors += c.errors
		failovers += c.quoteFailovers
	}
	return errors, failovers
}
