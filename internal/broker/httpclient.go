package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HTTPClientConfig - настройки транспорта к шлюзам
type HTTPClientConfig struct {
	ConnectTimeout time.Duration // таймаут TCP соединения
	ReadTimeout    time.Duration // таймаут заголовков ответа

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration

	// ProxyURL - необязательный прокси для всех хостов
	ProxyURL string
	// VerifyTLS = false отключает проверку сертификата (шлюзы с self-signed)
	VerifyTLS bool
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ReadTimeout:         10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
		VerifyTLS:           true,
	}
}

// Pools - пулы соединений по хостам.
// Каждый хост шлюза получает свой http.Client с отдельным Transport.
type Pools struct {
	cfg     HTTPClientConfig
	proxy   func(*http.Request) (*url.URL, error)
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewPools создаёт набор пулов; ошибка только при некорректном ProxyURL
func NewPools(cfg HTTPClientConfig) (*Pools, error) {
	p := &Pools{cfg: cfg, clients: make(map[string]*http.Client)}
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		p.proxy = http.ProxyURL(u)
	}
	return p, nil
}

// ForHost возвращает клиент пула для хоста из baseURL
func (p *Pools) ForHost(baseURL string) (*http.Client, string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, "", fmt.Errorf("invalid base url %q", baseURL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[u.Host]; ok {
		return c, u.Host, nil
	}
	c := &http.Client{Transport: p.newTransport()}
	p.clients[u.Host] = c
	return c, u.Host, nil
}

func (p *Pools) newTransport() *http.Transport {
	cfg := p.cfg
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	return &http.Transport{
		Proxy: p.proxy,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec
		},
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}
}

// Hosts - количество созданных пулов
func (p *Pools) Hosts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close закрывает idle соединения всех пулов (graceful shutdown)
func (p *Pools) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}
