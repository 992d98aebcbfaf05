package backend

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// TransportConfig tunes a shared HTTP transport for a backend dispatcher.
// Dispatcher authors are not required to use this; it exists so a real
// HTTP-based Dispatcher implementation doesn't need to hand-roll pool
// tuning, and so independent backends don't starve each other's
// connection pools.
type TransportConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ResponseHeaderTimeout time.Duration
	ForceHTTP2            bool
}

// DefaultTransportConfig returns production-grade pool defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		MaxConnsPerHost:     64,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		ForceHTTP2:          true,
	}
}

// HTTPDispatcherSupport holds one shared http.Transport per backend ID so
// that multiple concurrently-invoked Dispatch calls against the same
// backend reuse connections instead of each allocating its own transport.
// The core never constructs one of these itself — it is exported for
// Dispatcher implementations built outside the core.
type HTTPDispatcherSupport struct {
	mu         sync.RWMutex
	transports map[string]*http.Transport
	configs    map[string]TransportConfig
	defaults   TransportConfig
}

// NewHTTPDispatcherSupport creates a transport pool with the given
// defaults, applied to any backend ID that hasn't been given an override
// via Configure.
func NewHTTPDispatcherSupport(defaults TransportConfig) *HTTPDispatcherSupport {
	return &HTTPDispatcherSupport{
		transports: make(map[string]*http.Transport),
		configs:    make(map[string]TransportConfig),
		defaults:   defaults,
	}
}

// Configure sets a per-backend transport override, invalidating any
// previously created transport for that backend.
func (p *HTTPDispatcherSupport) Configure(backendID string, cfg TransportConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[backendID] = cfg
	delete(p.transports, backendID)
}

// Transport returns the shared *http.Transport for backendID, creating it
// from the backend's override config (or the pool defaults) on first use.
func (p *HTTPDispatcherSupport) Transport(backendID string) *http.Transport {
	p.mu.RLock()
	if t, ok := p.transports[backendID]; ok {
		p.mu.RUnlock()
		return t
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.transports[backendID]; ok {
		return t
	}

	cfg, ok := p.configs[backendID]
	if !ok {
		cfg = p.defaults
	}
	t := buildTransport(cfg)
	p.transports[backendID] = t
	return t
}

// Close releases idle connections across every pooled transport.
func (p *HTTPDispatcherSupport) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}

func buildTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}

	t := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}
	if cfg.ForceHTTP2 {
		t.TLSClientConfig = &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
			MinVersion: tls.VersionTLS12,
		}
		t.ForceAttemptHTTP2 = true
	}
	return t
}
