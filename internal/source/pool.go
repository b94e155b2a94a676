package source

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// ConnectionPool centralizes HTTP transport creation across adapters:
// each source name gets one *http.Client and transport, created on first
// use and reused for every later call from that source.
// Grounded on the teacher's provider.ConnectionPool, trimmed to the
// knobs this service actually tunes.
type ConnectionPool struct {
	mu      sync.RWMutex
	clients map[string]*http.Client
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{clients: make(map[string]*http.Client)}
}

// Client returns the shared *http.Client for a source name, creating one
// on first access bound to the given per-source timeout.
func (p *ConnectionPool) Client(sourceName string, timeout time.Duration) *http.Client {
	p.mu.RLock()
	if c, ok := p.clients[sourceName]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[sourceName]; ok {
		return c
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		MaxConnsPerHost:     64,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	client := &http.Client{Transport: transport, Timeout: timeout}
	p.clients[sourceName] = client
	return client
}

// Close releases idle connections held by every pooled client.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if t, ok := c.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}
