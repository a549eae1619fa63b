// Package rpc is a small JSON-RPC client for the per-workspace EVM nodes.
//
// Each workspace brings its own endpoint. Pool hands out one Client per
// endpoint so connections are reused across jobs.
package rpc

import (
	"sync"
	"time"
)

// Pool caches clients by endpoint URL.
type Pool struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a pool whose clients use the given per-request timeout.
func NewPool(timeout time.Duration) *Pool {
	return &Pool{
		timeout: timeout,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for endpoint, creating it on first use.
func (p *Pool) Get(endpoint string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[endpoint]; ok {
		return c
	}
	c := NewClient(endpoint, p.timeout)
	p.clients[endpoint] = c
	return c
}

// Close releases idle connections of every cached client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.Close()
	}
}
