package apiclient

import "sync"

// Pool shares one Client per key so repeated calls against the same endpoint
// share its interval limiter and breaker.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func NewPool() *Pool {
	return &Pool{clients: make(map[string]*Client)}
}

// Get returns the client cached under key, building it on first use.
func (p *Pool) Get(key string, build func() *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}
	c := build()
	p.clients[key] = c
	return c
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
