package ghes

import (
	"fmt"
	"time"
)

// Pool hands out Clients to concurrent workers. All members share one
// SearchThrottle so the search spacing holds pool-wide. Checkout order is
// FIFO via a buffered channel.
type Pool struct {
	clients chan *Client
	size    int
}

// NewPool builds size clients from opts, wired to a single shared throttle.
func NewPool(size int, opts Options) *Pool {
	if size < 1 {
		size = 1
	}
	if opts.Throttle == nil {
		opts.Throttle = NewSearchThrottle(opts.SearchInterval)
	}
	p := &Pool{
		clients: make(chan *Client, size),
		size:    size,
	}
	for i := 0; i < size; i++ {
		p.clients <- NewClient(opts)
	}
	return p
}

// Acquire checks out a client, waiting up to timeout when all are busy.
func (p *Pool) Acquire(timeout time.Duration) (*Client, error) {
	select {
	case c := <-p.clients:
		return c, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("ghes pool: no client available after %s (%d in use)", timeout, p.size)
	}
}

// Release returns a client to the pool.
func (p *Pool) Release(c *Client) {
	if c == nil {
		return
	}
	p.clients <- c
}

// Size reports the pool capacity.
func (p *Pool) Size() int { return p.size }
