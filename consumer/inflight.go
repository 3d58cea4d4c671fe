package consumer

import (
	"context"
	"errors"
	"sync"
)

// inflight caps unacknowledged deliveries. A token is taken before a fetch
// and returned on Ack (or when the fetch yields nothing).
type inflight struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
}

func newInflight(capacity int64) *inflight {
	c := &inflight{capacity: capacity, tokens: capacity}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *inflight) acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.cond.Broadcast() })
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.tokens == 0 && ctx.Err() == nil && !c.closed {
		c.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed {
		return errors.New("consumer: in-flight limiter closed")
	}
	c.tokens--
	return nil
}

func (c *inflight) release() {
	c.mu.Lock()
	if c.tokens < c.capacity {
		c.tokens++
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *inflight) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}
