package consumer

import (
	"context"
	"sync"
	"time"
)

// fakeConn is an in-memory transport session with per-partition retained
// message logs.
type fakeConn struct {
	mu         sync.Mutex
	parts      map[string][]int32
	logs       map[TopicPartition][]Message
	closed     bool
	afterFetch func(Message) // invoked before a fetched message is returned
}

func newFakeConn(parts map[string][]int32) *fakeConn {
	return &fakeConn{parts: parts, logs: map[TopicPartition][]Message{}}
}

func (c *fakeConn) append(tp TopicPartition, offset int64, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[tp] = append(c.logs[tp], Message{
		TP:        tp,
		Offset:    offset,
		Value:     []byte(value),
		Timestamp: time.Now(),
	})
}

func (c *fakeConn) Partitions(topic string) ([]int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parts[topic], nil
}

func (c *fakeConn) OldestOffset(tp TopicPartition) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.logs[tp]
	if len(log) == 0 {
		return 0, nil
	}
	return log[0].Offset, nil
}

func (c *fakeConn) NewestOffset(tp TopicPartition) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.logs[tp]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].Offset + 1, nil
}

func (c *fakeConn) Fetch(_ context.Context, tp TopicPartition, offset int64, _ time.Duration) (Message, error) {
	c.mu.Lock()
	var found Message
	ok := false
	for _, m := range c.logs[tp] {
		if m.Offset >= offset {
			found, ok = m, true
			break
		}
	}
	hook := c.afterFetch
	c.mu.Unlock()

	if !ok {
		return Message{}, ErrNoMessage
	}
	if hook != nil {
		hook(found)
	}
	return found, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// fakeBroker scripts connect outcomes: errors are consumed in order, then
// conn is returned.
type fakeBroker struct {
	mu       sync.Mutex
	conn     *fakeConn
	errs     []error
	attempts int
}

func (b *fakeBroker) Connect(context.Context, Credential) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return nil, err
	}
	return b.conn, nil
}

func (b *fakeBroker) connectAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func plainCreds() *CredentialManager {
	return NewCredentialManager(SASLConfig{Mechanism: MechanismPlain, User: "demo"})
}
