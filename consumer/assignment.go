package consumer

import (
	"context"
	"sort"
	"sync"
	"time"

	"strata/internal/logging"
	"strata/internal/telemetry"
)

// AssignmentListener observes partition ownership changes. Revoked is always
// delivered before Granted for the same rebalance so per-partition state can
// be flushed before new partitions are adopted.
type AssignmentListener interface {
	Revoked(tps []TopicPartition)
	Granted(tps []TopicPartition)
}

// AssignmentTracker owns the set of partitions this consumer instance reads.
// The set is replaced atomically; readers never observe a partial update.
type AssignmentTracker struct {
	mu        sync.Mutex
	topics    []string
	cur       Assignment
	seeded    bool
	changed   chan struct{}
	ready     chan struct{}
	once      sync.Once
	listeners []AssignmentListener
}

func NewAssignmentTracker() *AssignmentTracker {
	return &AssignmentTracker{
		changed: make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Subscribe registers interest in topics. Call before Watch.
func (t *AssignmentTracker) Subscribe(topics ...string) {
	t.mu.Lock()
	t.topics = append([]string(nil), topics...)
	t.mu.Unlock()
}

func (t *AssignmentTracker) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.topics...)
}

// Notify registers a listener for rebalance notifications.
func (t *AssignmentTracker) Notify(l AssignmentListener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Current returns the latest known assignment, blocking callers who ask
// before the first one has been received.
func (t *AssignmentTracker) Current(ctx context.Context) (Assignment, error) {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return t.snapshot(), nil
}

// NonEmpty blocks until the assignment contains at least one partition.
func (t *AssignmentTracker) NonEmpty(ctx context.Context) (Assignment, error) {
	for {
		t.mu.Lock()
		a, ch, seeded := t.cur, t.changed, t.seeded
		t.mu.Unlock()
		if seeded && len(a) > 0 {
			return a, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *AssignmentTracker) snapshot() Assignment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Replace installs next as the whole assignment and notifies listeners with
// the revoked and granted partitions, revoked first. The caller must not
// mutate next afterwards. Replace is driven by a single watcher goroutine;
// the lock is held only for the swap itself.
func (t *AssignmentTracker) Replace(next Assignment) {
	if next == nil {
		next = Assignment{}
	}

	t.mu.Lock()
	prev := t.cur
	var revoked, granted []TopicPartition
	for tp := range prev {
		if !next.Contains(tp) {
			revoked = append(revoked, tp)
		}
	}
	for tp := range next {
		if !prev.Contains(tp) {
			granted = append(granted, tp)
		}
	}
	t.cur = next
	t.seeded = true
	close(t.changed)
	t.changed = make(chan struct{})
	ls := append([]AssignmentListener(nil), t.listeners...)
	t.mu.Unlock()

	t.once.Do(func() { close(t.ready) })
	telemetry.AssignedPartitions.Set(float64(len(next)))

	sortTPs(revoked)
	sortTPs(granted)
	if len(revoked) > 0 {
		for _, l := range ls {
			l.Revoked(revoked)
		}
	}
	if len(granted) > 0 {
		for _, l := range ls {
			l.Granted(granted)
		}
	}
	if len(revoked) > 0 || len(granted) > 0 {
		logging.L().Info("assignment replaced", "owned", len(next), "revoked", len(revoked), "granted", len(granted))
	}
}

// Watch refreshes the assignment from broker metadata until ctx ends. With
// client-side assignment, a partition-count change is the rebalance event.
// Transient refresh failures drop the session and wait for the next tick.
func (t *AssignmentTracker) Watch(ctx context.Context, sup *ConnectionSupervisor, interval time.Duration) error {
	if err := t.refresh(ctx, sup); err != nil {
		return err
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := t.refresh(ctx, sup); err != nil {
				return err
			}
		}
	}
}

func (t *AssignmentTracker) refresh(ctx context.Context, sup *ConnectionSupervisor) error {
	conn, err := sup.Conn(ctx)
	if err != nil {
		return err
	}
	next := Assignment{}
	for _, topic := range t.Topics() {
		parts, err := conn.Partitions(topic)
		if err != nil {
			if isTransient(err) {
				logging.L().Warn("metadata refresh failed", "topic", topic, "err", err)
				sup.Discard(conn)
				return nil
			}
			return err
		}
		for _, p := range parts {
			next[TopicPartition{Topic: topic, Partition: p}] = struct{}{}
		}
	}
	t.mu.Lock()
	same := t.seeded && t.cur.equal(next)
	t.mu.Unlock()
	if !same {
		t.Replace(next)
	}
	return nil
}

func sortTPs(tps []TopicPartition) {
	sort.Slice(tps, func(i, j int) bool {
		if tps[i].Topic != tps[j].Topic {
			return tps[i].Topic < tps[j].Topic
		}
		return tps[i].Partition < tps[j].Partition
	})
}
