package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testPollConfig() PollConfig {
	return PollConfig{
		AssignmentTimeout: time.Second,
		FetchTimeout:      20 * time.Millisecond,
	}
}

func newTestLoop(t *testing.T, broker *fakeBroker, mode Mode) (*PollLoop, *AssignmentTracker, *OffsetLedger) {
	t.Helper()
	ledger, err := NewOffsetLedger(mode, 0, nil)
	if err != nil {
		t.Fatalf("NewOffsetLedger: %v", err)
	}
	sup := NewConnectionSupervisor(BackoffConfig{Base: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond}, plainCreds(), broker)
	tracker := NewAssignmentTracker()
	tracker.Notify(ledger)
	return NewPollLoop(testPollConfig(), sup, tracker, ledger), tracker, ledger
}

func TestPollLoop_DeliversRetainedMessagesInOrder(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	conn := newFakeConn(map[string][]int32{"t": {0}})
	conn.append(tp, 10, "a")
	conn.append(tp, 11, "b")
	conn.append(tp, 12, "c")

	loop, tracker, ledger := newTestLoop(t, &fakeBroker{conn: conn}, ModeEarliest)
	tracker.Subscribe("t")
	tracker.Replace(Assignment{tp: {}})

	ctx := context.Background()
	for _, want := range []int64{10, 11, 12} {
		msg, err := loop.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if msg.Offset != want {
			t.Fatalf("offset = %d, want %d", msg.Offset, want)
		}
		if msg.TP != tp {
			t.Fatalf("tp = %v, want %v", msg.TP, tp)
		}
		loop.Ack(msg)
	}

	cur, err := ledger.CursorFor(tp)
	if err != nil {
		t.Fatalf("CursorFor: %v", err)
	}
	if cur.NextOffset != 13 {
		t.Fatalf("next = %d after draining, want 13", cur.NextOffset)
	}
}

func TestPollLoop_AssignmentTimeoutIsEmptyYield(t *testing.T) {
	conn := newFakeConn(map[string][]int32{})
	loop, _, _ := newTestLoop(t, &fakeBroker{conn: conn}, ModeEarliest)
	loop.cfg.AssignmentTimeout = 30 * time.Millisecond

	_, err := loop.Next(context.Background())
	var ate *AssignmentTimeoutError
	if !errors.As(err, &ate) {
		t.Fatalf("want AssignmentTimeoutError, got %v", err)
	}
	if ate.Wait != 30*time.Millisecond {
		t.Fatalf("reported wait %v, want 30ms", ate.Wait)
	}
}

func TestPollLoop_DiscardsMessageRevokedMidFlight(t *testing.T) {
	p0 := TopicPartition{Topic: "t", Partition: 0}
	p1 := TopicPartition{Topic: "t", Partition: 1}
	conn := newFakeConn(map[string][]int32{"t": {0, 1}})
	conn.append(p0, 10, "a")

	loop, tracker, ledger := newTestLoop(t, &fakeBroker{conn: conn}, ModeEarliest)
	tracker.Subscribe("t")
	tracker.Replace(Assignment{p0: {}, p1: {}})

	// Revoke p0 after its message has been fetched but before delivery.
	var once sync.Once
	conn.afterFetch = func(m Message) {
		if m.TP == p0 {
			once.Do(func() { tracker.Replace(Assignment{p1: {}}) })
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := loop.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("the in-flight message must be dropped, got err %v", err)
	}

	for _, c := range ledger.Cursors() {
		if c.TP == p0 {
			t.Fatalf("revoked partition still has a cursor: %+v", c)
		}
	}
}

func TestPollLoop_RoundRobinAcrossPartitions(t *testing.T) {
	p0 := TopicPartition{Topic: "t", Partition: 0}
	p1 := TopicPartition{Topic: "t", Partition: 1}
	conn := newFakeConn(map[string][]int32{"t": {0, 1}})
	conn.append(p0, 0, "a0")
	conn.append(p1, 0, "b0")

	loop, tracker, _ := newTestLoop(t, &fakeBroker{conn: conn}, ModeEarliest)
	tracker.Subscribe("t")
	tracker.Replace(Assignment{p0: {}, p1: {}})

	seen := map[TopicPartition]bool{}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		msg, err := loop.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[msg.TP] = true
		loop.Ack(msg)
	}
	if !seen[p0] || !seen[p1] {
		t.Fatalf("both partitions should be served, got %v", seen)
	}
}

func TestPollLoop_ReconnectsAfterTransientFetchFailure(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	conn := newFakeConn(map[string][]int32{"t": {0}})
	conn.append(tp, 0, "a")

	broker := &fakeBroker{conn: conn, errs: []error{
		&TransientError{Op: "connect", Err: errors.New("broker unavailable")},
	}}
	loop, tracker, _ := newTestLoop(t, broker, ModeEarliest)
	tracker.Subscribe("t")
	tracker.Replace(Assignment{tp: {}})

	msg, err := loop.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Offset != 0 {
		t.Fatalf("offset = %d, want 0", msg.Offset)
	}
	if broker.connectAttempts() != 2 {
		t.Fatalf("attempts = %d, want 2", broker.connectAttempts())
	}
}

func TestPollLoop_CancellationReleasesConnection(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	conn := newFakeConn(map[string][]int32{"t": {0}})
	loop, tracker, _ := newTestLoop(t, &fakeBroker{conn: conn}, ModeEarliest)
	tracker.Subscribe("t")
	tracker.Replace(Assignment{tp: {}})

	// Establish the session with one delivered message absent; Next will spin
	// on empty fetches until cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if _, err := loop.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if !conn.closed {
		t.Fatal("cancellation must release the connection")
	}
}

func TestPollLoop_InFlightCapBlocksUntilAck(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	conn := newFakeConn(map[string][]int32{"t": {0}})
	conn.append(tp, 0, "a")
	conn.append(tp, 1, "b")

	ledger, err := NewOffsetLedger(ModeEarliest, 0, nil)
	if err != nil {
		t.Fatalf("NewOffsetLedger: %v", err)
	}
	sup := NewConnectionSupervisor(BackoffConfig{Base: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond}, plainCreds(), &fakeBroker{conn: conn})
	tracker := NewAssignmentTracker()
	tracker.Notify(ledger)
	cfg := testPollConfig()
	cfg.MaxInFlight = 1
	loop := NewPollLoop(cfg, sup, tracker, ledger)

	tracker.Subscribe("t")
	tracker.Replace(Assignment{tp: {}})

	first, err := loop.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := loop.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second delivery should block on the in-flight cap, got %v", err)
	}

	loop.Ack(first)
	second, err := loop.Next(context.Background())
	if err != nil {
		t.Fatalf("Next after ack: %v", err)
	}
	if second.Offset != 1 {
		t.Fatalf("offset = %d, want 1", second.Offset)
	}
}

func TestPollLoop_NackFreesInFlightSlot(t *testing.T) {
	tp := TopicPartition{Topic: "t", Partition: 0}
	conn := newFakeConn(map[string][]int32{"t": {0}})
	conn.append(tp, 0, "a")
	conn.append(tp, 1, "b")

	ledger, err := NewOffsetLedger(ModeEarliest, 0, nil)
	if err != nil {
		t.Fatalf("NewOffsetLedger: %v", err)
	}
	sup := NewConnectionSupervisor(BackoffConfig{Base: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond}, plainCreds(), &fakeBroker{conn: conn})
	tracker := NewAssignmentTracker()
	tracker.Notify(ledger)
	cfg := testPollConfig()
	cfg.MaxInFlight = 1
	loop := NewPollLoop(cfg, sup, tracker, ledger)

	tracker.Subscribe("t")
	tracker.Replace(Assignment{tp: {}})

	first, err := loop.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	loop.Nack(first)

	second, err := loop.Next(context.Background())
	if err != nil {
		t.Fatalf("Next after nack: %v", err)
	}
	if second.Offset != 1 {
		t.Fatalf("offset = %d, want 1", second.Offset)
	}
}
