package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"strata/internal/logging"
	"strata/internal/telemetry"
)

// Mode selects how a new cursor is seeded.
type Mode string

const (
	ModeEarliest Mode = "earliest" // oldest retained offset
	ModeLatest   Mode = "latest"   // current log end
	ModeLedger   Mode = "ledger"   // last persisted committed offset
)

// Cursor is the next-offset-to-read state for one assigned partition.
// NextOffset is monotonically non-decreasing for the cursor's lifetime.
type Cursor struct {
	TP         TopicPartition
	NextOffset int64
	Mode       Mode
}

// OffsetLookup resolves log boundaries; satisfied by Conn.
type OffsetLookup interface {
	OldestOffset(tp TopicPartition) (int64, error)
	NewestOffset(tp TopicPartition) (int64, error)
}

// OffsetLedger owns per-partition read cursors plus the acked offsets that
// get persisted for ledger-mode resumption. Exactly one cursor exists per
// assigned partition; cursors are created lazily and dropped on revocation.
type OffsetLedger struct {
	mode      Mode
	lookahead int64
	file      *LedgerFile // nil disables persistence

	mu      sync.Mutex
	lookup  OffsetLookup
	cursors map[TopicPartition]*Cursor
	acked   map[TopicPartition]int64
	dirty   bool
}

func NewOffsetLedger(mode Mode, lookahead int64, file *LedgerFile) (*OffsetLedger, error) {
	l := &OffsetLedger{
		mode:      mode,
		lookahead: lookahead,
		file:      file,
		cursors:   map[TopicPartition]*Cursor{},
		acked:     map[TopicPartition]int64{},
	}
	if file != nil {
		committed, err := file.Load()
		if err != nil {
			return nil, err
		}
		l.acked = committed
	}
	return l, nil
}

// Bind supplies the offset lookup used to seed new cursors. The poll loop
// rebinds whenever a session is (re)established.
func (l *OffsetLedger) Bind(lu OffsetLookup) {
	l.mu.Lock()
	l.lookup = lu
	l.mu.Unlock()
}

// CursorFor returns a snapshot of tp's cursor, creating and seeding one on
// first use.
func (l *OffsetLedger) CursorFor(tp TopicPartition) (Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.cursors[tp]; ok {
		return *c, nil
	}
	next, err := l.seed(tp)
	if err != nil {
		return Cursor{}, err
	}
	c := &Cursor{TP: tp, NextOffset: next, Mode: l.mode}
	l.cursors[tp] = c
	return *c, nil
}

// seed is called with l.mu held.
func (l *OffsetLedger) seed(tp TopicPartition) (int64, error) {
	switch l.mode {
	case ModeLatest:
		if l.lookup == nil {
			return 0, &FatalError{Op: "ledger", Err: errors.New("no offset lookup bound")}
		}
		return l.lookup.NewestOffset(tp)
	case ModeLedger:
		if off, ok := l.acked[tp]; ok {
			return off + 1, nil
		}
		fallthrough // nothing persisted for tp: start from the beginning
	default:
		if l.lookup == nil {
			return 0, &FatalError{Op: "ledger", Err: errors.New("no offset lookup bound")}
		}
		return l.lookup.OldestOffset(tp)
	}
}

// Advance moves tp's cursor past deliveredOffset. The delivered offset must
// not skip ahead of the cursor, and may lag it by at most the configured
// lookahead; anything else would silently lose unacknowledged messages.
func (l *OffsetLedger) Advance(tp TopicPartition, deliveredOffset int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cursors[tp]
	if !ok {
		return ErrNoCursor
	}
	if deliveredOffset > c.NextOffset || deliveredOffset < c.NextOffset-l.lookahead {
		return &InvalidOffsetError{TP: tp, Delivered: deliveredOffset, Next: c.NextOffset}
	}
	if next := deliveredOffset + 1; next > c.NextOffset {
		c.NextOffset = next
	}
	return nil
}

// ResetToBeginning rewinds tp to the oldest retained offset for a full
// replay. The old cursor is discarded; persisted acked state for tp with it.
func (l *OffsetLedger) ResetToBeginning(tp TopicPartition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lookup == nil {
		return &FatalError{Op: "ledger", Err: errors.New("no offset lookup bound")}
	}
	oldest, err := l.lookup.OldestOffset(tp)
	if err != nil {
		return err
	}
	l.cursors[tp] = &Cursor{TP: tp, NextOffset: oldest, Mode: l.mode}
	delete(l.acked, tp)
	l.dirty = true
	return nil
}

// MarkAcked records a caller acknowledgment. Acked offsets are what the
// ledger persists; in-session cursor advance stays local (at-least-once).
func (l *OffsetLedger) MarkAcked(tp TopicPartition, offset int64) {
	l.mu.Lock()
	if cur, ok := l.acked[tp]; !ok || offset > cur {
		l.acked[tp] = offset
		l.dirty = true
	}
	l.mu.Unlock()
}

// Cursors returns a snapshot of all live cursors.
func (l *OffsetLedger) Cursors() []Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Cursor, 0, len(l.cursors))
	for _, c := range l.cursors {
		out = append(out, *c)
	}
	return out
}

// Revoked implements AssignmentListener: drop the cursors for partitions we
// no longer own, then flush acked offsets so a future owner can resume.
func (l *OffsetLedger) Revoked(tps []TopicPartition) {
	l.mu.Lock()
	for _, tp := range tps {
		delete(l.cursors, tp)
	}
	l.mu.Unlock()
	if err := l.Flush(); err != nil {
		logging.L().Error("ledger flush on revoke failed", "err", err)
	}
}

// Granted implements AssignmentListener. Cursors are created lazily on first
// CursorFor, so nothing to do here.
func (l *OffsetLedger) Granted([]TopicPartition) {}

// Flush persists acked offsets when a ledger file is configured.
func (l *OffsetLedger) Flush() error {
	l.mu.Lock()
	if l.file == nil || !l.dirty {
		l.mu.Unlock()
		return nil
	}
	snap := make(map[TopicPartition]int64, len(l.acked))
	for tp, off := range l.acked {
		snap[tp] = off
	}
	l.dirty = false
	l.mu.Unlock()

	if err := l.file.Store(snap); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return err
	}
	telemetry.LedgerCommits.Inc()
	return nil
}

// Run flushes on the commit interval until ctx ends, then flushes one final
// time.
func (l *OffsetLedger) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := l.Flush(); err != nil {
				return err
			}
			return ctx.Err()
		case <-t.C:
			if err := l.Flush(); err != nil {
				logging.L().Error("ledger commit failed", "err", err)
			}
		}
	}
}
