package consumer

import (
	"context"
	"errors"

	"strata/internal/telemetry"
)

// PollLoop drives one logical stream of deliveries across the assigned
// partitions. Construct a new instance to restart the stream; an instance is
// not reusable after Close.
type PollLoop struct {
	cfg     PollConfig
	sup     *ConnectionSupervisor
	tracker *AssignmentTracker
	ledger  *OffsetLedger
	limiter *inflight // nil when max_in_flight is 0

	rr int
}

func NewPollLoop(cfg PollConfig, sup *ConnectionSupervisor, tracker *AssignmentTracker, ledger *OffsetLedger) *PollLoop {
	p := &PollLoop{cfg: cfg, sup: sup, tracker: tracker, ledger: ledger}
	if cfg.MaxInFlight > 0 {
		p.limiter = newInflight(cfg.MaxInFlight)
	}
	return p
}

// Next blocks until a message is available or ctx ends. When no partitions
// are assigned within the assignment timeout it returns
// AssignmentTimeoutError so the caller can decide whether to keep waiting.
// Cancellation releases the underlying session.
func (p *PollLoop) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = p.sup.Close()
			return Message{}, err
		}

		actx, cancel := context.WithTimeout(ctx, p.cfg.AssignmentTimeout)
		assign, err := p.tracker.NonEmpty(actx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				_ = p.sup.Close()
				return Message{}, ctx.Err()
			}
			return Message{}, &AssignmentTimeoutError{Wait: p.cfg.AssignmentTimeout}
		}

		conn, err := p.sup.Conn(ctx)
		if err != nil {
			return Message{}, err
		}
		p.ledger.Bind(conn)

		tps := assign.Partitions()
		tp := tps[p.rr%len(tps)]
		p.rr++

		cur, err := p.ledger.CursorFor(tp)
		if err != nil {
			if errors.Is(err, ErrNoCursor) || isTransient(err) {
				if isTransient(err) {
					p.sup.Discard(conn)
				}
				continue
			}
			return Message{}, err
		}

		if p.limiter != nil {
			if err := p.limiter.acquire(ctx); err != nil {
				return Message{}, err
			}
		}

		msg, err := conn.Fetch(ctx, tp, cur.NextOffset, p.cfg.FetchTimeout)
		if err != nil {
			p.releaseToken()
			switch {
			case errors.Is(err, ErrNoMessage):
				continue
			case isTransient(err):
				p.sup.Discard(conn)
				continue
			case ctx.Err() != nil:
				_ = p.sup.Close()
				return Message{}, ctx.Err()
			default:
				return Message{}, err
			}
		}

		if !p.tracker.snapshot().Contains(msg.TP) {
			// Revoked while in flight: drop without advancing. The partition's
			// new owner redelivers from its committed offset.
			p.releaseToken()
			telemetry.RevokedDiscards.Inc()
			continue
		}

		if err := p.ledger.Advance(msg.TP, msg.Offset); err != nil {
			p.releaseToken()
			if errors.Is(err, ErrNoCursor) {
				telemetry.RevokedDiscards.Inc()
				continue
			}
			return Message{}, err
		}

		telemetry.MessagesConsumed.WithLabelValues(msg.TP.Topic).Inc()
		return msg, nil
	}
}

// Ack records successful processing; acked offsets become eligible for
// ledger persistence. Delivery is at-least-once: an unacked message is
// redelivered only after a restart, never mid-session.
func (p *PollLoop) Ack(msg Message) {
	p.ledger.MarkAcked(msg.TP, msg.Offset)
	p.releaseToken()
}

// Nack abandons a delivered message without recording it. The in-flight slot
// is freed; the offset stays unacked and is redelivered after a restart.
func (p *PollLoop) Nack(Message) {
	p.releaseToken()
}

// Close releases the underlying session.
func (p *PollLoop) Close() error {
	if p.limiter != nil {
		p.limiter.close()
	}
	return p.sup.Close()
}

func (p *PollLoop) releaseToken() {
	if p.limiter != nil {
		p.limiter.release()
	}
}
