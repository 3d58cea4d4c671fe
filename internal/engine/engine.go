package engine

import (
	"context"
	"errors"

	"strata/consumer"
	"strata/internal/logging"
	"strata/internal/transport"
)

type Engine struct {
	transport *transport.Server
	ccfg      consumer.Config
	creds     *consumer.CredentialManager
	sup       *consumer.ConnectionSupervisor
	tracker   *consumer.AssignmentTracker
	ledger    *consumer.OffsetLedger
	loop      *consumer.PollLoop
	handle    func(consumer.Message) error
}

// Run drives the poll loop until ctx ends, acking each message the handler
// accepts. Background goroutines keep credentials fresh, the assignment
// current, and the ledger flushed.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		e.transport.Stop()
	}()
	go func() {
		if err := e.transport.Serve(); err != nil {
			logging.L().Error("transport serve failed", "err", err)
		}
	}()

	if e.ccfg.SASL.Mechanism == consumer.MechanismGSSAPI {
		go func() {
			if err := e.creds.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.L().Error("credential renewal stopped", "err", err)
				cancel()
			}
		}()
	}
	go func() {
		if err := e.tracker.Watch(ctx, e.sup, e.ccfg.Poll.RefreshInterval); err != nil && !errors.Is(err, context.Canceled) {
			logging.L().Error("assignment watch stopped", "err", err)
			cancel()
		}
	}()
	go func() { _ = e.ledger.Run(ctx, e.ccfg.Ledger.CommitInterval) }()

	defer func() { _ = e.loop.Close() }()
	defer e.transport.SetServing(false)

	for {
		msg, err := e.loop.Next(ctx)
		if err != nil {
			var ate *consumer.AssignmentTimeoutError
			switch {
			case errors.As(err, &ate):
				logging.L().Warn("no partitions assigned yet", "waited", ate.Wait)
				continue
			case ctx.Err() != nil:
				return e.ledger.Flush()
			default:
				return err
			}
		}
		e.transport.SetServing(true)

		if err := e.handle(msg); err != nil {
			// Not acked; the ledger won't persist the offset, so the message
			// is redelivered after a restart.
			logging.L().Error("handler failed", "tp", msg.TP, "offset", msg.Offset, "err", err)
			e.loop.Nack(msg)
			continue
		}
		e.loop.Ack(msg)
	}
}
