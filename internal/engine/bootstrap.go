package engine

import (
	"context"
	"fmt"

	"strata/consumer"
	"strata/internal/config"
	"strata/internal/telemetry"
	"strata/internal/transport"
)

type Config struct {
	MetricsPort int
	HealthPort  int
	ConsumerYml string
	// Handle receives each delivered message; a nil error acks it.
	Handle func(consumer.Message) error
}

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	ccfg, err := config.LoadConsumerConfig(cfg.ConsumerYml)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	broker, err := consumer.NewBroker(ccfg.Driver, ccfg)
	if err != nil {
		return nil, err
	}

	var file *consumer.LedgerFile
	if ccfg.Ledger.Path != "" {
		file = consumer.NewLedgerFile(ccfg.Ledger.Path)
	}
	ledger, err := consumer.NewOffsetLedger(consumer.Mode(ccfg.StartFrom), ccfg.Ledger.Lookahead, file)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	creds := consumer.NewCredentialManager(ccfg.SASL)
	sup := consumer.NewConnectionSupervisor(ccfg.Backoff, creds, broker)

	tracker := consumer.NewAssignmentTracker()
	tracker.Subscribe(ccfg.Topics...)
	tracker.Notify(ledger)

	loop := consumer.NewPollLoop(ccfg.Poll, sup, tracker, ledger)

	srv, err := transport.StartServer(cfg.HealthPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	telemetry.Expose(cfg.MetricsPort)

	return &Engine{
		transport: srv,
		ccfg:      ccfg,
		creds:     creds,
		sup:       sup,
		tracker:   tracker,
		ledger:    ledger,
		loop:      loop,
		handle:    cfg.Handle,
	}, nil
}
