package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"strata/internal/logging"
	"strata/internal/telemetry"
)

// ConnectionSupervisor owns the authenticated session and re-establishes it
// with jittered exponential backoff on transient failure. Fatal and
// authentication errors propagate immediately and terminate the attempt.
type ConnectionSupervisor struct {
	cfg    BackoffConfig
	creds  *CredentialManager
	broker Broker

	mu   sync.Mutex
	conn Conn

	sleep func(context.Context, time.Duration) error
}

func NewConnectionSupervisor(cfg BackoffConfig, creds *CredentialManager, broker Broker) *ConnectionSupervisor {
	return &ConnectionSupervisor{cfg: cfg, creds: creds, broker: broker, sleep: sleepCtx}
}

// Conn returns the active session, dialing one first if needed.
func (s *ConnectionSupervisor) Conn(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func (s *ConnectionSupervisor) connect(ctx context.Context) (Conn, error) {
	bo := newBackoff(s.cfg.Base, s.cfg.Cap, s.cfg.Factor)
	for attempt := 1; ; attempt++ {
		cred, err := s.creds.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		conn, err := s.broker.Connect(ctx, cred)
		if err == nil {
			logging.L().Info("broker session established", "attempt", attempt)
			return conn, nil
		}
		var te *TransientError
		if !errors.As(err, &te) {
			return nil, err
		}
		if s.cfg.MaxRetries > 0 && attempt >= s.cfg.MaxRetries {
			return nil, fmt.Errorf("connect: retries exhausted after %d attempts: %w", attempt, err)
		}
		d := bo.duration()
		telemetry.ConnectRetries.Inc()
		logging.L().Warn("broker connect failed; backing off", "attempt", attempt, "delay", d, "err", err)
		if err := s.sleep(ctx, d); err != nil {
			return nil, err
		}
	}
}

// Discard drops a broken session so the next Conn call redials.
func (s *ConnectionSupervisor) Discard(conn Conn) {
	if conn == nil {
		return
	}
	s.mu.Lock()
	owned := s.conn == conn
	if owned {
		s.conn = nil
	}
	s.mu.Unlock()
	if owned {
		_ = conn.Close()
	}
}

func (s *ConnectionSupervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
