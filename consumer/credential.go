package consumer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"strata/internal/logging"
	"strata/internal/telemetry"
)

// Credential is an authenticated identity backed by a Kerberos ticket.
// Never mutated in place; renewal replaces it wholesale.
type Credential struct {
	Principal  string
	KeytabPath string
	ExpiresAt  time.Time
}

func (c Credential) valid(margin time.Duration) bool {
	return !c.ExpiresAt.IsZero() && time.Until(c.ExpiresAt) > margin
}

// CredentialManager owns the keytab identity and keeps a ticket fresh by
// invoking the external renewal command. At most one renewal runs at a time;
// concurrent callers share its outcome.
type CredentialManager struct {
	cfg SASLConfig

	cur  atomic.Value  // Credential
	slot chan struct{} // renewal slot, capacity 1
}

func NewCredentialManager(cfg SASLConfig) *CredentialManager {
	return &CredentialManager{cfg: cfg, slot: make(chan struct{}, 1)}
}

// Acquire returns a valid credential, renewing first when the current one is
// absent or inside the expiry margin. Blocks until renewal completes or ctx
// ends. Non-GSSAPI mechanisms carry static credentials with nothing to renew.
func (m *CredentialManager) Acquire(ctx context.Context) (Credential, error) {
	if m.cfg.Mechanism != MechanismGSSAPI {
		return Credential{Principal: m.cfg.User}, nil
	}
	if c, ok := m.cur.Load().(Credential); ok && c.valid(m.cfg.ExpiryMargin) {
		return c, nil
	}

	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
	defer func() { <-m.slot }()

	// Another caller may have finished renewing while we waited for the slot.
	if c, ok := m.cur.Load().(Credential); ok && c.valid(m.cfg.ExpiryMargin) {
		return c, nil
	}
	return m.renew(ctx)
}

func (m *CredentialManager) renew(ctx context.Context) (Credential, error) {
	rctx := ctx
	if m.cfg.RenewTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, m.cfg.RenewTimeout)
		defer cancel()
	}

	argv := strings.Fields(m.cfg.RenewCommand)
	cmd := exec.CommandContext(rctx, argv[0], append(argv[1:], renewArgs(m.cfg)...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Credential{}, &AuthenticationError{
			Principal: m.cfg.Principal,
			Err:       fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out))),
		}
	}

	c := Credential{
		Principal:  m.cfg.Principal,
		KeytabPath: m.cfg.KeytabPath,
		ExpiresAt:  time.Now().Add(m.cfg.TicketLifetime),
	}
	m.cur.Store(c)
	telemetry.CredentialRenewals.Inc()
	logging.L().Info("credential renewed", "principal", c.Principal, "expires_at", c.ExpiresAt)
	return c, nil
}

func renewArgs(cfg SASLConfig) []string {
	args := []string{"-k", "-t", cfg.KeytabPath}
	if cfg.TicketCache != "" {
		args = append(args, "-c", cfg.TicketCache)
	}
	return append(args, cfg.Principal)
}

// Run renews in the background ahead of expiry so the poll path rarely has to
// block on a ticket. Returns on ctx cancellation or the first failed renewal.
func (m *CredentialManager) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.RenewInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := m.Acquire(ctx); err != nil {
				return err
			}
		}
	}
}
