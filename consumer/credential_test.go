package consumer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeRenewScript(t *testing.T, body string) (script, countFile string) {
	t.Helper()
	dir := t.TempDir()
	countFile = filepath.Join(dir, "invocations")
	script = filepath.Join(dir, "renew.sh")
	content := "#!/bin/sh\necho run >> " + countFile + "\n" + body + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return script, countFile
}

func invocations(t *testing.T, countFile string) int {
	t.Helper()
	raw, err := os.ReadFile(countFile)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatalf("read count file: %v", err)
	}
	return len(strings.Split(strings.TrimSpace(string(raw)), "\n"))
}

func gssapiConfig(script string) SASLConfig {
	return SASLConfig{
		Mechanism:      MechanismGSSAPI,
		Principal:      "svc@EXAMPLE.COM",
		KeytabPath:     "/tmp/svc.keytab",
		RenewCommand:   script,
		RenewTimeout:   5 * time.Second,
		ExpiryMargin:   time.Minute,
		TicketLifetime: time.Hour,
		RenewInterval:  time.Hour,
	}
}

func TestCredentialManager_AcquireIdempotentWhileValid(t *testing.T) {
	script, countFile := writeRenewScript(t, "exit 0")
	m := NewCredentialManager(gssapiConfig(script))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		cred, err := m.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if cred.Principal != "svc@EXAMPLE.COM" {
			t.Fatalf("unexpected principal %q", cred.Principal)
		}
	}
	if got := invocations(t, countFile); got != 1 {
		t.Fatalf("renewal invoked %d times, want 1", got)
	}
}

func TestCredentialManager_RenewFailureIsAuthenticationError(t *testing.T) {
	script, _ := writeRenewScript(t, "exit 3")
	m := NewCredentialManager(gssapiConfig(script))

	_, err := m.Acquire(context.Background())
	var ae *AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("want AuthenticationError, got %v", err)
	}
	if ae.Principal != "svc@EXAMPLE.COM" {
		t.Fatalf("error missing principal: %v", ae)
	}
}

func TestCredentialManager_SingleFlightRenewal(t *testing.T) {
	script, countFile := writeRenewScript(t, "sleep 0.2\nexit 0")
	m := NewCredentialManager(gssapiConfig(script))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("waiter %d: %v", i, err)
		}
	}
	if got := invocations(t, countFile); got != 1 {
		t.Fatalf("renewal invoked %d times, want 1", got)
	}
}

func TestCredentialManager_NonGSSAPIIsStatic(t *testing.T) {
	m := NewCredentialManager(SASLConfig{
		Mechanism:    MechanismPlain,
		User:         "demo",
		RenewCommand: "/nonexistent/renew",
	})
	cred, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if cred.Principal != "demo" {
		t.Fatalf("unexpected principal %q", cred.Principal)
	}
}
