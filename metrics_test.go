package authcore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/wrtnlabs/authcore"
)

func TestMetricsCounters(t *testing.T) {
	env := newTestEnv(t, func(cfg *authcore.Config) {
		cfg.Metrics.Enabled = true
	})
	ctx := context.Background()

	reg := env.register(t, "member", "alice@example.com", "correct-horse")

	if _, err := env.engine.Login(ctx, "member", "alice@example.com", "wrong"); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.Login(ctx, "member", "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, reg.Tokens.RefreshToken); !errors.Is(err, authcore.ErrTokenReused) {
		t.Fatalf("expected reuse, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	checks := map[authcore.MetricID]uint64{
		authcore.MetricRegisterSuccess:      1,
		authcore.MetricLoginSuccess:         1,
		authcore.MetricLoginFailure:         1,
		authcore.MetricRefreshSuccess:       1,
		authcore.MetricRefreshReuseDetected: 1,
	}
	for id, want := range checks {
		if got := snap.Counters[id]; got != want {
			t.Errorf("metric %d = %d, want %d", id, got, want)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, nil)

	env.register(t, "member", "alice@example.com", "correct-horse")

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[authcore.MetricRegisterSuccess] != 0 {
		t.Fatal("disabled metrics still counted")
	}
}
