package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wrtnlabs/authcore"
)

func TestResetRequestGenericAck(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// Unknown email acknowledges exactly like a known one.
	if err := env.engine.RequestPasswordReset(ctx, "member", "ghost@example.com"); err != nil {
		t.Fatalf("unknown email: %v", err)
	}
	if _, ok := env.notifier.last(); ok {
		t.Fatal("token sent for unknown email")
	}

	env.register(t, "member", "alice@example.com", "correct-horse")
	before := len(env.notifier.tokens)
	if err := env.engine.RequestPasswordReset(ctx, "member", "alice@example.com"); err != nil {
		t.Fatalf("known email: %v", err)
	}
	if len(env.notifier.tokens) != before+1 {
		t.Fatal("no token sent for known email")
	}
	sent, _ := env.notifier.last()
	if sent.Purpose != "reset" {
		t.Fatalf("purpose = %q", sent.Purpose)
	}
}

func TestResetRequestThrottle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.register(t, "member", "alice@example.com", "correct-horse")

	for i := 0; i < 3; i++ {
		if err := env.engine.RequestPasswordReset(ctx, "member", "alice@example.com"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	err := env.engine.RequestPasswordReset(ctx, "member", "alice@example.com")
	if !errors.Is(err, authcore.ErrResetRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}

	// The throttle is per email.
	if err := env.engine.RequestPasswordReset(ctx, "member", "bob@example.com"); err != nil {
		t.Fatalf("other email throttled: %v", err)
	}
}

func TestResetConfirm(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	reg := env.register(t, "member", "alice@example.com", "correct-horse")
	if err := env.engine.RequestPasswordReset(ctx, "member", "alice@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent, _ := env.notifier.last()

	if err := env.engine.ConfirmPasswordReset(ctx, sent.Token, "brand-new-pass"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Old password is gone, new one works.
	if _, err := env.engine.Login(ctx, "member", "alice@example.com", "correct-horse"); err == nil {
		t.Fatal("old password survived reset")
	}
	if _, err := env.engine.Login(ctx, "member", "alice@example.com", "brand-new-pass"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// All prior sessions died with the reset.
	if _, err := env.engine.Refresh(ctx, reg.Tokens.RefreshToken); err == nil {
		t.Fatal("pre-reset refresh token survived")
	}
}

func TestResetTokenSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.register(t, "member", "alice@example.com", "correct-horse")
	if err := env.engine.RequestPasswordReset(ctx, "member", "alice@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent, _ := env.notifier.last()

	if err := env.engine.ConfirmPasswordReset(ctx, sent.Token, "brand-new-pass"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	err := env.engine.ConfirmPasswordReset(ctx, sent.Token, "yet-another-pass")
	if !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("second confirm: expected invalid, got %v", err)
	}

	// The second attempt had no side effects.
	if _, err := env.engine.Login(ctx, "member", "alice@example.com", "brand-new-pass"); err != nil {
		t.Fatalf("password changed by failed confirm: %v", err)
	}
}

func TestResetTokenExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.register(t, "member", "alice@example.com", "correct-horse")
	if err := env.engine.RequestPasswordReset(ctx, "member", "alice@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent, _ := env.notifier.last()

	env.clock.Advance(16 * time.Minute)

	err := env.engine.ConfirmPasswordReset(ctx, sent.Token, "brand-new-pass")
	if !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("expired token: expected invalid, got %v", err)
	}
}

func TestResetConfirmWeakPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.register(t, "member", "alice@example.com", "correct-horse")
	if err := env.engine.RequestPasswordReset(ctx, "member", "alice@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent, _ := env.notifier.last()

	if err := env.engine.ConfirmPasswordReset(ctx, sent.Token, "short"); !errors.Is(err, authcore.ErrPasswordPolicy) {
		t.Fatalf("expected password policy, got %v", err)
	}

	// Policy rejection happens before the token is consumed.
	if err := env.engine.ConfirmPasswordReset(ctx, sent.Token, "brand-new-pass"); err != nil {
		t.Fatalf("token was burned by rejected confirm: %v", err)
	}
}
