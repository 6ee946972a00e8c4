package authcore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/wrtnlabs/authcore"
)

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	reg := env.register(t, "member", "alice@example.com", "correct-horse")
	other, err := env.engine.Login(ctx, "member", "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	err = env.engine.ChangePassword(ctx, reg.PrincipalID, "correct-horse", "brand-new-pass", reg.Tokens.SessionID)
	if err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := env.engine.Login(ctx, "member", "alice@example.com", "brand-new-pass"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// The caller's session survives, the other one is revoked.
	if _, err := env.engine.Refresh(ctx, reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("caller session revoked: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, other.RefreshToken); err == nil {
		t.Fatal("other session survived password change")
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	reg := env.register(t, "member", "alice@example.com", "correct-horse")

	err := env.engine.ChangePassword(ctx, reg.PrincipalID, "wrong", "brand-new-pass", "")
	if !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	if _, err := env.engine.Login(ctx, "member", "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("password changed despite rejection: %v", err)
	}
}

func TestChangePasswordPolicy(t *testing.T) {
	env := newTestEnv(t, nil)

	reg := env.register(t, "member", "alice@example.com", "correct-horse")

	err := env.engine.ChangePassword(context.Background(), reg.PrincipalID, "correct-horse", "short", "")
	if !errors.Is(err, authcore.ErrPasswordPolicy) {
		t.Fatalf("expected password policy, got %v", err)
	}
}

func TestErasePrincipal(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	reg := env.register(t, "member", "alice@example.com", "correct-horse")

	if err := env.engine.ErasePrincipal(ctx, reg.PrincipalID); err != nil {
		t.Fatalf("erase: %v", err)
	}

	if err := env.engine.ErasePrincipal(ctx, reg.PrincipalID); !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("second erase: expected not found, got %v", err)
	}

	sessions, err := env.engine.Sessions(ctx, reg.PrincipalID)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions survived erase: %d", len(sessions))
	}
}
