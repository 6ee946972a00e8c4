package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wrtnlabs/authcore"
)

func create(t *testing.T, s *Store, role, email string) *authcore.Principal {
	t.Helper()

	p, err := s.Create(context.Background(), authcore.CreatePrincipalInput{
		ID:           role + ":" + email,
		Role:         role,
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func TestCreateAndFind(t *testing.T) {
	s := New()
	ctx := context.Background()

	created := create(t, s, "member", "alice@example.com")

	byEmail, err := s.FindByEmail(ctx, "member", "alice@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Fatalf("id mismatch: %s vs %s", byEmail.ID, created.ID)
	}

	if _, err := s.FindByEmail(ctx, "admin", "alice@example.com"); !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("role scope leak: %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	create(t, s, "member", "alice@example.com")

	_, err := s.Create(ctx, authcore.CreatePrincipalInput{
		ID:    "other",
		Role:  "member",
		Email: "alice@example.com",
	})
	if !errors.Is(err, authcore.ErrDuplicatePrincipal) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	// Same email under another role is fine.
	if _, err := s.Create(ctx, authcore.CreatePrincipalInput{
		ID:    "seller",
		Role:  "seller",
		Email: "alice@example.com",
	}); err != nil {
		t.Fatalf("cross-role create: %v", err)
	}
}

func TestSoftDeleteReclaimsEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := create(t, s, "member", "alice@example.com")
	if err := s.MarkDeleted(ctx, p.ID, time.Now()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.FindByID(ctx, p.ID); !errors.Is(err, authcore.ErrPrincipalNotFound) {
		t.Fatalf("deleted row still found: %v", err)
	}

	if _, err := s.Create(ctx, authcore.CreatePrincipalInput{
		ID:    "second",
		Role:  "member",
		Email: "alice@example.com",
	}); err != nil {
		t.Fatalf("email not reclaimed: %v", err)
	}
}

func TestFailureWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := create(t, s, "member", "bob@example.com")

	now := time.Now()
	window := 15 * time.Minute

	for i := 0; i < 3; i++ {
		if _, err := s.RecordFailure(ctx, p.ID, now.Add(time.Duration(i)*time.Second), window); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	// A failure past the window drops the stale three.
	count, err := s.RecordFailure(ctx, p.ID, now.Add(window+time.Minute), window)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if count != 1 {
		t.Fatalf("stale failures counted: got %d, want 1", count)
	}

	if err := s.ResetFailures(ctx, p.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := s.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.FailedLogins != 0 || !got.LockedUntil.IsZero() {
		t.Fatalf("reset left state: %+v", got)
	}
}
