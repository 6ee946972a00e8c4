package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "ac"), mr
}

func TestOpenAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := store.Open(ctx, "principal-1", "member", "198.51.100.7", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("open must assign a session id")
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PrincipalID != "principal-1" || got.Role != "member" || got.Context != "198.51.100.7" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.Active(now) {
		t.Fatal("freshly opened row must be active")
	}
}

func TestRedeemRotatesAndDetectsReuse(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := store.Open(ctx, "principal-1", "member", "", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	old, next, err := store.Redeem(ctx, sess.ID, time.Hour, now)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if old.ID != sess.ID {
		t.Fatalf("consumed id = %q, want %q", old.ID, sess.ID)
	}
	if next.ID == sess.ID {
		t.Fatal("rotation must mint a new session id")
	}
	if next.PrincipalID != "principal-1" || next.Role != "member" {
		t.Fatalf("successor lost ownership: %+v", next)
	}

	// Replay of the consumed row is reuse, never plain not-found.
	if _, _, err := store.Redeem(ctx, sess.ID, time.Hour, now); !errors.Is(err, ErrReused) {
		t.Fatalf("replay: expected ErrReused, got %v", err)
	}

	// The successor remains redeemable.
	if _, _, err := store.Redeem(ctx, next.ID, time.Hour, now); err != nil {
		t.Fatalf("successor redeem: %v", err)
	}
}

func TestRedeemMissingRow(t *testing.T) {
	store, _ := newTestStore(t)

	_, _, err := store.Redeem(context.Background(), "AAAAAAAAAAAAAAAAAAAAAA", time.Hour, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemExpiredRow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := store.Open(ctx, "principal-1", "member", "", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Logical expiry is evaluated against the caller's clock, not Redis TTLs.
	later := now.Add(2 * time.Hour)
	if _, _, err := store.Redeem(ctx, sess.ID, time.Hour, later); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := store.Open(ctx, "principal-1", "member", "", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := store.Revoke(ctx, sess.ID, now); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := store.Revoke(ctx, sess.ID, now); err != nil {
		t.Fatalf("second revoke must be a no-op success: %v", err)
	}
	if err := store.Revoke(ctx, "AAAAAAAAAAAAAAAAAAAAAA", now); err != nil {
		t.Fatalf("revoking a missing session must be a no-op success: %v", err)
	}

	if _, _, err := store.Redeem(ctx, sess.ID, time.Hour, now); !errors.Is(err, ErrReused) {
		t.Fatalf("redeem of revoked row: expected ErrReused, got %v", err)
	}
}

func TestRevokeAllReturnsActiveCount(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, err := store.Open(ctx, "principal-1", "member", "", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	second, err := store.Open(ctx, "principal-1", "member", "", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Revoke(ctx, second.ID, now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Open(ctx, "principal-2", "seller", "", time.Hour, now); err != nil {
		t.Fatalf("Open other principal: %v", err)
	}

	count, err := store.RevokeAll(ctx, "principal-1", now)
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (only the still-active row)", count)
	}

	if _, _, err := store.Redeem(ctx, first.ID, time.Hour, now); !errors.Is(err, ErrReused) {
		t.Fatalf("redeem after bulk revoke: expected ErrReused, got %v", err)
	}

	// The other principal is untouched.
	others, err := store.List(ctx, "principal-2", now)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(others) != 1 {
		t.Fatalf("principal-2 sessions = %d, want 1", len(others))
	}
}

func TestListSkipsRevokedAndExpired(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	active, err := store.Open(ctx, "principal-1", "member", "laptop", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	revoked, err := store.Open(ctx, "principal-1", "member", "phone", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Revoke(ctx, revoked.ID, now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := store.Open(ctx, "principal-1", "member", "tablet", time.Minute, now); err != nil {
		t.Fatalf("Open short-lived: %v", err)
	}

	mr.FastForward(10 * time.Minute)

	sessions, err := store.List(ctx, "principal-1", now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != active.ID {
		t.Fatalf("expected only the active laptop session, got %d rows", len(sessions))
	}
}

func TestTombstoneExpiresWithRow(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := store.Open(ctx, "principal-1", "member", "", time.Minute, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Revoke(ctx, sess.ID, now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	// Once the tombstone lapses the ledger no longer distinguishes reuse.
	if _, _, err := store.Redeem(ctx, sess.ID, time.Hour, now.Add(2*time.Minute)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after tombstone expiry, got %v", err)
	}
}
