package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRedeemConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	sess, err := store.Open(ctx, "principal-1", "member", "", time.Hour, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := store.Redeem(ctx, sess.ID, time.Hour, now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	reused := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrReused):
			reused++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}

	if winners != 1 {
		t.Fatalf("expected exactly one redeem winner, got %d", winners)
	}
	if reused != n-1 {
		t.Fatalf("expected %d reuse losers, got %d", n-1, reused)
	}
}

// A redeem racing a principal-wide revoke must never leave a live
// successor behind: either the redeem observes the revoked row, or its
// successor is part of the swept set.
func TestRevokeAllDuringRedeem(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 20; i++ {
		sess, err := store.Open(ctx, "principal-1", "member", "", time.Hour, now)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)

		var next *Session
		var redeemErr error
		go func() {
			defer wg.Done()
			_, next, redeemErr = store.Redeem(ctx, sess.ID, time.Hour, now)
		}()
		go func() {
			defer wg.Done()
			if _, err := store.RevokeAll(ctx, "principal-1", now); err != nil {
				t.Errorf("RevokeAll: %v", err)
			}
		}()
		wg.Wait()

		if redeemErr != nil {
			if !errors.Is(redeemErr, ErrReused) {
				t.Fatalf("unexpected redeem error: %v", redeemErr)
			}
			continue
		}

		// The redeem won the race, so the sweep must have caught its
		// successor.
		if _, _, err := store.Redeem(ctx, next.ID, time.Hour, now); !errors.Is(err, ErrReused) {
			t.Fatalf("successor survived the sweep: %v", err)
		}
	}
}
