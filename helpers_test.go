package authcore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wrtnlabs/authcore"
	"github.com/wrtnlabs/authcore/store/memory"
)

// fakeClock drives engine time deterministically. Redis TTLs do not
// follow it; tests that need Redis expiry use miniredis.FastForward.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingHasher is a deterministic test double. Verify calls are
// counted so tests can assert the hasher never runs while an account
// is locked.
type countingHasher struct {
	verifyCalls atomic.Int64
}

func (h *countingHasher) Hash(password string) (string, error) {
	return "plain$" + password, nil
}

func (h *countingHasher) Verify(password, encodedHash string) (bool, error) {
	h.verifyCalls.Add(1)
	return encodedHash == "plain$"+password, nil
}

func (h *countingHasher) NeedsRehash(string) (bool, error) {
	return false, nil
}

func (h *countingHasher) VerifyCalls() int64 {
	return h.verifyCalls.Load()
}

// recordingNotifier captures tokens handed to the out-of-band sender.
type recordingNotifier struct {
	mu     sync.Mutex
	tokens []sentToken
}

type sentToken struct {
	Email   string
	Purpose string
	Token   string
}

func (n *recordingNotifier) Send(_ context.Context, email, purpose, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, sentToken{Email: email, Purpose: purpose, Token: token})
	return nil
}

func (n *recordingNotifier) last() (sentToken, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.tokens) == 0 {
		return sentToken{}, false
	}
	return n.tokens[len(n.tokens)-1], true
}

func testConfig() authcore.Config {
	return authcore.Config{
		JWT: authcore.JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		},
		Session: authcore.SessionConfig{RedisPrefix: "ac"},
		Password: authcore.PasswordConfig{
			Memory:      8192,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   16,
			MinLength:   8,
		},
		Lockout: authcore.LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  15 * time.Minute,
		},
		Reset: authcore.ResetConfig{
			TTL:           15 * time.Minute,
			MaxRequests:   3,
			RequestWindow: time.Hour,
		},
		Verification: authcore.VerificationConfig{TTL: 24 * time.Hour},
		Security:     authcore.SecurityConfig{RevokeFamilyOnReuse: true},
		Roles: map[string]authcore.RoleConfig{
			"member": {},
			"seller": {},
		},
	}
}

type testEnv struct {
	engine   *authcore.Engine
	store    *memory.Store
	clock    *fakeClock
	hasher   *countingHasher
	notifier *recordingNotifier
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T, mutate func(*authcore.Config)) *testEnv {
	t.Helper()
	return buildTestEnv(t, mutate, nil)
}

func newTestEnvWithSink(t *testing.T, sink authcore.AuditSink) *testEnv {
	t.Helper()
	return buildTestEnv(t, func(cfg *authcore.Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 64
	}, sink)
}

func buildTestEnv(t *testing.T, mutate func(*authcore.Config), sink authcore.AuditSink) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newFakeClock()
	hasher := &countingHasher{}
	notifier := &recordingNotifier{}
	store := memory.New()

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithHasher(hasher).
		WithNotifier(notifier).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{
		engine:   engine,
		store:    store,
		clock:    clock,
		hasher:   hasher,
		notifier: notifier,
		redis:    mr,
	}
}

func (env *testEnv) register(t *testing.T, role, email, password string) *authcore.RegisterResult {
	t.Helper()

	result, err := env.engine.Register(context.Background(), authcore.RegisterRequest{
		Role:     role,
		Email:    email,
		Password: password,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return result
}
