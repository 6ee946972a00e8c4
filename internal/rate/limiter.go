package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	MaxResetRequests      int
	ResetWindow           time.Duration
	MaxLoginAttemptsPerIP int
	LoginIPWindow         time.Duration
}

// Limiter enforces per-email and per-IP budgets for recovery and login
// traffic using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New creates a [Limiter] backed by the given Redis client. Keys are
// namespaced under the given prefix.
func New(redisClient redis.UniversalClient, prefix string, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}
}

// CheckReset records a password-reset request for the email and reports
// whether the window budget is exhausted. Counting happens before the
// check so a flood of requests cannot outrun the counter.
func (l *Limiter) CheckReset(ctx context.Context, email string) error {
	count, err := l.incrementWithTTL(ctx, l.key("rr", email), l.config.ResetWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxResetRequests) {
		return ErrRateLimited
	}
	return nil
}

// CheckVerification records an email-verification request for the email
// against the same window budget as password resets.
func (l *Limiter) CheckVerification(ctx context.Context, email string) error {
	count, err := l.incrementWithTTL(ctx, l.key("vr", email), l.config.ResetWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxResetRequests) {
		return ErrRateLimited
	}
	return nil
}

// CheckLoginIP enforces the per-IP login budget when IP throttling is
// enabled. A zero IP is never throttled.
func (l *Limiter) CheckLoginIP(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key("li", ip), l.config.LoginIPWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttemptsPerIP) {
		return ErrRateLimited
	}
	return nil
}

// ResetLoginIP clears the per-IP login counter. Called after a
// successful login.
func (l *Limiter) ResetLoginIP(ctx context.Context, ip string) error {
	if !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key("li", ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(kind, id string) string {
	return l.prefix + ":" + kind + ":" + id
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
