package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wrtnlabs/authcore/internal/rate"
	"github.com/wrtnlabs/authcore/jwt"
	"github.com/wrtnlabs/authcore/password"
	"github.com/wrtnlabs/authcore/session"
)

// Builder assembles an [Engine]. A Builder is single-use: Build returns
// an error when called twice.
type Builder struct {
	config Config

	redis    redis.UniversalClient
	store    CredentialStore
	hasher   Hasher
	notifier Notifier
	sink     AuditSink
	now      func() time.Time

	built bool
}

// New returns a Builder seeded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session ledger, single-use
// token ledger, and rate counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the principal persistence backend.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithHasher overrides the default Argon2id hasher.
func (b *Builder) WithHasher(h Hasher) *Builder {
	b.hasher = h
	return b
}

// WithNotifier sets the out-of-band sender for reset and verification
// tokens. Optional; without one, recovery flows still acknowledge but
// deliver nothing.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit event consumer. Ignored unless
// Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock overrides the engine's time source. Tests use it to drive
// lockout windows and token expiry deterministically.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	var method jwt.SigningMethod
	switch cfg.JWT.SigningMethod {
	case "ed25519":
		method = jwt.MethodEd25519
	case "hs256":
		method = jwt.MethodHS256
	}
	signer, err := jwt.NewSigner(jwt.Config{
		SigningMethod: method,
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		TimeFunc:      now,
	})
	if err != nil {
		return nil, err
	}

	hasher := b.hasher
	if hasher == nil {
		hasher, err = password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
	}

	engine := &Engine{
		config:    cfg,
		store:     b.store,
		hasher:    hasher,
		sessions:  session.NewStore(b.redis, cfg.Session.RedisPrefix),
		singleUse: newSingleUseStore(b.redis, cfg.Session.RedisPrefix),
		rateLimiter: rate.New(b.redis, cfg.Session.RedisPrefix, rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxResetRequests:      cfg.Reset.MaxRequests,
			ResetWindow:           cfg.Reset.RequestWindow,
			MaxLoginAttemptsPerIP: cfg.Security.MaxLoginPerIP,
			LoginIPWindow:         cfg.Security.LoginIPWindow,
		}),
		jwtManager: signer,
		notifier:   b.notifier,
		audit:      newAuditDispatcher(cfg.Audit, b.sink),
		metrics:    NewMetrics(cfg.Metrics),
		now:        now,
	}

	return engine, nil
}
