package authcore

import (
	"errors"
	"time"
)

// Config is the engine's complete tuning surface. Build a Config, hand
// it to [Builder.WithConfig], and treat it as immutable afterwards.
// Zero-value fields are filled from defaults at build time only when
// the whole Config came from defaultConfig; partial configs should
// start from scratch deliberately.
type Config struct {
	JWT          JWTConfig
	Session      SessionConfig
	Password     PasswordConfig
	Lockout      LockoutConfig
	Reset        ResetConfig
	Verification VerificationConfig
	Security     SecurityConfig
	Audit        AuditConfig
	Metrics      MetricsConfig

	// Roles is the fixed set of role tags the engine accepts, with
	// optional per-role overrides. Registration and login against a
	// role not present here fail with ErrRoleUnknown.
	Roles map[string]RoleConfig
}

// JWTConfig configures the token signer.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// SessionConfig configures the Redis session ledger.
type SessionConfig struct {
	RedisPrefix string
}

// PasswordConfig carries Argon2id parameters plus policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

// LockoutConfig tunes the failed-login lockout policy. Threshold
// failures inside Window lock the account for Duration.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// ResetConfig tunes single-use password reset tokens and the per-email
// request throttle.
type ResetConfig struct {
	TTL           time.Duration
	MaxRequests   int
	RequestWindow time.Duration
}

// VerificationConfig tunes single-use email verification tokens.
type VerificationConfig struct {
	TTL time.Duration
	// RequireForLogin refuses login with ErrAccountUnverified until the
	// email is confirmed. Per-role override in RoleConfig wins.
	RequireForLogin bool
}

// SecurityConfig carries cross-cutting hardening switches.
type SecurityConfig struct {
	// RevokeFamilyOnReuse revokes every session of a principal when a
	// superseded refresh token is replayed.
	RevokeFamilyOnReuse bool
	EnableIPThrottle    bool
	MaxLoginPerIP       int
	LoginIPWindow       time.Duration
}

// AuditConfig tunes the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// RoleConfig overrides engine defaults for one role tag. Zero fields
// fall back to the top-level config.
type RoleConfig struct {
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RequireVerified bool

	// Lockout, when non-nil, replaces the top-level lockout policy for
	// this role.
	Lockout *LockoutConfig

	// AllowedProfileFields whitelists the profile keys Register accepts
	// for this role. Empty accepts any key.
	AllowedProfileFields []string
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Session: SessionConfig{
			RedisPrefix: "ac",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Duration:  15 * time.Minute,
		},
		Reset: ResetConfig{
			TTL:           15 * time.Minute,
			MaxRequests:   3,
			RequestWindow: time.Hour,
		},
		Verification: VerificationConfig{
			TTL:             24 * time.Hour,
			RequireForLogin: false,
		},
		Security: SecurityConfig{
			RevokeFamilyOnReuse: true,
			EnableIPThrottle:    false,
			MaxLoginPerIP:       20,
			LoginIPWindow:       15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Roles: map[string]RoleConfig{
			"member": {},
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Roles != nil {
		out.Roles = make(map[string]RoleConfig, len(cfg.Roles))
		for name, rc := range cfg.Roles {
			if rc.Lockout != nil {
				lockout := *rc.Lockout
				rc.Lockout = &lockout
			}
			if len(rc.AllowedProfileFields) > 0 {
				rc.AllowedProfileFields = append([]string(nil), rc.AllowedProfileFields...)
			}
			out.Roles[name] = rc
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0) {
		return errors.New("ed25519 requires PrivateKey and PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Reset
	if c.Reset.TTL <= 0 {
		return errors.New("Reset TTL must be > 0")
	}
	if c.Reset.MaxRequests <= 0 {
		return errors.New("Reset MaxRequests must be > 0")
	}
	if c.Reset.RequestWindow <= 0 {
		return errors.New("Reset RequestWindow must be > 0")
	}

	// Verification
	if c.Verification.TTL <= 0 {
		return errors.New("Verification TTL must be > 0")
	}

	// Security
	if c.Security.EnableIPThrottle {
		if c.Security.MaxLoginPerIP <= 0 {
			return errors.New("Security MaxLoginPerIP must be > 0 when IP throttle enabled")
		}
		if c.Security.LoginIPWindow <= 0 {
			return errors.New("Security LoginIPWindow must be > 0 when IP throttle enabled")
		}
	}

	// Roles
	if len(c.Roles) == 0 {
		return errors.New("at least one role must be configured")
	}
	for name, rc := range c.Roles {
		if name == "" {
			return errors.New("role name must not be empty")
		}
		if rc.AccessTTL < 0 || rc.RefreshTTL < 0 {
			return errors.New("role TTL overrides must be >= 0")
		}
		access := rc.AccessTTL
		if access == 0 {
			access = c.JWT.AccessTTL
		}
		refresh := rc.RefreshTTL
		if refresh == 0 {
			refresh = c.JWT.RefreshTTL
		}
		if refresh < access {
			return errors.New("role RefreshTTL must be >= AccessTTL")
		}
		if lo := rc.Lockout; lo != nil {
			if lo.Threshold <= 0 || lo.Window <= 0 || lo.Duration <= 0 {
				return errors.New("role Lockout override must have positive Threshold, Window, and Duration")
			}
		}
	}

	return nil
}

// accessTTL returns the access token lifetime for a role.
func (c *Config) accessTTL(role string) time.Duration {
	if rc, ok := c.Roles[role]; ok && rc.AccessTTL > 0 {
		return rc.AccessTTL
	}
	return c.JWT.AccessTTL
}

// refreshTTL returns the refresh token lifetime for a role.
func (c *Config) refreshTTL(role string) time.Duration {
	if rc, ok := c.Roles[role]; ok && rc.RefreshTTL > 0 {
		return rc.RefreshTTL
	}
	return c.JWT.RefreshTTL
}

// lockout returns the lockout policy in effect for a role.
func (c *Config) lockout(role string) LockoutConfig {
	if rc, ok := c.Roles[role]; ok && rc.Lockout != nil {
		return *rc.Lockout
	}
	return c.Lockout
}

// profileAllowed reports whether Register accepts the profile field for
// the role. A role without a whitelist accepts everything.
func (c *Config) profileAllowed(role, field string) bool {
	rc, ok := c.Roles[role]
	if !ok || len(rc.AllowedProfileFields) == 0 {
		return true
	}
	for _, allowed := range rc.AllowedProfileFields {
		if allowed == field {
			return true
		}
	}
	return false
}

// requireVerified reports whether login for a role demands a confirmed
// email.
func (c *Config) requireVerified(role string) bool {
	if rc, ok := c.Roles[role]; ok && rc.RequireVerified {
		return true
	}
	return c.Verification.RequireForLogin
}
