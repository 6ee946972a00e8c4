package authcore

import (
	"context"
	"time"
)

// Principal is one registered actor of a given role. PasswordHash never
// leaves the engine: it is excluded from every success and error
// payload.
type Principal struct {
	ID            string
	Role          string
	Email         string
	PasswordHash  string
	EmailVerified bool
	FailedLogins  int
	LockedUntil   time.Time // zero when unlocked
	Profile       map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     time.Time // zero unless soft-deleted
}

// Deleted reports whether the principal has been soft-deleted.
// Authentication paths treat deleted principals as not found.
func (p *Principal) Deleted() bool {
	return !p.DeletedAt.IsZero()
}

// CreatePrincipalInput is the row the engine asks a [CredentialStore]
// to persist on registration.
type CreatePrincipalInput struct {
	ID           string
	Role         string
	Email        string
	PasswordHash string
	Profile      map[string]string
	CreatedAt    time.Time
}

// CredentialStore persists principals and their lockout counters.
// Implementations must honor soft-delete on the read path: FindByEmail
// and FindByID return ErrPrincipalNotFound for deleted rows, so every
// caller gets consistent "deleted = not found" semantics.
//
// RecordFailure, ResetFailures, and SetLock must be atomic relative to
// concurrent logins on the same principal. Backends in store/mysql and
// store/memory satisfy the contract.
type CredentialStore interface {
	// FindByEmail looks up an active principal by role scope and
	// case-normalized email.
	FindByEmail(ctx context.Context, role, email string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)

	// Create persists a new principal. Returns ErrDuplicatePrincipal
	// when the email is already active for that role; a soft-deleted
	// row does not block reclamation of its email.
	Create(ctx context.Context, input CreatePrincipalInput) (*Principal, error)

	// RecordFailure counts a failed login at now and returns the new
	// count of failures inside the sliding window. Failures older than
	// the window never contribute to the returned count.
	RecordFailure(ctx context.Context, id string, now time.Time, window time.Duration) (int, error)
	ResetFailures(ctx context.Context, id string) error
	SetLock(ctx context.Context, id string, until time.Time) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkVerified(ctx context.Context, id string) error

	// MarkDeleted soft-deletes the principal. Subsequent authentication
	// lookups behave as not found.
	MarkDeleted(ctx context.Context, id string, now time.Time) error
}

// Hasher is the slow, salted, one-way password hash. Verify returns
// (false, nil) on mismatch; errors are reserved for malformed stored
// hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsRehash(encodedHash string) (bool, error)
}

// Notifier delivers reset and verification tokens out-of-band. The
// engine tolerates a slow or failing notifier: request paths still
// return their own generic acknowledgment.
type Notifier interface {
	Send(ctx context.Context, email, purpose, token string) error
}

// TokenPair is the transient response object of every successful
// authentication: a short-lived access token and a longer-lived,
// single-use refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access"`
	RefreshToken     string    `json:"refresh"`
	ExpiredAt        time.Time `json:"expired_at"`
	RefreshableUntil time.Time `json:"refreshable_until"`
	SessionID        string    `json:"-"`
}

// Identity is the verified subject of an access token.
type Identity struct {
	PrincipalID string
	Role        string
	SessionID   string
	ExpiresAt   time.Time
}

// SessionInfo is one active session as reported by [Engine.Sessions].
type SessionInfo struct {
	ID        string
	Context   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RegisterRequest carries a registration.
type RegisterRequest struct {
	Role     string
	Email    string
	Password string
	Profile  map[string]string
	// Context is optional device/IP metadata recorded on the initial
	// session.
	Context string
}

// RegisterResult is the outcome of a successful registration: the new
// principal id plus an immediately usable token pair.
type RegisterResult struct {
	PrincipalID string
	Tokens      TokenPair
}
