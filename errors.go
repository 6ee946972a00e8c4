package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong
	// password. The two are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked refuses login regardless of password
	// correctness. Returned wrapped in a [LockedError] carrying the
	// retry-after hint.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnverified refuses login for roles that require a
	// verified email.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrPrincipalNotFound is the store-level miss for lookups by id or
	// email. Login paths translate it to ErrInvalidCredentials.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrDuplicatePrincipal reports a registration conflict: the email
	// is already active for that role.
	ErrDuplicatePrincipal = errors.New("principal already exists")
	// ErrRoleUnknown reports a role tag outside the configured set.
	ErrRoleUnknown = errors.New("unknown role")
	// ErrPasswordPolicy reports a new password below the configured
	// minimum length.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidEmail reports a registration or reset request with an
	// empty or unusable email.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrTokenInvalid covers malformed, expired, wrong-purpose, and
	// foreign-key tokens, and consumed single-use tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenReused reports replay of a superseded refresh token. It
	// is a stronger signal than ErrTokenInvalid: by default the engine
	// responds by revoking the principal's whole session family.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrSessionNotFound reports a logout or lookup against a session
	// id the ledger does not know.
	ErrSessionNotFound = errors.New("session not found")
	// ErrResetRateLimited reports that the per-email reset or
	// verification request budget is exhausted.
	ErrResetRateLimited = errors.New("reset request rate limited")
	// ErrLoginRateLimited reports that the per-IP login budget is
	// exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrProfileFieldNotAllowed reports a registration profile key
	// outside the role's allowed set.
	ErrProfileFieldNotAllowed = errors.New("profile field not allowed")
	// ErrCredentialCorrupt wraps a stored password hash that cannot be
	// parsed. Unlike ErrStoreUnavailable, retrying cannot succeed; the
	// row needs operator attention.
	ErrCredentialCorrupt = errors.New("stored credential corrupt")
	// ErrStoreUnavailable wraps transient storage failures. It is the
	// only outcome for which caller-side retry is appropriate.
	ErrStoreUnavailable = errors.New("storage backend unavailable")
	// ErrEngineNotReady reports use of a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError carries the lockout expiry alongside ErrAccountLocked so
// callers can surface a retry-after hint.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAccountLocked) match.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
