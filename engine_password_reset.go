package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wrtnlabs/authcore/internal"
	"github.com/wrtnlabs/authcore/internal/rate"
	"github.com/wrtnlabs/authcore/jwt"
)

// RequestPasswordReset starts a reset flow. It always acknowledges
// generically: whether the email exists is never revealed. When the
// principal exists, a single-use reset token is handed to the notifier.
// Per-email requests are throttled; the limit outcome is surfaced so
// callers can slow abusive clients, and it too leaks nothing about
// account existence.
func (e *Engine) RequestPasswordReset(ctx context.Context, role, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, ok := e.config.Roles[role]; !ok {
		return ErrRoleUnknown
	}

	normalized := normalizeEmail(email)
	if normalized == "" {
		return ErrInvalidEmail
	}

	if err := e.rateLimiter.CheckReset(ctx, role+":"+normalized); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricPasswordResetRateLimited)
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", role, "", ErrResetRateLimited, nil)
			return ErrResetRateLimited
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPasswordResetRequest)

	principal, err := e.store.FindByEmail(ctx, role, normalized)
	if err != nil {
		// Unknown email still acknowledges success.
		if errors.Is(err, ErrPrincipalNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", role, "", nil, nil)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal.Deleted() {
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", role, "", nil, nil)
		return nil
	}

	now := e.now()
	token, err := e.mintSingleUse(ctx, principal, jwt.PurposeReset, e.config.Reset.TTL, now)
	if err != nil {
		return err
	}

	if e.notifier != nil {
		if err := e.notifier.Send(ctx, principal.Email, string(jwt.PurposeReset), token); err != nil {
			// The acknowledgment below still stands.
			log.Printf("authcore: send reset token: %v", err)
		}
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, principal.ID, role, "", nil, nil)
	return nil
}

// ConfirmPasswordReset redeems a reset token and replaces the password.
// The token succeeds exactly once; every session of the principal is
// revoked, and the lockout counter cleared, in the same flow.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if len(newPassword) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	principal, err := e.consumeSingleUse(ctx, resetToken, jwt.PurposeReset)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", "", err, nil)
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePasswordHash(ctx, principal.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.store.ResetFailures(ctx, principal.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// A reset invalidates any credential an attacker may already hold.
	if _, err := e.sessions.RevokeAll(ctx, principal.ID, e.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPasswordResetConfirm)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, principal.ID, principal.Role, "", nil, nil)
	return nil
}

// mintSingleUse writes a ledger record and signs a token naming it.
func (e *Engine) mintSingleUse(ctx context.Context, principal *Principal, purpose jwt.Purpose, ttl time.Duration, now time.Time) (string, error) {
	id, err := internal.NewID()
	if err != nil {
		return "", err
	}

	record := &singleUseRecord{
		PrincipalID: principal.ID,
		Purpose:     string(purpose),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
	if err := e.singleUse.Save(ctx, id.String(), record, ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return e.jwtManager.Sign(principal.ID, principal.Role, purpose, id.String(), ttl)
}

// consumeSingleUse verifies the token signature, atomically consumes
// its ledger record, and re-fetches the principal. Every failure mode,
// including an already-consumed record, is ErrTokenInvalid.
func (e *Engine) consumeSingleUse(ctx context.Context, token string, purpose jwt.Purpose) (*Principal, error) {
	claims, err := e.jwtManager.Verify(token, purpose)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	record, err := e.singleUse.Consume(ctx, claims.TokenID, string(purpose), e.now())
	if err != nil {
		if errors.Is(err, errSingleUseNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record.PrincipalID != claims.Subject {
		return nil, ErrTokenInvalid
	}

	principal, err := e.store.FindByID(ctx, record.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal.Deleted() {
		return nil, ErrTokenInvalid
	}

	return principal, nil
}
