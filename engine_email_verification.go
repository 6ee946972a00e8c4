package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/wrtnlabs/authcore/internal/rate"
	"github.com/wrtnlabs/authcore/jwt"
)

// RequestEmailVerification re-issues a verification token for an
// unverified principal. Like the reset flow, it acknowledges
// generically regardless of whether the email exists, and per-email
// requests share the reset throttle budget.
func (e *Engine) RequestEmailVerification(ctx context.Context, role, email string) error {
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

	if err := e.rateLimiter.CheckVerification(ctx, role+":"+normalized); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.emitAudit(ctx, auditEventVerificationRequest, false, "", role, "", ErrResetRateLimited, nil)
			return ErrResetRateLimited
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerificationRequest)

	principal, err := e.store.FindByEmail(ctx, role, normalized)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal.Deleted() || principal.EmailVerified {
		return nil
	}

	now := e.now()
	token, err := e.mintSingleUse(ctx, principal, jwt.PurposeVerify, e.config.Verification.TTL, now)
	if err != nil {
		return err
	}

	if e.notifier != nil {
		if err := e.notifier.Send(ctx, principal.Email, string(jwt.PurposeVerify), token); err != nil {
			log.Printf("authcore: send verification token: %v", err)
		}
	}

	e.emitAudit(ctx, auditEventVerificationRequest, true, principal.ID, role, "", nil, nil)
	return nil
}

// ConfirmEmailVerification redeems a verify token and marks the email
// confirmed. The token is single-use: a second confirmation attempt
// fails with ErrTokenInvalid even though the principal is already
// verified.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, verifyToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	principal, err := e.consumeSingleUse(ctx, verifyToken, jwt.PurposeVerify)
	if err != nil {
		e.emitAudit(ctx, auditEventVerificationConfirm, false, "", "", "", err, nil)
		return err
	}

	if err := e.store.MarkVerified(ctx, principal.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerificationConfirm)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, principal.ID, principal.Role, "", nil, nil)
	return nil
}
