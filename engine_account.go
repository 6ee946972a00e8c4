package authcore

import (
	"context"
	"errors"
	"fmt"
)

// ChangePassword replaces the password of an authenticated principal
// after re-verifying the current one. Sessions other than the caller's
// are revoked; the caller keeps currentSessionID alive when given.
func (e *Engine) ChangePassword(ctx context.Context, principalID, currentPassword, newPassword, currentSessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if len(newPassword) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	principal, err := e.store.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal.Deleted() {
		return ErrPrincipalNotFound
	}

	match, err := e.hasher.Verify(currentPassword, principal.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentialCorrupt, err)
	}
	if !match {
		e.emitAudit(ctx, auditEventPasswordChange, false, principal.ID, principal.Role, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePasswordHash(ctx, principal.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := e.now()
	if currentSessionID == "" {
		if _, err := e.sessions.RevokeAll(ctx, principal.ID, now); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	} else {
		rows, err := e.sessions.List(ctx, principal.ID, now)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, row := range rows {
			if row.ID == currentSessionID {
				continue
			}
			if err := e.sessions.Revoke(ctx, row.ID, now); err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
	}

	e.metricInc(MetricPasswordChange)
	e.emitAudit(ctx, auditEventPasswordChange, true, principal.ID, principal.Role, currentSessionID, nil, nil)
	return nil
}

// ErasePrincipal soft-deletes a principal and revokes every session.
// All subsequent authentication for the id behaves as not found; the
// row itself stays visible to administrative audit reads.
func (e *Engine) ErasePrincipal(ctx context.Context, principalID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	principal, err := e.store.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := e.now()
	if err := e.store.MarkDeleted(ctx, principal.ID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := e.sessions.RevokeAll(ctx, principal.ID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPrincipalErased)
	e.emitAudit(ctx, auditEventPrincipalErased, true, principal.ID, principal.Role, "", nil, nil)
	return nil
}
