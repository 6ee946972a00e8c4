package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wrtnlabs/authcore/jwt"
)

// Register creates a principal and logs it in: the returned pair is
// immediately usable. A duplicate active (role, email) fails with
// ErrDuplicatePrincipal; a soft-deleted principal does not block its
// email from being reclaimed.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if _, ok := e.config.Roles[req.Role]; !ok {
		return nil, ErrRoleUnknown
	}
	if len(req.Password) < e.config.Password.MinLength {
		return nil, ErrPasswordPolicy
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	for field := range req.Profile {
		if !e.config.profileAllowed(req.Role, field) {
			return nil, fmt.Errorf("%w: %s", ErrProfileFieldNotAllowed, field)
		}
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	principal, err := e.store.Create(ctx, CreatePrincipalInput{
		ID:           uuid.NewString(),
		Role:         req.Role,
		Email:        email,
		PasswordHash: hash,
		Profile:      req.Profile,
		CreatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicatePrincipal) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", req.Role, "", ErrDuplicatePrincipal, nil)
			return nil, ErrDuplicatePrincipal
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", req.Role, "", err, nil)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sessionContext := req.Context
	if sessionContext == "" {
		sessionContext = sessionContextFromContext(ctx)
	}
	pair, err := e.issuePair(ctx, principal, sessionContext, now)
	if err != nil {
		return nil, err
	}

	// A verification token goes out-of-band; a slow or failing
	// notifier never fails the registration itself.
	e.sendVerification(ctx, principal, now)

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, principal.ID, principal.Role, pair.SessionID, nil, nil)
	return &RegisterResult{
		PrincipalID: principal.ID,
		Tokens:      *pair,
	}, nil
}

// sendVerification mints a verify-purpose single-use token and hands it
// to the notifier.
func (e *Engine) sendVerification(ctx context.Context, principal *Principal, now time.Time) {
	if e.notifier == nil || principal.EmailVerified {
		return
	}

	token, err := e.mintSingleUse(ctx, principal, jwt.PurposeVerify, e.config.Verification.TTL, now)
	if err != nil {
		log.Printf("authcore: mint verification token: %v", err)
		return
	}
	if err := e.notifier.Send(ctx, principal.Email, string(jwt.PurposeVerify), token); err != nil {
		log.Printf("authcore: send verification token: %v", err)
	}
}
