package authcore

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterDuplicate    = "register_duplicate"
	auditEventRegisterFailure      = "register_failure"
	auditEventPasswordChange       = "password_change"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetConfirm = "password_reset_confirm"
	auditEventVerificationRequest  = "email_verification_request"
	auditEventVerificationConfirm  = "email_verification_confirm"
	auditEventPrincipalErased      = "principal_erased"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
)

type auditErrorCode string

const (
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrAccountLocked      auditErrorCode = "account_locked"
	auditErrAccountUnverified  auditErrorCode = "account_unverified"
	auditErrDuplicate          auditErrorCode = "duplicate"
	auditErrRoleUnknown        auditErrorCode = "unknown_role"
	auditErrPasswordPolicy     auditErrorCode = "password_policy"
	auditErrInvalidToken       auditErrorCode = "invalid_token"
	auditErrRefreshReuse       auditErrorCode = "refresh_reuse"
	auditErrSessionNotFound    auditErrorCode = "session_not_found"
	auditErrNotFound           auditErrorCode = "principal_not_found"
	auditErrRateLimited        auditErrorCode = "rate_limited"
	auditErrUnavailable        auditErrorCode = "backend_unavailable"
	auditErrInternal           auditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	role string,
	sessionID string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		Role:        role,
		SessionID:   sessionID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := errorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func errorCode(err error) auditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrDuplicatePrincipal):
		return auditErrDuplicate
	case errors.Is(err, ErrRoleUnknown):
		return auditErrRoleUnknown
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrTokenReused):
		return auditErrRefreshReuse
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrResetRateLimited), errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
