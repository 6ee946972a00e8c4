package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/wrtnlabs/authcore/internal/rate"
	"github.com/wrtnlabs/authcore/jwt"
	"github.com/wrtnlabs/authcore/session"
)

// Engine orchestrates credential verification, lockout bookkeeping,
// token issuance, refresh rotation, and session revocation. Construct
// one with [New]; an Engine is immutable after Build and safe for
// concurrent use.
type Engine struct {
	config      Config
	store       CredentialStore
	hasher      Hasher
	sessions    *session.Store
	singleUse   *singleUseStore
	rateLimiter *rate.Limiter
	jwtManager  *jwt.Signer
	notifier    Notifier
	audit       *auditDispatcher
	metrics     *Metrics
	now         func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login verifies credentials for a role-scoped email and returns a
// fresh token pair. Unknown email and wrong password both surface as
// ErrInvalidCredentials. A locked account refuses immediately with
// ErrAccountLocked, without evaluating the password at all.
func (e *Engine) Login(ctx context.Context, role, email, password string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if _, ok := e.config.Roles[role]; !ok {
		return nil, ErrRoleUnknown
	}

	ip := clientIPFromContext(ctx)
	if err := e.rateLimiter.CheckLoginIP(ctx, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", role, "", ErrLoginRateLimited, nil)
			return nil, ErrLoginRateLimited
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	principal, err := e.store.FindByEmail(ctx, role, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", role, "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal.Deleted() {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", role, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	now := e.now()

	// Lockout gate. The hasher must not run while the account is
	// locked, so a locked account is never a password oracle.
	if principal.LockedUntil.After(now) {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, role, "", ErrAccountLocked, nil)
		return nil, &LockedError{Until: principal.LockedUntil}
	}

	match, err := e.hasher.Verify(password, principal.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialCorrupt, err)
	}
	if !match {
		return nil, e.recordLoginFailure(ctx, principal, now)
	}

	if e.config.requireVerified(role) && !principal.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, role, "", ErrAccountUnverified, nil)
		return nil, ErrAccountUnverified
	}

	// Success clears the failure counter unconditionally, even when a
	// previous lock has only just expired.
	if err := e.store.ResetFailures(ctx, principal.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.maybeUpgradeHash(ctx, principal, password)
	if err := e.rateLimiter.ResetLoginIP(ctx, ip); err != nil {
		log.Printf("authcore: reset login ip counter: %v", err)
	}

	pair, err := e.issuePair(ctx, principal, sessionContextFromContext(ctx), now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, principal.ID, role, pair.SessionID, nil, nil)
	return pair, nil
}

// Refresh redeems a refresh token for a new pair. The old session row
// is atomically revoked as its successor is created, so a token redeems
// exactly once; replaying it afterwards returns ErrTokenReused and, by
// default, revokes the principal's whole session family.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Verify(refreshToken, jwt.PurposeRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrTokenInvalid, nil)
		return nil, ErrTokenInvalid
	}

	now := e.now()
	ttl := e.config.refreshTTL(claims.Role)

	old, next, err := e.sessions.Redeem(ctx, claims.TokenID, ttl, now)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReused):
			e.metricInc(MetricRefreshReuseDetected)
			principalID := claims.Subject
			if old != nil {
				principalID = old.PrincipalID
			}
			if e.config.Security.RevokeFamilyOnReuse && principalID != "" {
				if _, revokeErr := e.sessions.RevokeAll(ctx, principalID, now); revokeErr != nil {
					log.Printf("authcore: revoke session family after reuse: %v", revokeErr)
				}
			}
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, principalID, claims.Role, claims.TokenID, ErrTokenReused, nil)
			return nil, ErrTokenReused
		case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrCorruptRecord):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, claims.Subject, claims.Role, claims.TokenID, ErrTokenInvalid, nil)
			return nil, ErrTokenInvalid
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	// The signed subject must own the ledger row it names.
	if old.PrincipalID != claims.Subject {
		e.discardSession(ctx, next.ID, now)
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	// Re-fetch so a principal deleted since issuance cannot keep
	// rotating tokens.
	principal, err := e.store.FindByID(ctx, old.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.discardSession(ctx, next.ID, now)
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, old.PrincipalID, old.Role, old.ID, ErrTokenInvalid, nil)
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if principal.Deleted() {
		e.discardSession(ctx, next.ID, now)
		e.metricInc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	pair, err := e.signPair(principal, next, now)
	if err != nil {
		e.discardSession(ctx, next.ID, now)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, principal.ID, principal.Role, next.ID, nil, nil)
	return pair, nil
}

// ValidateAccess verifies an access token without a storage round-trip
// and returns the identity it asserts. Garbage input is an ordinary
// ErrTokenInvalid outcome, never a panic.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Identity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Verify(accessToken, jwt.PurposeAccess)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &Identity{
		PrincipalID: claims.Subject,
		Role:        claims.Role,
		SessionID:   claims.TokenID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes one session. Revoking a missing or already-revoked
// session is a no-op success.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.sessions.Revoke(ctx, sessionID, e.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, "", "", sessionID, nil, nil)
	return nil
}

// LogoutAll revokes every active session of the principal and returns
// the count revoked.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	count, err := e.sessions.RevokeAll(ctx, principalID, e.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, principalID, "", "", nil, map[string]string{
		"revoked": fmt.Sprint(count),
	})
	return count, nil
}

// Sessions lists the principal's active sessions.
func (e *Engine) Sessions(ctx context.Context, principalID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	rows, err := e.sessions.List(ctx, principalID, e.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	infos := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, SessionInfo{
			ID:        row.ID,
			Context:   row.Context,
			IssuedAt:  time.Unix(row.IssuedAt, 0).UTC(),
			ExpiresAt: time.Unix(row.ExpiresAt, 0).UTC(),
		})
	}
	return infos, nil
}

// recordLoginFailure counts the miss and locks the account when the
// windowed count reaches the role's threshold.
func (e *Engine) recordLoginFailure(ctx context.Context, principal *Principal, now time.Time) error {
	policy := e.config.lockout(principal.Role)

	count, err := e.store.RecordFailure(ctx, principal.ID, now, policy.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count >= policy.Threshold {
		until := now.Add(policy.Duration)
		if err := e.store.SetLock(ctx, principal.ID, until); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, principal.Role, "", ErrAccountLocked, map[string]string{
			"failures": fmt.Sprint(count),
		})
		return &LockedError{Until: until}
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, principal.ID, principal.Role, "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, principal *Principal, password string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsRehash(principal.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.hasher.Hash(password)
	if err != nil {
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, principal.ID, newHash); err != nil {
		log.Printf("authcore: upgrade password hash: %v", err)
	}
}

// issuePair opens a fresh session and signs the pair bound to it.
func (e *Engine) issuePair(ctx context.Context, principal *Principal, sessionContext string, now time.Time) (*TokenPair, error) {
	refreshTTL := e.config.refreshTTL(principal.Role)

	sess, err := e.sessions.Open(ctx, principal.ID, principal.Role, sessionContext, refreshTTL, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricSessionOpened)

	return e.signPair(principal, sess, now)
}

// signPair signs access and refresh tokens for an already opened
// session row.
func (e *Engine) signPair(principal *Principal, sess *session.Session, now time.Time) (*TokenPair, error) {
	accessTTL := e.config.accessTTL(principal.Role)
	refreshTTL := time.Unix(sess.ExpiresAt, 0).Sub(now)

	access, err := e.jwtManager.Sign(principal.ID, principal.Role, jwt.PurposeAccess, sess.ID, accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := e.jwtManager.Sign(principal.ID, principal.Role, jwt.PurposeRefresh, sess.ID, refreshTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiredAt:        now.Add(accessTTL).UTC(),
		RefreshableUntil: time.Unix(sess.ExpiresAt, 0).UTC(),
		SessionID:        sess.ID,
	}, nil
}

// discardSession best-effort revokes a successor row that must not
// survive a failed refresh.
func (e *Engine) discardSession(ctx context.Context, sessionID string, now time.Time) {
	if err := e.sessions.Revoke(ctx, sessionID, now); err != nil {
		log.Printf("authcore: discard session %s: %v", sessionID, err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sessionContextFromContext(ctx context.Context) string {
	ip := clientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)
	switch {
	case ip != "" && ua != "":
		return ip + " " + ua
	case ip != "":
		return ip
	default:
		return ua
	}
}
