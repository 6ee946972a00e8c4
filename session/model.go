package session

import "time"

// Session is one ledger row: a single issued refresh token and its
// lifecycle state. Context carries optional device/IP metadata and is
// informational only.
type Session struct {
	ID          string
	PrincipalID string
	Role        string
	Context     string
	IssuedAt    int64
	ExpiresAt   int64
	RevokedAt   int64 // zero while the row is Active
}

// Active reports whether the row is neither revoked nor expired at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == 0 && s.ExpiresAt > now.Unix()
}
