// Package memory provides an in-process CredentialStore. It backs the
// engine's own tests and is handy for prototypes; production deployments
// should use store/mysql.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wrtnlabs/authcore"
)

type record struct {
	principal authcore.Principal
	failures  []time.Time
}

// Store is a mutex-guarded map of principals keyed by id.
type Store struct {
	mu   sync.Mutex
	byID map[string]*record
}

func New() *Store {
	return &Store{
		byID: map[string]*record{},
	}
}

func (s *Store) FindByEmail(_ context.Context, role, email string) (*authcore.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.byID {
		p := rec.principal
		if p.Role == role && p.Email == email && p.DeletedAt.IsZero() {
			out := p
			return &out, nil
		}
	}
	return nil, authcore.ErrPrincipalNotFound
}

func (s *Store) FindByID(_ context.Context, id string) (*authcore.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok || !rec.principal.DeletedAt.IsZero() {
		return nil, authcore.ErrPrincipalNotFound
	}
	out := rec.principal
	return &out, nil
}

func (s *Store) Create(_ context.Context, input authcore.CreatePrincipalInput) (*authcore.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Uniqueness is scoped to (role, email) among non-deleted rows, so
	// a soft-deleted principal's email can be reclaimed.
	for _, rec := range s.byID {
		p := rec.principal
		if p.Role == input.Role && p.Email == input.Email && p.DeletedAt.IsZero() {
			return nil, authcore.ErrDuplicatePrincipal
		}
	}

	p := authcore.Principal{
		ID:           input.ID,
		Role:         input.Role,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Profile:      input.Profile,
		CreatedAt:    input.CreatedAt,
		UpdatedAt:    input.CreatedAt,
	}
	s.byID[input.ID] = &record{principal: p}

	out := p
	return &out, nil
}

func (s *Store) RecordFailure(_ context.Context, id string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return 0, authcore.ErrPrincipalNotFound
	}

	cutoff := now.Add(-window)
	kept := rec.failures[:0]
	for _, t := range rec.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rec.failures = append(kept, now)
	rec.principal.FailedLogins = len(rec.failures)
	rec.principal.UpdatedAt = now
	return len(rec.failures), nil
}

func (s *Store) ResetFailures(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return authcore.ErrPrincipalNotFound
	}
	rec.failures = nil
	rec.principal.FailedLogins = 0
	rec.principal.LockedUntil = time.Time{}
	return nil
}

func (s *Store) SetLock(_ context.Context, id string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return authcore.ErrPrincipalNotFound
	}
	rec.principal.LockedUntil = until
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return authcore.ErrPrincipalNotFound
	}
	rec.principal.PasswordHash = hash
	return nil
}

func (s *Store) MarkVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return authcore.ErrPrincipalNotFound
	}
	rec.principal.EmailVerified = true
	return nil
}

func (s *Store) MarkDeleted(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return authcore.ErrPrincipalNotFound
	}
	rec.principal.DeletedAt = now
	return nil
}
