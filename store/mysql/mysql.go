// Package mysql provides a CredentialStore backed by MySQL. Schema is
// in schema.sql; the active-email uniqueness constraint relies on the
// generated `active` column so soft-deleted rows release their email.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/wrtnlabs/authcore"
)

const duplicateEntryErrNo = 1062

// Store implements authcore.CredentialStore on a *sql.DB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const principalColumns = `id, role, email, password_hash, profile, email_verified,
	failed_logins, locked_until, created_at, updated_at, deleted_at`

func (s *Store) FindByEmail(ctx context.Context, role, email string) (*authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE role = ? AND email = ? AND deleted_at IS NULL`,
		role, email,
	)
	return scanPrincipal(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*authcore.Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals
		 WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	return scanPrincipal(row)
}

func (s *Store) Create(ctx context.Context, input authcore.CreatePrincipalInput) (*authcore.Principal, error) {
	profile, err := encodeProfile(input.Profile)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO principals (id, role, email, password_hash, profile, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		input.ID, input.Role, input.Email, input.PasswordHash, profile, input.CreatedAt, input.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntryErrNo {
			return nil, authcore.ErrDuplicatePrincipal
		}
		return nil, fmt.Errorf("insert principal: %w", err)
	}

	return &authcore.Principal{
		ID:           input.ID,
		Role:         input.Role,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Profile:      input.Profile,
		CreatedAt:    input.CreatedAt,
		UpdatedAt:    input.CreatedAt,
	}, nil
}

// RecordFailure counts a miss inside the sliding window. The row lock
// serializes concurrent logins on the same principal; the counter is
// restarted rather than incremented when the stored window anchor has
// already elapsed, so stale failures never contribute.
func (s *Store) RecordFailure(ctx context.Context, id string, now time.Time, window time.Duration) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	var firstFailedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT failed_logins, first_failed_at FROM principals
		 WHERE id = ? AND deleted_at IS NULL FOR UPDATE`,
		id,
	).Scan(&count, &firstFailedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, authcore.ErrPrincipalNotFound
		}
		return 0, fmt.Errorf("select for update: %w", err)
	}

	anchor := now
	if firstFailedAt.Valid && now.Sub(firstFailedAt.Time) <= window {
		anchor = firstFailedAt.Time
		count++
	} else {
		count = 1
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE principals SET failed_logins = ?, first_failed_at = ?, updated_at = ? WHERE id = ?`,
		count, anchor, now, id,
	)
	if err != nil {
		return 0, fmt.Errorf("update failures: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

func (s *Store) ResetFailures(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE principals
		 SET failed_logins = 0, first_failed_at = NULL, locked_until = NULL
		 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

func (s *Store) SetLock(ctx context.Context, id string, until time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE principals SET locked_until = ? WHERE id = ?`,
		until, id,
	)
	if err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		hash, id,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return requireRow(res)
}

func (s *Store) MarkVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET email_verified = 1 WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return requireRow(res)
}

func (s *Store) MarkDeleted(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return authcore.ErrPrincipalNotFound
	}
	return nil
}

// encodeProfile marshals the profile map for the JSON column. An empty
// map stores NULL.
func encodeProfile(profile map[string]string) ([]byte, error) {
	if len(profile) == 0 {
		return nil, nil
	}
	return json.Marshal(profile)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipal(row rowScanner) (*authcore.Principal, error) {
	var p authcore.Principal
	var verified bool
	var profile []byte
	var lockedUntil, deletedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Role, &p.Email, &p.PasswordHash, &profile, &verified,
		&p.FailedLogins, &lockedUntil, &p.CreatedAt, &p.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}

	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &p.Profile); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
	}
	p.EmailVerified = verified
	if lockedUntil.Valid {
		p.LockedUntil = lockedUntil.Time
	}
	if deletedAt.Valid {
		p.DeletedAt = deletedAt.Time
	}
	return &p, nil
}
