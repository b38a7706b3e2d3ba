// Package store persists provisioned accounts in PostgreSQL, keyed by
// normalized email. It implements importer.AccountStore.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"provisiond/internal/importer"
)

// Account statuses. A pending account exists but is unusable until its
// provisioning email has been delivered.
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

// ErrNotFound is returned when no account exists for an email.
var ErrNotFound = errors.New("account not found")

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email            TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	role             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	notified         BOOLEAN NOT NULL DEFAULT FALSE,
	setup_token      TEXT NOT NULL,
	token_expires_at TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store is the pgx-backed account store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store on the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the accounts table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure accounts schema: %w", err)
	}
	return nil
}

// Exists reports whether an account is persisted for the email.
func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account existence: %w", err)
	}
	return exists, nil
}

// Create persists a new pending account with no usable password and the
// provisioning token attached. The insert is atomic create-if-absent: a
// concurrent create for the same email surfaces as
// importer.ErrAlreadyExists rather than a duplicate row.
func (s *Store) Create(ctx context.Context, acct importer.Account) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, name, role, status, setup_token, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		acct.Email, acct.Name, string(acct.Role), StatusPending, acct.Token, acct.TokenExpiry,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", importer.ErrAlreadyExists
		}
		return "", fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// Activate flips an account from pending to active and marks it notified.
func (s *Store) Activate(ctx context.Context, email string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET status = $1, notified = TRUE, updated_at = now()
		WHERE email = $2`,
		StatusActive, email,
	)
	if err != nil {
		return fmt.Errorf("activate account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Record is a stored account row, as needed by the resend path.
type Record struct {
	ID          string
	Email       string
	Name        string
	Role        string
	Status      string
	Notified    bool
	Token       string
	TokenExpiry time.Time
}

// GetByEmail fetches one account.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, role, status, notified, setup_token, token_expires_at
		FROM accounts
		WHERE email = $1`, email,
	).Scan(&rec.ID, &rec.Email, &rec.Name, &rec.Role, &rec.Status, &rec.Notified, &rec.Token, &rec.TokenExpiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &rec, nil
}

// ReplaceToken attaches a fresh provisioning token with a new expiry to a
// pending account. Used by the resend path when the stored token expired.
func (s *Store) ReplaceToken(ctx context.Context, email, token string, expiry time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET setup_token = $1, token_expires_at = $2, updated_at = now()
		WHERE email = $3 AND status = $4`,
		token, expiry, email, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("replace token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
