package importer

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Creator persists one pending account per validated row. Each call is an
// independent write to the store; one failure never rolls back the rest of
// the batch.
type Creator struct {
	store    AccountStore
	clock    Clock
	tokenTTL time.Duration
	log      *slog.Logger
}

// NewCreator returns a Creator. tokenTTL bounds the validity of the
// provisioning token issued with each account.
func NewCreator(store AccountStore, clock Clock, tokenTTL time.Duration, log *slog.Logger) *Creator {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Creator{store: store, clock: clock, tokenTTL: tokenTTL, log: log}
}

// Create attempts to provision one account for an already-deduplicated
// valid row. It returns either the created account or the rejection to
// record for the row, never both.
//
// The store is consulted first: an existing account is rejected with
// already-exists, reported as a creation failure rather than a validation
// failure because it can only be known from external state. The same
// pre-check makes a retry after a transient store failure safe — it cannot
// create a second account for the email.
func (c *Creator) Create(ctx context.Context, row ValidatedRow) (*Account, *Rejection) {
	exists, err := c.store.Exists(ctx, row.Email)
	if err != nil {
		c.log.Warn("account existence check failed", "email", row.Email, "error", err)
		return nil, c.reject(row, ReasonStoreError)
	}
	if exists {
		return nil, c.reject(row, ReasonAlreadyExists)
	}

	token, err := NewToken()
	if err != nil {
		c.log.Error("token generation failed", "email", row.Email, "error", err)
		return nil, c.reject(row, ReasonStoreError)
	}

	acct := Account{
		Email:       row.Email,
		Name:        row.Name,
		Role:        row.Role,
		Token:       token,
		TokenExpiry: c.clock.Now().Add(c.tokenTTL),
	}

	id, err := c.store.Create(ctx, acct)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with a concurrent create for the same email.
			return nil, c.reject(row, ReasonAlreadyExists)
		}
		c.log.Warn("account create failed", "email", row.Email, "error", err)
		return nil, c.reject(row, ReasonStoreError)
	}
	acct.ID = id

	return &acct, nil
}

func (c *Creator) reject(row ValidatedRow, reason Reason) *Rejection {
	return &Rejection{
		Row:    row.Index + HeaderOffset,
		Email:  row.Email,
		Reason: reason,
	}
}
