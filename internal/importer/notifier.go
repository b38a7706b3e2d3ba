package importer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Dispatcher sends one provisioning email per created account, pacing
// consecutive sends through a DelayGate to respect the mail provider's
// throughput limit.
type Dispatcher struct {
	store   AccountStore
	sender  MailSender
	gate    *DelayGate
	baseURL string
	log     *slog.Logger
}

// NewDispatcher returns a Dispatcher for one job's accounts. The gate is
// owned by the dispatcher and must not be shared across jobs.
func NewDispatcher(store AccountStore, sender MailSender, gate *DelayGate, baseURL string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, sender: sender, gate: gate, baseURL: baseURL, log: log}
}

// Notify sends the provisioning email for one account and, on success,
// flips it from pending to active with notified=true. On failure the
// account is left pending and the error returned; the caller records it
// and moves on — a failed send must never abort the remaining queue, and
// it is not retried inline (an inline retry would re-violate the rate
// limit). Pending accounts are recovered via the separate resend path.
func (d *Dispatcher) Notify(ctx context.Context, acct *Account) error {
	if err := d.gate.Wait(ctx); err != nil {
		return fmt.Errorf("rate gate: %w", err)
	}

	setupURL := SetupURL(d.baseURL, acct.Token)
	if err := d.sender.SendInvite(ctx, acct.Email, acct.Name, setupURL); err != nil {
		return fmt.Errorf("send invite: %w", err)
	}

	if err := d.store.Activate(ctx, acct.Email); err != nil {
		// The mail went out but the status flip failed; the account stays
		// pending and the resend path will re-deliver and activate it.
		return fmt.Errorf("activate account: %w", err)
	}

	acct.Notified = true
	return nil
}

// SetupURL builds the credential-setup link embedded in a provisioning
// email.
func SetupURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/setup?token=" + url.QueryEscape(token)
}
