package importer

import (
	"context"
	"errors"
	"strings"
	"time"
)

// HeaderOffset is added to a data row's 1-based index to produce the row
// number shown to users. The header row occupies the first sheet row, so
// data row i is reported as row i+1.
const HeaderOffset = 1

// Phase is one stage of the import state machine. Transitions are strictly
// forward; Aborted is terminal and reachable from any state.
type Phase string

const (
	PhaseIntake     Phase = "intake"
	PhaseValidating Phase = "validating"
	PhaseCreating   Phase = "creating"
	PhaseNotifying  Phase = "notifying"
	PhaseComplete   Phase = "complete"
	PhaseAborted    Phase = "aborted"
)

// Role is one of the closed set of account roles a roster may assign.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
)

// ParseRole normalizes a raw role value and reports whether it is a member
// of the closed role set.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleInstructor:
		return RoleInstructor, true
	case RoleStaff:
		return RoleStaff, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Reason identifies why a row or account could not be fully provisioned.
type Reason string

const (
	// Validation failures (no external state consulted).
	ReasonMissingField    Reason = "missing-field"
	ReasonInvalidEmail    Reason = "invalid-email"
	ReasonInvalidRole     Reason = "invalid-role"
	ReasonDuplicateInFile Reason = "duplicate-in-file"

	// Creation failures (known only by consulting the store).
	ReasonAlreadyExists Reason = "already-exists"
	ReasonStoreError    Reason = "store-error"
)

// RawRow is one untyped record from the uploaded roster, produced by the
// parsing boundary in internal/roster. Index is the 1-based position among
// data rows.
type RawRow struct {
	Index int
	Name  string
	Email string
	Role  string
}

// SheetRow returns the user-facing row number for this record.
func (r RawRow) SheetRow() int { return r.Index + HeaderOffset }

// ValidatedRow is a RawRow that passed schema checks, with normalized
// fields: name trimmed, email trimmed and lower-cased, role a member of
// the closed role set.
type ValidatedRow struct {
	Index int
	Name  string
	Email string
	Role  Role
}

// Rejection records why a single row was excluded from provisioning.
type Rejection struct {
	Row    int    `json:"row"`              // user-facing sheet row number
	Email  string `json:"email"`            // normalized email, or a placeholder when absent
	Reason Reason `json:"reason"`           // machine-readable reason code
	Detail string `json:"detail,omitempty"` // e.g. which fields were missing
}

// RowOutcome is the result of processing one raw row. Exactly one of Valid
// and Rejected is non-nil; every raw row produces exactly one outcome.
type RowOutcome struct {
	Index    int
	Valid    *ValidatedRow
	Rejected *Rejection
}

// Account is a provisioned account owned by the job until it completes,
// and by the persistent store afterwards.
type Account struct {
	ID          string
	Email       string
	Name        string
	Role        Role
	Token       string
	TokenExpiry time.Time
	Notified    bool
}

// Job is the unit of work for one uploaded batch. It is mutated only by
// the orchestrator and discarded once the final summary is delivered; jobs
// are not resumable across process restarts.
type Job struct {
	ID       string
	Start    time.Time
	Phase    Phase
	RawRows  []RawRow
	Outcomes []RowOutcome
	Accounts []*Account
}

// Summary is the final aggregate for a job. Notified accounts are fully
// provisioned; Pending accounts exist but await a successful resend.
type Summary struct {
	TotalRows  int
	Imported   int // accounts created
	Notified   int
	Pending    int
	Rejections []Rejection
	Elapsed    time.Duration
	Aborted    bool
}

// ErrAlreadyExists is returned by AccountStore.Create when an account with
// the same email is already persisted.
var ErrAlreadyExists = errors.New("account already exists")

// AccountStore is the persistent user store, keyed by normalized email.
// Create must be an atomic create-if-absent so that retries after a
// transient failure cannot produce duplicates.
type AccountStore interface {
	Exists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, acct Account) (id string, err error)
	Activate(ctx context.Context, email string) error
}

// MailSender delivers one provisioning email. Implementations live in
// internal/mail; the pipeline only sees this call.
type MailSender interface {
	SendInvite(ctx context.Context, to, name, setupURL string) error
}

// Clock abstracts time for the rate gate and token expiry so tests can
// inject a fake.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
