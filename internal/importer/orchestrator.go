package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxBatchSize    = 100
	DefaultInterEmailDelay = 600 * time.Millisecond
	DefaultTokenTTL        = 7 * 24 * time.Hour
)

// ErrMailNotConfigured aborts a job when the mail transport is missing.
var ErrMailNotConfigured = errors.New("mail transport is not configured")

// Config carries the import pipeline settings. All values are injected at
// construction; components never read ambient process state.
type Config struct {
	BaseURL         string
	MaxBatchSize    int
	InterEmailDelay time.Duration
	TokenTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.InterEmailDelay <= 0 {
		c.InterEmailDelay = DefaultInterEmailDelay
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	return c
}

// Orchestrator drives import jobs through validate → create → notify and
// reports progress. One orchestrator serves many jobs; each Run call owns
// its job's mutable state, so concurrent jobs share nothing but the store.
type Orchestrator struct {
	store  AccountStore
	sender MailSender
	clock  Clock
	cfg    Config
	log    *slog.Logger
}

// NewOrchestrator wires the pipeline. sender may be nil when the mail
// transport is unconfigured; jobs will then abort at intake.
func NewOrchestrator(store AccountStore, sender MailSender, clock Clock, cfg Config, log *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:  store,
		sender: sender,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// Run processes one uploaded batch to completion, emitting progress to rep
// and closing it after the terminal event. The caller typically runs it in
// a goroutine and drains rep; cancellation of the reporting transport is
// advisory only — Run itself always finishes the work it has started so no
// account is left half-provisioned.
func (o *Orchestrator) Run(ctx context.Context, rows []RawRow, rep *Reporter) Summary {
	defer rep.Close()

	job := &Job{
		ID:      uuid.NewString(),
		Start:   o.clock.Now(),
		Phase:   PhaseIntake,
		RawRows: rows,
	}
	log := o.log.With("job_id", job.ID)

	if err := o.intake(rows); err != nil {
		job.Phase = PhaseAborted
		rep.Emit(NewErrorEvent(err.Error()))
		log.Warn("import aborted", "reason", err, "rows", len(rows))
		return Summary{TotalRows: len(rows), Aborted: true}
	}

	o.validate(job, rep)
	o.create(ctx, job, rep, log)
	notified := o.notify(ctx, job, rep, log)

	job.Phase = PhaseComplete
	sum := o.summarize(job, notified)
	rep.Emit(NewCompleteEvent(sum))

	log.Info("import complete",
		"rows", sum.TotalRows,
		"imported", sum.Imported,
		"notified", sum.Notified,
		"pending", sum.Pending,
		"rejected", len(sum.Rejections),
		"elapsed_ms", sum.Elapsed.Milliseconds(),
	)
	return sum
}

// intake checks the job-fatal preconditions. Failing any of them aborts
// the whole job before a single row is processed.
func (o *Orchestrator) intake(rows []RawRow) error {
	if o.sender == nil {
		return ErrMailNotConfigured
	}
	if len(rows) == 0 {
		return errors.New("the uploaded document contains no data rows")
	}
	if len(rows) > o.cfg.MaxBatchSize {
		return fmt.Errorf("batch of %d rows exceeds the maximum of %d rows per import", len(rows), o.cfg.MaxBatchSize)
	}
	return nil
}

// validate runs the row validator over the full batch, then resolves
// in-file duplicates. It fully completes before any creation starts, so
// the creating phase only ever sees deduplicated, schema-valid rows.
func (o *Orchestrator) validate(job *Job, rep *Reporter) {
	job.Phase = PhaseValidating
	rep.Emit(NewPhaseEvent(PhaseValidating, len(job.RawRows)))

	job.Outcomes = make([]RowOutcome, 0, len(job.RawRows))
	for i, row := range job.RawRows {
		rep.Emit(NewProgressEvent(PhaseValidating, i+1, len(job.RawRows), rowLabel(row)))
		job.Outcomes = append(job.Outcomes, ValidateRow(row))
	}
	ResolveDuplicates(job.Outcomes)
}

// create persists one pending account per valid row, sequentially. A
// creation failure rewrites that row's outcome to a rejection; the loop
// never aborts on a per-row failure.
func (o *Orchestrator) create(ctx context.Context, job *Job, rep *Reporter, log *slog.Logger) {
	valid := make([]int, 0, len(job.Outcomes))
	for i, out := range job.Outcomes {
		if out.Valid != nil {
			valid = append(valid, i)
		}
	}

	job.Phase = PhaseCreating
	rep.Emit(NewPhaseEvent(PhaseCreating, len(valid)))

	creator := NewCreator(o.store, o.clock, o.cfg.TokenTTL, log)
	for n, i := range valid {
		row := *job.Outcomes[i].Valid
		rep.Emit(NewProgressEvent(PhaseCreating, n+1, len(valid), row.Email))

		acct, rej := creator.Create(ctx, row)
		if rej != nil {
			job.Outcomes[i] = RowOutcome{Index: row.Index, Rejected: rej}
			continue
		}
		job.Accounts = append(job.Accounts, acct)
	}
}

// notify dispatches provisioning emails over exactly the created accounts
// and returns how many were delivered. Individual failures leave the
// account pending and the loop moving.
func (o *Orchestrator) notify(ctx context.Context, job *Job, rep *Reporter, log *slog.Logger) int {
	job.Phase = PhaseNotifying
	rep.Emit(NewPhaseEvent(PhaseNotifying, len(job.Accounts)))

	gate := NewDelayGate(o.cfg.InterEmailDelay, o.clock)
	dispatcher := NewDispatcher(o.store, o.sender, gate, o.cfg.BaseURL, log)

	notified := 0
	for i, acct := range job.Accounts {
		rep.Emit(NewProgressEvent(PhaseNotifying, i+1, len(job.Accounts), acct.Email))

		if err := dispatcher.Notify(ctx, acct); err != nil {
			log.Warn("provisioning email not delivered", "email", acct.Email, "error", err)
			continue
		}
		notified++
	}
	return notified
}

func (o *Orchestrator) summarize(job *Job, notified int) Summary {
	sum := Summary{
		TotalRows: len(job.RawRows),
		Imported:  len(job.Accounts),
		Notified:  notified,
		Pending:   len(job.Accounts) - notified,
		Elapsed:   o.clock.Now().Sub(job.Start),
	}
	for _, out := range job.Outcomes {
		if out.Rejected != nil {
			sum.Rejections = append(sum.Rejections, *out.Rejected)
		}
	}
	return sum
}

// rowLabel identifies the item in flight for progress consumers: the
// email when present, otherwise the user-facing row number.
func rowLabel(row RawRow) string {
	if e := row.Email; e != "" {
		return e
	}
	return fmt.Sprintf("row %d", row.SheetRow())
}
