package revaluation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunPatch carries the columns a status transition may set.
type RunPatch struct {
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Totals           *Totals
	JournalDocuments []string
	Errors           []string
}

// Store persists runs and their details.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	TransitionRun(ctx context.Context, id uuid.UUID, from, to RunStatus, patch RunPatch) error
	AppendDetail(ctx context.Context, d Detail) error
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	ListDetails(ctx context.Context, id uuid.UUID) ([]Detail, error)
	PurgeRun(ctx context.Context, id uuid.UUID) (int64, error)
}

// JournalPurger removes the DRAFT documents a run produced.
type JournalPurger interface {
	DeleteDraftsByRun(ctx context.Context, runID uuid.UUID) (int64, error)
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	RunID            uuid.UUID
	DetailsDeleted   int64
	DocumentsDeleted int64
}

// RunLedger is the audit trail of revaluation runs.
type RunLedger struct {
	store   Store
	journal JournalPurger
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunLedger constructs a RunLedger. journal may be nil when cleanup of
// journal documents is not wired.
func NewRunLedger(store Store, journal JournalPurger, logger *slog.Logger) *RunLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunLedger{store: store, journal: journal, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (l *RunLedger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Create records a PENDING run. A *ConcurrentRunError is returned when
// another in-flight run holds any of the ledgers; no record is kept then.
func (l *RunLedger) Create(ctx context.Context, run Run) (Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if !run.Type.Valid() {
		return Run{}, fmt.Errorf("revaluation: unsupported run type %q", run.Type)
	}
	if len(run.Ledgers) == 0 {
		return Run{}, fmt.Errorf("revaluation: at least one ledger required")
	}
	run.Status = RunStatusPending
	run.CreatedAt = l.now().UTC()
	if err := l.store.CreateRun(ctx, run); err != nil {
		return Run{}, err
	}
	l.logger.Info("fx revaluation run created", slog.String("run_id", run.ID.String()), slog.String("company", run.CompanyCode))
	return run, nil
}

// Start moves a PENDING run to RUNNING.
func (l *RunLedger) Start(ctx context.Context, run *Run) error {
	started := l.now().UTC()
	if err := l.transition(ctx, run, RunStatusRunning, RunPatch{StartedAt: &started}); err != nil {
		return err
	}
	run.StartedAt = &started
	return nil
}

// Complete records the terminal COMPLETED state with totals, documents and
// itemised errors.
func (l *RunLedger) Complete(ctx context.Context, run *Run, totals Totals, documents, errs []string) error {
	done := l.now().UTC()
	patch := RunPatch{CompletedAt: &done, Totals: &totals, JournalDocuments: documents, Errors: errs}
	if err := l.transition(ctx, run, RunStatusCompleted, patch); err != nil {
		return err
	}
	run.CompletedAt = &done
	run.Totals = totals
	run.JournalDocuments = documents
	run.Errors = errs
	return nil
}

// Fail records the terminal FAILED state.
func (l *RunLedger) Fail(ctx context.Context, run *Run, cause error, errs []string) error {
	done := l.now().UTC()
	if cause != nil {
		errs = append([]string{cause.Error()}, errs...)
	}
	if err := l.transition(ctx, run, RunStatusFailed, RunPatch{CompletedAt: &done, Errors: errs}); err != nil {
		return err
	}
	run.CompletedAt = &done
	run.Errors = errs
	return nil
}

func (l *RunLedger) transition(ctx context.Context, run *Run, to RunStatus, patch RunPatch) error {
	if !run.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, to)
	}
	if err := l.store.TransitionRun(ctx, run.ID, run.Status, to, patch); err != nil {
		return err
	}
	l.logger.Info("fx revaluation run transition",
		slog.String("run_id", run.ID.String()),
		slog.String("from", string(run.Status)),
		slog.String("to", string(to)))
	run.Status = to
	return nil
}

// AppendDetail writes one detail row.
func (l *RunLedger) AppendDetail(ctx context.Context, d Detail) error {
	return l.store.AppendDetail(ctx, d)
}

// Get returns a run by id.
func (l *RunLedger) Get(ctx context.Context, id uuid.UUID) (Run, error) {
	return l.store.GetRun(ctx, id)
}

// Details lists the detail rows of a run.
func (l *RunLedger) Details(ctx context.Context, id uuid.UUID) ([]Detail, error) {
	return l.store.ListDetails(ctx, id)
}

// Cleanup purges a finished run's details and the DRAFT journal documents it
// created. The run row itself stays for the audit trail.
func (l *RunLedger) Cleanup(ctx context.Context, id uuid.UUID) (CleanupResult, error) {
	run, err := l.store.GetRun(ctx, id)
	if err != nil {
		return CleanupResult{}, err
	}
	if !run.Status.Terminal() {
		return CleanupResult{}, ErrRunActive
	}
	res := CleanupResult{RunID: id}
	if l.journal != nil {
		res.DocumentsDeleted, err = l.journal.DeleteDraftsByRun(ctx, id)
		if err != nil {
			return CleanupResult{}, fmt.Errorf("revaluation: purge journal documents: %w", err)
		}
	}
	res.DetailsDeleted, err = l.store.PurgeRun(ctx, id)
	if err != nil {
		return CleanupResult{}, err
	}
	l.logger.Info("fx revaluation run purged",
		slog.String("run_id", id.String()),
		slog.Int64("details", res.DetailsDeleted),
		slog.Int64("documents", res.DocumentsDeleted))
	return res, nil
}
