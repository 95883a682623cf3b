package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fxreval/internal/revaluation"
)

const abortTTL = 24 * time.Hour

// RunStore reads and purges run records.
type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (revaluation.Run, error)
	Details(ctx context.Context, id uuid.UUID) ([]revaluation.Detail, error)
	Cleanup(ctx context.Context, id uuid.UUID) (revaluation.CleanupResult, error)
}

// Aborter flags a run for cooperative cancellation.
type Aborter interface {
	RequestAbort(ctx context.Context, runID uuid.UUID, ttl time.Duration) error
}

// RunsCLI inspects and maintains run records.
type RunsCLI struct {
	runs   RunStore
	aborts Aborter
}

// NewRunsCLI constructs the runs commands.
func NewRunsCLI(runs RunStore, aborts Aborter) *RunsCLI {
	return &RunsCLI{runs: runs, aborts: aborts}
}

// RunsOptions identifies the run a command acts on.
type RunsOptions struct {
	RunID       string
	ErrorsOnly  bool
	WithDetails bool
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

type runSummary struct {
	revaluation.Run
	DisplayStatus string               `json:"display_status"`
	Details       []revaluation.Detail `json:"details,omitempty"`
}

// ShowCommand prints a run and optionally its detail rows.
func (c *RunsCLI) ShowCommand(ctx context.Context, opts RunsOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	id, ok := c.parseID(stderr, "runs show", opts.RunID)
	if !ok {
		return ExitError
	}
	run, err := c.runs.Get(ctx, id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "runs show: %v\n", err)
		return ExitError
	}
	summary := runSummary{Run: run, DisplayStatus: run.DisplayStatus()}
	if opts.WithDetails || opts.ErrorsOnly {
		details, err := c.runs.Details(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "runs show: %v\n", err)
			return ExitError
		}
		for _, d := range details {
			if opts.ErrorsOnly && !d.Failed() {
				continue
			}
			summary.Details = append(summary.Details, d)
		}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "runs show: encode json: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
	_, _ = fmt.Fprintf(stdout, "Run %s company %s %d-%02d (%s): %s\n", run.ID, run.CompanyCode,
		run.FiscalYear, run.FiscalPeriod, run.Type, summary.DisplayStatus)
	_, _ = printer.Fprintf(stdout, "Accounts processed %d, revaluations %d, gain %s, loss %s\n",
		run.Totals.AccountsProcessed, run.Totals.RevaluationsCreated, amount(run.Totals.TotalGain), amount(run.Totals.TotalLoss))
	for _, doc := range run.JournalDocuments {
		_, _ = fmt.Fprintf(stdout, " document %s\n", doc)
	}
	for _, d := range summary.Details {
		if d.Failed() {
			_, _ = fmt.Fprintf(stdout, " ! %s/%s %s: %s\n", d.LedgerID, d.GLAccount, d.AccountCurrency, d.ErrorMessage)
			continue
		}
		_, _ = fmt.Fprintf(stdout, " - %s/%s %s gain/loss %s\n", d.LedgerID, d.GLAccount, d.AccountCurrency, amount(d.UnrealizedGainLoss))
	}
	return ExitOK
}

// CleanupCommand deletes a terminal run's details and draft documents.
func (c *RunsCLI) CleanupCommand(ctx context.Context, opts RunsOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	id, ok := c.parseID(stderr, "runs cleanup", opts.RunID)
	if !ok {
		return ExitError
	}
	res, err := c.runs.Cleanup(ctx, id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "runs cleanup: %v\n", err)
		if errors.Is(err, revaluation.ErrRunActive) {
			return ExitBusy
		}
		return ExitError
	}
	_, _ = fmt.Fprintf(stdout, "Run %s cleaned: %d detail row(s), %d draft document(s) removed\n",
		res.RunID, res.DetailsDeleted, res.DocumentsDeleted)
	return ExitOK
}

// AbortCommand requests cancellation of an in-flight run. The run stops at
// the next ledger boundary.
func (c *RunsCLI) AbortCommand(ctx context.Context, opts RunsOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	id, ok := c.parseID(stderr, "runs abort", opts.RunID)
	if !ok {
		return ExitError
	}
	if c.aborts == nil {
		_, _ = fmt.Fprintln(stderr, "runs abort: abort signalling not configured")
		return ExitError
	}
	run, err := c.runs.Get(ctx, id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "runs abort: %v\n", err)
		return ExitError
	}
	if run.Status.Terminal() {
		_, _ = fmt.Fprintf(stderr, "runs abort: run %s already %s\n", id, run.DisplayStatus())
		return ExitError
	}
	if err := c.aborts.RequestAbort(ctx, id, abortTTL); err != nil {
		_, _ = fmt.Fprintf(stderr, "runs abort: %v\n", err)
		return ExitError
	}
	_, _ = fmt.Fprintf(stdout, "Abort requested for run %s\n", id)
	return ExitOK
}

func (c *RunsCLI) parseID(stderr io.Writer, cmd, raw string) (uuid.UUID, bool) {
	if c.runs == nil {
		_, _ = fmt.Fprintf(stderr, "%s: run store not configured\n", cmd)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: invalid run id %q\n", cmd, raw)
		return uuid.Nil, false
	}
	return id, true
}
