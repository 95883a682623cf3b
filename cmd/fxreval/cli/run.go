package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fxreval/internal/compliance"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/shared"
)

// Runner executes a revaluation run.
type Runner interface {
	Run(ctx context.Context, req compliance.RunRequest) (compliance.RunResult, error)
}

// RunCLI drives manual revaluation runs.
type RunCLI struct {
	runner Runner
}

// NewRunCLI constructs the run command.
func NewRunCLI(runner Runner) *RunCLI {
	return &RunCLI{runner: runner}
}

// RunOptions defines the flags of fxreval run.
type RunOptions struct {
	Company        string
	Date           string
	FiscalYear     int
	FiscalPeriod   int
	RunType        string
	Ledgers        []string
	CreateJournals bool
	Actor          string
	JSONOutput     bool
	Stdout         io.Writer
	Stderr         io.Writer
}

// RunCommand executes one run and prints the structured result. A completed
// run with itemised errors exits with ExitWarnings.
func (c *RunCLI) RunCommand(ctx context.Context, opts RunOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if strings.TrimSpace(opts.Company) == "" {
		_, _ = fmt.Fprintln(stderr, "fx run: --company is required")
		return ExitError
	}
	date, err := parseDate(opts.Date)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "fx run: invalid --date %q (expected YYYY-MM-DD)\n", opts.Date)
		return ExitError
	}
	fy, fp := shared.PeriodOf(date)
	if opts.FiscalYear > 0 {
		fy = opts.FiscalYear
	}
	if opts.FiscalPeriod > 0 {
		fp = opts.FiscalPeriod
	}
	actor := opts.Actor
	if actor == "" {
		actor = "cli"
	}
	res, err := c.runner.Run(ctx, compliance.RunRequest{
		CompanyCode:     opts.Company,
		RevaluationDate: date,
		FiscalYear:      fy,
		FiscalPeriod:    fp,
		RunType:         revaluation.RunType(strings.ToUpper(strings.TrimSpace(opts.RunType))),
		Ledgers:         opts.Ledgers,
		CreateJournals:  opts.CreateJournals,
		Actor:           actor,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "fx run: %v\n", err)
		if errors.Is(err, revaluation.ErrConcurrentRun) {
			return ExitBusy
		}
		if res.RunID == uuid.Nil {
			return ExitError
		}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(stderr, "fx run: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderRunHuman(stdout, res)
	}
	switch {
	case res.Status == revaluation.RunStatusFailed:
		return ExitError
	case res.HasWarnings():
		return ExitWarnings
	}
	return ExitOK
}

func renderRunHuman(out io.Writer, res compliance.RunResult) {
	_, _ = fmt.Fprintf(out, "FX revaluation %s for company %s: %s\n", res.RunID, res.CompanyCode, res.DisplayStatus())
	if res.FunctionalCurrency != "" {
		_, _ = fmt.Fprintf(out, "Functional currency %s (inflation %s)\n", res.FunctionalCurrency, res.Inflation)
	}
	_, _ = printer.Fprintf(out, "Accounts processed %d, revaluations %d, gain %s, loss %s\n",
		res.Totals.AccountsProcessed, res.Totals.RevaluationsCreated, amount(res.Totals.TotalGain), amount(res.Totals.TotalLoss))
	for _, l := range res.Ledgers {
		state := "ok"
		if l.Skipped {
			state = "skipped"
		} else if len(l.Errors) > 0 {
			state = "errors"
		}
		_, _ = fmt.Fprintf(out, " - %s [%s] %s", l.LedgerID, l.Standard, state)
		if l.Method != "" {
			_, _ = fmt.Fprintf(out, ", %s adjustment %s to %s", l.Method, amount(l.TranslationAdjustment), l.Destination)
		}
		if l.JournalDocument != "" {
			_, _ = fmt.Fprintf(out, ", document %s", l.JournalDocument)
		}
		_, _ = fmt.Fprintln(out)
		if l.RestatementNote != "" {
			_, _ = fmt.Fprintf(out, "   note: %s\n", l.RestatementNote)
		}
	}
	if len(res.Errors) > 0 {
		_, _ = fmt.Fprintf(out, "%d error(s):\n", len(res.Errors))
		for _, e := range res.Errors {
			_, _ = fmt.Fprintf(out, " ! %s\n", e)
		}
	}
}
