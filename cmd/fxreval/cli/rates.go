package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/fxreval/internal/compliance"
	"github.com/odyssey-erp/fxreval/internal/rates"
	"github.com/odyssey-erp/fxreval/internal/shared"
)

// Preflighter derives the rate requirements of a company's run.
type Preflighter interface {
	Preflight(ctx context.Context, req compliance.RunRequest) (rates.ValidationResult, error)
}

// RatesCLI offers the rate store helpers.
type RatesCLI struct {
	store     rates.Upserter
	quotes    rates.QuoteProvider
	preflight Preflighter
}

// NewRatesCLI constructs the helpers. Any dependency may be nil when the
// command that needs it is not used.
func NewRatesCLI(store rates.Upserter, quotes rates.QuoteProvider, preflight Preflighter) *RatesCLI {
	return &RatesCLI{store: store, quotes: quotes, preflight: preflight}
}

// RatesImportOptions defines the flags of fxreval rates import.
type RatesImportOptions struct {
	Source       string
	SourceReader io.Reader
	Stdin        io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// RatesImportSummary is the JSON output of rates import.
type RatesImportSummary struct {
	Imported int              `json:"imported"`
	Skipped  []RatesImportRow `json:"skipped"`
}

// RatesImportRow reports a rejected CSV line.
type RatesImportRow struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// ImportCommand loads a CSV of rates. Rejected rows exit with ExitWarnings.
func (c *RatesCLI) ImportCommand(ctx context.Context, opts RatesImportOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c.store == nil {
		_, _ = fmt.Fprintln(stderr, "rates import: rate store not configured")
		return ExitError
	}
	src, closeFn, err := openSource(opts.Source, opts.SourceReader, opts.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rates import: %v\n", err)
		return ExitError
	}
	defer closeFn()

	summary, err := rates.NewImporter(c.store).Import(ctx, src)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rates import: %v\n", err)
		return ExitError
	}
	out := RatesImportSummary{Imported: summary.Imported, Skipped: make([]RatesImportRow, 0, len(summary.Skipped))}
	for _, row := range summary.Skipped {
		out.Skipped = append(out.Skipped, RatesImportRow{Line: row.Line, Error: row.Err.Error()})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(stderr, "rates import: encode json: %v\n", err)
			return ExitError
		}
	} else {
		_, _ = printer.Fprintf(stdout, "Imported %d rate(s)\n", out.Imported)
		for _, row := range out.Skipped {
			_, _ = fmt.Fprintf(stdout, " - line %d skipped: %s\n", row.Line, row.Error)
		}
	}
	if len(out.Skipped) > 0 {
		return ExitWarnings
	}
	return ExitOK
}

// RatesValidateOptions defines the flags of fxreval rates validate. With
// Company set the requirements come from the company's ledgers; otherwise
// Pairs and Types are checked. File validates a CSV instead of the store.
type RatesValidateOptions struct {
	Company    string
	Ledgers    []string
	Date       string
	Pairs      []string
	Types      []string
	File       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RatesValidateSummary is the JSON output of rates validate.
type RatesValidateSummary struct {
	OK      bool           `json:"ok"`
	AsOf    string         `json:"as_of"`
	Checked int            `json:"checked"`
	Gaps    []RatesGapView `json:"gaps"`
}

// RatesGapView lists the missing types of one pair.
type RatesGapView struct {
	Pair  string   `json:"pair"`
	Types []string `json:"types"`
}

// ValidateCommand reports rate gaps and exits with ExitGaps when any exist.
func (c *RatesCLI) ValidateCommand(ctx context.Context, opts RatesValidateOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	asOf, err := parseDate(opts.Date)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rates validate: invalid --date %q (expected YYYY-MM-DD)\n", opts.Date)
		return ExitError
	}

	var res rates.ValidationResult
	if strings.TrimSpace(opts.Company) != "" {
		if c.preflight == nil {
			_, _ = fmt.Fprintln(stderr, "rates validate: company preflight not configured")
			return ExitError
		}
		fy, fp := shared.PeriodOf(asOf)
		res, err = c.preflight.Preflight(ctx, compliance.RunRequest{
			CompanyCode: opts.Company, RevaluationDate: asOf, FiscalYear: fy, FiscalPeriod: fp, Ledgers: opts.Ledgers,
		})
	} else {
		res, err = c.validatePairs(ctx, asOf, opts)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rates validate: %v\n", err)
		return ExitError
	}

	summary := RatesValidateSummary{OK: len(res.Gaps) == 0, AsOf: res.AsOf.Format("2006-01-02"), Checked: res.Checked, Gaps: make([]RatesGapView, 0, len(res.Gaps))}
	for _, gap := range res.Gaps {
		types := make([]string, len(gap.Types))
		for i, t := range gap.Types {
			types[i] = string(t)
		}
		sort.Strings(types)
		summary.Gaps = append(summary.Gaps, RatesGapView{Pair: gap.Pair, Types: types})
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "rates validate: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderGapsHuman(stdout, summary)
	}
	if !summary.OK {
		return ExitGaps
	}
	return ExitOK
}

func (c *RatesCLI) validatePairs(ctx context.Context, asOf time.Time, opts RatesValidateOptions) (rates.ValidationResult, error) {
	if len(opts.Pairs) == 0 {
		return rates.ValidationResult{}, errors.New("--company or --pair is required")
	}
	types := []rates.RateType{rates.RateTypeClosing, rates.RateTypeAverage}
	if len(opts.Types) > 0 {
		types = types[:0]
		for _, raw := range opts.Types {
			t, err := rates.ParseRateType(raw)
			if err != nil {
				return rates.ValidationResult{}, err
			}
			types = append(types, t)
		}
	}
	reqs := make([]rates.Requirement, 0, len(opts.Pairs))
	for _, raw := range opts.Pairs {
		from, to, err := parsePair(raw)
		if err != nil {
			return rates.ValidationResult{}, err
		}
		reqs = append(reqs, rates.Requirement{From: from, To: to, Types: types})
	}

	quotes := c.quotes
	if opts.File != "" {
		mem, err := loadMemoryRates(opts.File)
		if err != nil {
			return rates.ValidationResult{}, err
		}
		quotes = mem
	}
	if quotes == nil {
		return rates.ValidationResult{}, errors.New("rate store not configured")
	}
	return rates.Validate(ctx, quotes, asOf, reqs)
}

// loadMemoryRates parses a rates CSV into an in-memory store so a file can be
// checked before it is imported.
func loadMemoryRates(path string) (*rates.MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, rowErrs, err := rates.ParseCSV(f)
	if err != nil {
		return nil, err
	}
	if len(rowErrs) > 0 {
		return nil, fmt.Errorf("%s line %d: %v", path, rowErrs[0].Line, rowErrs[0].Err)
	}
	mem := rates.NewMemoryStore()
	for _, row := range rows {
		if _, err := mem.Upsert(context.Background(), row.Input); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, row.Line, err)
		}
	}
	return mem, nil
}

func renderGapsHuman(out io.Writer, summary RatesValidateSummary) {
	_, _ = fmt.Fprintf(out, "FX rate validation as of %s, %d pair(s) checked\n", summary.AsOf, summary.Checked)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All required FX rates are present.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(summary.Gaps))
	for _, gap := range summary.Gaps {
		_, _ = fmt.Fprintf(out, " - %s missing %s\n", gap.Pair, strings.Join(gap.Types, ", "))
	}
}

func openSource(path string, reader, stdin io.Reader) (io.Reader, func(), error) {
	switch {
	case reader != nil:
		return reader, func() {}, nil
	case path == "-":
		if stdin == nil {
			stdin = os.Stdin
		}
		return stdin, func() {}, nil
	case strings.TrimSpace(path) == "":
		return nil, nil, errors.New("--file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
