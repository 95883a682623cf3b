package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/cta"
)

// Disposer recycles accumulated CTA on disposal of a foreign operation.
type Disposer interface {
	Dispose(ctx context.Context, in cta.DisposalInput) (cta.Disposal, error)
}

// CTACLI books disposals against the CTA roll-forward.
type CTACLI struct {
	tracker Disposer
}

// NewCTACLI constructs the cta commands.
func NewCTACLI(tracker Disposer) *CTACLI {
	return &CTACLI{tracker: tracker}
}

// CTADisposeOptions defines the flags of fxreval cta dispose.
type CTADisposeOptions struct {
	Entity       string
	Ledger       string
	Standard     string
	FiscalYear   int
	FiscalPeriod int
	Type         string
	Percentage   string
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

type disposalView struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Percentage  string `json:"percentage"`
	Accumulated string `json:"accumulated"`
	Recycled    string `json:"recycled"`
}

// DisposeCommand reclassifies CTA to profit or loss for the given period.
func (c *CTACLI) DisposeCommand(ctx context.Context, opts CTADisposeOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c.tracker == nil {
		_, _ = fmt.Fprintln(stderr, "cta dispose: tracker not configured")
		return ExitError
	}
	key := cta.Key{
		EntityID:     strings.TrimSpace(opts.Entity),
		LedgerID:     strings.TrimSpace(opts.Ledger),
		Standard:     cta.Standard(strings.ToUpper(strings.TrimSpace(opts.Standard))),
		FiscalYear:   opts.FiscalYear,
		FiscalPeriod: opts.FiscalPeriod,
	}
	if key.EntityID == "" || key.LedgerID == "" || !key.Standard.Valid() || key.FiscalYear == 0 || key.FiscalPeriod < 1 || key.FiscalPeriod > 12 {
		_, _ = fmt.Fprintln(stderr, "cta dispose: --entity, --ledger, --standard, --year and --period are required")
		return ExitError
	}
	pct := decimal.Zero
	if strings.TrimSpace(opts.Percentage) != "" {
		p, err := decimal.NewFromString(strings.TrimSpace(opts.Percentage))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "cta dispose: invalid --percentage %q\n", opts.Percentage)
			return ExitError
		}
		pct = p
	}
	d, err := c.tracker.Dispose(ctx, cta.DisposalInput{
		Key:        key,
		Type:       cta.DisposalType(strings.ToUpper(strings.TrimSpace(opts.Type))),
		Percentage: pct,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "cta dispose: %v\n", err)
		return ExitError
	}
	view := disposalView{
		Key:         d.Key.String(),
		Type:        string(d.Type),
		Percentage:  d.Percentage.String(),
		Accumulated: d.Accumulated.StringFixed(2),
		Recycled:    d.Recycled.StringFixed(2),
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(view); err != nil {
			_, _ = fmt.Fprintf(stderr, "cta dispose: encode json: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
	_, _ = fmt.Fprintf(stdout, "%s disposal of %s: recycled %s of %s accumulated CTA to profit or loss\n",
		view.Type, view.Key, amount(d.Recycled), amount(d.Accumulated))
	return ExitOK
}
