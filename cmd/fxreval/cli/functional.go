package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/odyssey-erp/fxreval/internal/compliance"
)

// FunctionalChanger records functional-currency changes.
type FunctionalChanger interface {
	Change(ctx context.Context, in compliance.ChangeInput) (compliance.EntityFunctionalCurrency, error)
}

// FunctionalCLI manages entity functional currencies.
type FunctionalCLI struct {
	svc FunctionalChanger
}

// NewFunctionalCLI constructs the functional-currency commands.
func NewFunctionalCLI(svc FunctionalChanger) *FunctionalCLI {
	return &FunctionalCLI{svc: svc}
}

// FunctionalChangeOptions defines the flags of fxreval functional-currency change.
type FunctionalChangeOptions struct {
	Entity      string
	Currency    string
	Effective   string
	Methodology string
	Conclusion  string
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// ChangeCommand applies a prospective functional-currency change.
func (c *FunctionalCLI) ChangeCommand(ctx context.Context, opts FunctionalChangeOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c.svc == nil {
		_, _ = fmt.Fprintln(stderr, "functional-currency change: service not configured")
		return ExitError
	}
	effective, err := parseDate(opts.Effective)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "functional-currency change: invalid --effective %q (expected YYYY-MM-DD)\n", opts.Effective)
		return ExitError
	}
	efc, err := c.svc.Change(ctx, compliance.ChangeInput{
		EntityID:      opts.Entity,
		NewCurrency:   opts.Currency,
		EffectiveDate: effective,
		Methodology:   opts.Methodology,
		Conclusion:    opts.Conclusion,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "functional-currency change: %v\n", err)
		return ExitError
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(efc); err != nil {
			_, _ = fmt.Fprintf(stderr, "functional-currency change: encode json: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
	prev := efc.PreviousFunctionalCurrency
	if prev == "" {
		prev = "none"
	}
	_, _ = fmt.Fprintf(stdout, "Entity %s functional currency %s (previously %s) effective %s\n",
		efc.EntityID, efc.FunctionalCurrency, prev, efc.EffectiveDate.Format("2006-01-02"))
	return ExitOK
}
