package compliance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/cta"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/translation"
)

// RunRequest is the batch entry point contract.
type RunRequest struct {
	CompanyCode     string              `json:"company_code" validate:"required,max=16"`
	RevaluationDate time.Time           `json:"revaluation_date" validate:"required"`
	FiscalYear      int                 `json:"fiscal_year" validate:"required,min=1900,max=9999"`
	FiscalPeriod    int                 `json:"fiscal_period" validate:"required,min=1,max=12"`
	RunType         revaluation.RunType `json:"run_type" validate:"omitempty,oneof=PERIOD_END MONTH_END ADHOC LEDGER_SPECIFIC"`
	Ledgers         []string            `json:"ledgers" validate:"omitempty,dive,required"`
	CreateJournals  bool                `json:"create_journals"`
	Actor           string              `json:"actor,omitempty"`
}

// LedgerSetup declares how a ledger is revalued and translated.
type LedgerSetup struct {
	LedgerID             string
	Standard             cta.Standard
	BookCurrency         string
	PresentationCurrency string
	CTAAccount           string
	RemeasurementAccount string
}

// LedgerResult is the per-ledger breakdown of a run.
type LedgerResult struct {
	LedgerID              string                  `json:"ledger_id"`
	Standard              cta.Standard            `json:"standard"`
	Method                translation.Method      `json:"method,omitempty"`
	Totals                revaluation.Totals      `json:"totals"`
	TranslationAdjustment decimal.Decimal         `json:"translation_adjustment"`
	Destination           translation.Destination `json:"destination,omitempty"`
	AdjustmentAccount     string                  `json:"adjustment_account,omitempty"`
	ClosingCTA            decimal.Decimal         `json:"closing_cta"`
	RestatementNote       string                  `json:"restatement_note,omitempty"`
	JournalDocument       string                  `json:"journal_document,omitempty"`
	Skipped               bool                    `json:"skipped"`
	Errors                []string                `json:"errors,omitempty"`
}

// RunResult is returned to the CLI, scheduler and HTTP callers.
type RunResult struct {
	RunID              uuid.UUID             `json:"run_id"`
	Status             revaluation.RunStatus `json:"status"`
	CompanyCode        string                `json:"company_code"`
	FunctionalCurrency string                `json:"functional_currency"`
	Inflation          InflationStatus       `json:"inflation_status"`
	Totals             revaluation.Totals    `json:"totals"`
	Ledgers            []LedgerResult        `json:"ledgers"`
	JournalDocuments   []string              `json:"journal_documents"`
	Errors             []string              `json:"errors"`
}

// HasWarnings reports a COMPLETED run with itemised errors.
func (r RunResult) HasWarnings() bool {
	return r.Status == revaluation.RunStatusCompleted && len(r.Errors) > 0
}

// DisplayStatus renders the status for operators.
func (r RunResult) DisplayStatus() string {
	if r.HasWarnings() {
		return "completed with warnings"
	}
	return strings.ToLower(string(r.Status))
}

// EntityFunctionalCurrency is the assessed functional currency of an entity.
type EntityFunctionalCurrency struct {
	EntityID                   string
	FunctionalCurrency         string
	PreviousFunctionalCurrency string
	EffectiveDate              time.Time
	AssessmentMethodology      string
	AssessmentConclusion       string
	NextReviewDate             time.Time

	// Assessed is false when the default currency was substituted.
	Assessed bool
}

var (
	// ErrFatalSetup matches every FatalSetupError.
	ErrFatalSetup = errors.New("compliance: fatal setup error")
	// ErrInvalidChange rejects a functional-currency change that is not prospective.
	ErrInvalidChange = errors.New("compliance: invalid functional currency change")
)

// FatalSetupError aborts a run before any ledger is processed.
type FatalSetupError struct {
	Stage string
	Err   error
}

func (e *FatalSetupError) Error() string {
	return fmt.Sprintf("fatal setup error (%s): %v", e.Stage, e.Err)
}

// Is matches ErrFatalSetup.
func (e *FatalSetupError) Is(target error) bool {
	return target == ErrFatalSetup
}

func (e *FatalSetupError) Unwrap() error {
	return e.Err
}
