package revaluation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunType classifies why a run was started.
type RunType string

const (
	RunTypePeriodEnd      RunType = "PERIOD_END"
	RunTypeMonthEnd       RunType = "MONTH_END"
	RunTypeAdhoc          RunType = "ADHOC"
	RunTypeLedgerSpecific RunType = "LEDGER_SPECIFIC"
)

// Valid reports whether t is a known run type.
func (t RunType) Valid() bool {
	switch t {
	case RunTypePeriodEnd, RunTypeMonthEnd, RunTypeAdhoc, RunTypeLedgerSpecific:
		return true
	}
	return false
}

// RunStatus tracks the lifecycle of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether s may move to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusPending:
		return next == RunStatusRunning || next == RunStatusFailed
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusFailed
	}
	return false
}

// Config declares an account that participates in automated revaluation.
type Config struct {
	CompanyCode        string
	LedgerID           string
	GLAccount          string
	AccountCurrency    string
	Method             string
	RevaluationAccount string

	// LossAccount receives losses when set; otherwise RevaluationAccount absorbs both.
	LossAccount string
	Active      bool
}

// ContraFor returns the account that offsets a gain (positive) or loss.
func (c Config) ContraFor(gainLoss decimal.Decimal) string {
	if gainLoss.IsNegative() && c.LossAccount != "" {
		return c.LossAccount
	}
	return c.RevaluationAccount
}

// Totals aggregates a run or ledger.
type Totals struct {
	AccountsProcessed   int             `json:"accounts_processed"`
	RevaluationsCreated int             `json:"revaluations_created"`
	TotalGain           decimal.Decimal `json:"total_gain"`
	TotalLoss           decimal.Decimal `json:"total_loss"`
}

// Add folds other into t.
func (t Totals) Add(other Totals) Totals {
	t.AccountsProcessed += other.AccountsProcessed
	t.RevaluationsCreated += other.RevaluationsCreated
	t.TotalGain = t.TotalGain.Add(other.TotalGain)
	t.TotalLoss = t.TotalLoss.Add(other.TotalLoss)
	return t
}

// Run is one revaluation run record.
type Run struct {
	ID               uuid.UUID
	CompanyCode      string
	RevaluationDate  time.Time
	FiscalYear       int
	FiscalPeriod     int
	Type             RunType
	Status           RunStatus
	Ledgers          []string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Totals           Totals
	JournalDocuments []string
	Errors           []string
	CreatedAt        time.Time
}

// HasWarnings reports a COMPLETED run that carries itemised errors.
func (r Run) HasWarnings() bool {
	return r.Status == RunStatusCompleted && len(r.Errors) > 0
}

// DisplayStatus renders the status for operators.
func (r Run) DisplayStatus() string {
	if r.HasWarnings() {
		return "completed with warnings"
	}
	return strings.ToLower(string(r.Status))
}

// Detail is the audit row written for every account considered.
type Detail struct {
	ID                  int64
	RunID               uuid.UUID
	CompanyCode         string
	LedgerID            string
	GLAccount           string
	AccountCurrency     string
	OpeningBalanceFC    decimal.Decimal
	CurrentBalanceFC    decimal.Decimal
	OpeningBalanceFunc  decimal.Decimal
	CurrentBalanceFunc  decimal.Decimal
	RevaluedBalanceFunc decimal.Decimal
	HistoricalRate      decimal.Decimal
	CurrentRate         decimal.Decimal
	RateDifference      decimal.Decimal
	UnrealizedGainLoss  decimal.Decimal
	RevaluationRequired bool
	ContraAccount       string
	ErrorMessage        string
	CreatedAt           time.Time
}

// Failed reports whether the account could not be revalued.
func (d Detail) Failed() bool {
	return d.ErrorMessage != ""
}

var (
	// ErrConcurrentRun indicates an in-flight run already holds the period.
	ErrConcurrentRun = errors.New("revaluation: run already in progress")
	// ErrRunNotFound indicates the run id is unknown.
	ErrRunNotFound = errors.New("revaluation: run not found")
	// ErrInvalidTransition indicates a forbidden status change.
	ErrInvalidTransition = errors.New("revaluation: invalid run status transition")
	// ErrRunActive rejects cleanup of a run that has not finished.
	ErrRunActive = errors.New("revaluation: run still active")
)

// ConcurrentRunError names the period that is already being revalued.
type ConcurrentRunError struct {
	CompanyCode  string
	LedgerIDs    []string
	FiscalYear   int
	FiscalPeriod int
}

func (e *ConcurrentRunError) Error() string {
	return fmt.Sprintf("revaluation run already in progress for company %s ledger %s %d/%02d",
		e.CompanyCode, strings.Join(e.LedgerIDs, ","), e.FiscalYear, e.FiscalPeriod)
}

// Is matches ErrConcurrentRun.
func (e *ConcurrentRunError) Is(target error) bool {
	return target == ErrConcurrentRun
}
