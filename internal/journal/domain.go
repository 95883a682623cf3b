package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatusDraft is the only status documents are created in.
const StatusDraft = "DRAFT"

// Header describes a journal document.
type Header struct {
	CompanyCode  string
	LedgerID     string
	PostingDate  time.Time
	FiscalYear   int
	FiscalPeriod int
	Currency     string
	Memo         string
	SourceRunID  uuid.UUID
}

// Line is one side of a posting. Debit and Credit are functional amounts;
// Currency is the transaction currency of the account being adjusted.
type Line struct {
	Account  string
	Currency string
	Debit    decimal.Decimal
	Credit   decimal.Decimal
	LedgerID string
	Memo     string
}

// Document is a header with its ordered lines.
type Document struct {
	Header Header
	Lines  []Line
}

var (
	// ErrEmptyDocument indicates a document without lines.
	ErrEmptyDocument = errors.New("journal: document has no lines")
	// ErrUnbalanced indicates debits and credits differ.
	ErrUnbalanced = errors.New("journal: debits and credits do not balance")
	// ErrInvalidLine indicates a line with both or neither side set, or a negative amount.
	ErrInvalidLine = errors.New("journal: line must carry exactly one positive side")
	// ErrPostingFailed matches every PostingFailure.
	ErrPostingFailed = errors.New("journal: posting failed")
)

// Totals returns the debit and credit sums.
func (d Document) Totals() (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range d.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Validate checks the document nets to zero exactly.
func (d Document) Validate() error {
	if len(d.Lines) == 0 {
		return ErrEmptyDocument
	}
	for i, l := range d.Lines {
		if l.Account == "" {
			return fmt.Errorf("journal: line %d: account required", i+1)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() || l.Debit.IsPositive() == l.Credit.IsPositive() {
			return fmt.Errorf("%w (line %d)", ErrInvalidLine, i+1)
		}
	}
	debit, credit := d.Totals()
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

// PostingFailure wraps a rejected document for one ledger.
type PostingFailure struct {
	LedgerID string
	Err      error
}

func (e *PostingFailure) Error() string {
	return fmt.Sprintf("journal posting failed for ledger %s: %v", e.LedgerID, e.Err)
}

// Is matches ErrPostingFailed.
func (e *PostingFailure) Is(target error) bool {
	return target == ErrPostingFailed
}

func (e *PostingFailure) Unwrap() error {
	return e.Err
}
