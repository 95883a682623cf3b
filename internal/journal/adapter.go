package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Entry is one account's revaluation result to journalise.
type Entry struct {
	Account       string
	Currency      string
	ContraAccount string
	GainLoss      decimal.Decimal
}

// Poster creates DRAFT documents in the posting subsystem and returns the
// document number. A document is committed whole or not at all.
type Poster interface {
	CreateDraft(ctx context.Context, doc Document) (string, error)
}

// Adapter turns revaluation results into one balanced document per ledger.
type Adapter struct {
	poster Poster
	logger *slog.Logger
}

// NewAdapter constructs an Adapter.
func NewAdapter(poster Poster, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{poster: poster, logger: logger}
}

// Build emits a pair of lines per entry. Gains debit the monetary account and
// credit the contra account; losses reverse both sides. Entries with a zero
// amount are skipped. ok is false when nothing remains to post.
func Build(header Header, entries []Entry) (doc Document, ok bool, err error) {
	doc.Header = header
	for _, e := range entries {
		amount := e.GainLoss.Round(2)
		if amount.IsZero() {
			continue
		}
		if e.ContraAccount == "" {
			return Document{}, false, fmt.Errorf("journal: account %s has no contra account", e.Account)
		}
		memo := fmt.Sprintf("FX revaluation %s %s", e.Account, e.Currency)
		adjust := Line{Account: e.Account, Currency: e.Currency, LedgerID: header.LedgerID, Memo: memo}
		contra := Line{Account: e.ContraAccount, Currency: header.Currency, LedgerID: header.LedgerID, Memo: memo}
		if amount.IsPositive() {
			adjust.Debit, contra.Credit = amount, amount
		} else {
			adjust.Credit, contra.Debit = amount.Neg(), amount.Neg()
		}
		doc.Lines = append(doc.Lines, adjust, contra)
	}
	if len(doc.Lines) == 0 {
		return doc, false, nil
	}
	return doc, true, doc.Validate()
}

// Post builds and submits the ledger document. An empty document returns ""
// without calling the poster. Failures come back as *PostingFailure.
func (a *Adapter) Post(ctx context.Context, header Header, entries []Entry) (string, error) {
	doc, ok, err := Build(header, entries)
	if err != nil {
		return "", &PostingFailure{LedgerID: header.LedgerID, Err: err}
	}
	if !ok {
		return "", nil
	}
	number, err := a.poster.CreateDraft(ctx, doc)
	if err != nil {
		a.logger.Error("fx revaluation journal rejected", slog.String("ledger", header.LedgerID), slog.Any("error", err))
		return "", &PostingFailure{LedgerID: header.LedgerID, Err: err}
	}
	a.logger.Info("fx revaluation journal drafted",
		slog.String("ledger", header.LedgerID),
		slog.String("document", number),
		slog.Int("lines", len(doc.Lines)))
	return number, nil
}
