package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LineStore sums posted journal lines. Implementations must only include
// lines whose document is POSTED.
type LineStore interface {
	SumPosted(ctx context.Context, q Query) (Totals, error)
	PostedTotalsByDate(ctx context.Context, companyCode, ledgerID string, cutoff time.Time) ([]PeriodTotals, error)
}

// Aggregator computes signed balances from posted journal lines.
type Aggregator struct {
	lines    LineStore
	accounts AccountStore
}

// NewAggregator constructs an Aggregator.
func NewAggregator(lines LineStore, accounts AccountStore) *Aggregator {
	return &Aggregator{lines: lines, accounts: accounts}
}

// BalanceInCurrency returns the signed balance of the account in q.Currency.
// Foreign carries the transaction-currency leg.
func (a *Aggregator) BalanceInCurrency(ctx context.Context, acct Account, q Query) (Balance, error) {
	return a.balance(ctx, acct, q)
}

// BalanceInFunctionalCurrency returns the same filter's functional-currency
// amounts already booked, in Functional.
func (a *Aggregator) BalanceInFunctionalCurrency(ctx context.Context, acct Account, q Query) (Balance, error) {
	return a.balance(ctx, acct, q)
}

func (a *Aggregator) balance(ctx context.Context, acct Account, q Query) (Balance, error) {
	if !acct.Type.Valid() {
		return Balance{}, &MissingClassificationError{Account: acct.Code}
	}
	q.Account = acct.Code
	q.Currency = strings.ToUpper(q.Currency)
	totals, err := a.lines.SumPosted(ctx, q)
	if err != nil {
		return Balance{}, fmt.Errorf("ledger: sum %s/%s: %w", q.Account, q.Currency, err)
	}
	return Balance{
		Account:    acct,
		Currency:   q.Currency,
		Foreign:    Signed(acct.Type, totals.Debit, totals.Credit),
		Functional: Signed(acct.Type, totals.FunctionalDebit, totals.FunctionalCredit),
	}, nil
}

// Snapshot folds every posted balance of a ledger as of cutoff, with one layer
// per posting date. Accounts that cannot be classified are returned as errors
// alongside the usable balances.
func (a *Aggregator) Snapshot(ctx context.Context, companyCode, ledgerID string, cutoff time.Time) ([]Balance, []error, error) {
	rows, err := a.lines.PostedTotalsByDate(ctx, companyCode, ledgerID, cutoff)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: snapshot %s/%s: %w", companyCode, ledgerID, err)
	}
	type key struct{ account, currency string }
	index := make(map[key]*Balance)
	accounts := make(map[string]Account)
	var problems []error
	skipped := make(map[string]struct{})
	for _, row := range rows {
		if _, bad := skipped[row.AccountCode]; bad {
			continue
		}
		acct, ok := accounts[row.AccountCode]
		if !ok {
			acct, ok, err = a.accounts.GetAccount(ctx, row.AccountCode)
			if err != nil {
				return nil, nil, fmt.Errorf("ledger: load account %s: %w", row.AccountCode, err)
			}
			if !ok {
				acct = Account{Code: row.AccountCode}
			}
			if err := Check(acct); err != nil {
				skipped[row.AccountCode] = struct{}{}
				problems = append(problems, err)
				continue
			}
			accounts[row.AccountCode] = acct
		}
		k := key{row.AccountCode, row.Currency}
		bal := index[k]
		if bal == nil {
			bal = &Balance{Account: acct, Currency: row.Currency}
			index[k] = bal
		}
		layer := Layer{
			PostingDate: row.PostingDate,
			Foreign:     Signed(acct.Type, row.Totals.Debit, row.Totals.Credit),
			Functional:  Signed(acct.Type, row.Totals.FunctionalDebit, row.Totals.FunctionalCredit),
		}
		bal.Foreign = bal.Foreign.Add(layer.Foreign)
		bal.Functional = bal.Functional.Add(layer.Functional)
		bal.Layers = append(bal.Layers, layer)
	}
	out := make([]Balance, 0, len(index))
	for _, bal := range index {
		sort.Slice(bal.Layers, func(i, j int) bool { return bal.Layers[i].PostingDate.Before(bal.Layers[j].PostingDate) })
		out = append(out, *bal)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account.Code == out[j].Account.Code {
			return out[i].Currency < out[j].Currency
		}
		return out[i].Account.Code < out[j].Account.Code
	})
	return out, problems, nil
}

// IsClassificationError reports whether err isolates to one account.
func IsClassificationError(err error) bool {
	return errors.Is(err, ErrMissingClassification) || errors.Is(err, ErrAccountNotFound)
}
