package translation

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/ledger"
	"github.com/odyssey-erp/fxreval/internal/rates"
)

// Method selects a translation strategy.
type Method string

const (
	MethodCurrentRate Method = "CURRENT_RATE"
	MethodTemporal    Method = "TEMPORAL"
)

// Destination is where a method's balancing adjustment is booked.
type Destination string

const (
	DestinationOCI Destination = "OCI"
	DestinationPNL Destination = "PNL"
)

// Destination returns the only destination m may use.
func (m Method) Destination() Destination {
	if m == MethodTemporal {
		return DestinationPNL
	}
	return DestinationOCI
}

// amountScale matches the booked precision of functional amounts.
const amountScale int32 = 2

// Request scopes a translation.
type Request struct {
	EntityID     string
	LedgerID     string
	Source       string
	Target       string
	AsOf         time.Time
	PeriodStart  time.Time
	FiscalYear   int
	FiscalPeriod int

	// Hyperinflationary translates every item at the closing rate.
	Hyperinflationary bool
}

// Balance is one account's book amount in the source currency.
type Balance struct {
	Account ledger.Account
	Amount  decimal.Decimal
	Layers  []Layer
}

// Layer is the part of a balance that arose on one date.
type Layer struct {
	Date   time.Time
	Amount decimal.Decimal
}

// FromLedger converts an aggregator snapshot into translation balances using
// the functional-currency leg, merging currencies per account.
func FromLedger(balances []ledger.Balance) []Balance {
	index := make(map[string]int)
	var out []Balance
	for _, b := range balances {
		i, ok := index[b.Account.Code]
		if !ok {
			i = len(out)
			index[b.Account.Code] = i
			out = append(out, Balance{Account: b.Account})
		}
		out[i].Amount = out[i].Amount.Add(b.Functional)
		for _, l := range b.Layers {
			out[i].Layers = append(out[i].Layers, Layer{Date: l.PostingDate, Amount: l.Functional})
		}
	}
	return out
}

// Basis names the rate family a line was translated at.
type Basis string

const (
	BasisClosing    Basis = "CLOSING"
	BasisAverage    Basis = "AVERAGE"
	BasisHistorical Basis = "HISTORICAL"
)

// Line is one translated account.
type Line struct {
	Account    ledger.Account
	Source     decimal.Decimal
	Rate       decimal.Decimal
	Basis      Basis
	Translated decimal.Decimal
}

// Components decompose a current-rate adjustment for the CTA roll-forward.
type Components struct {
	Asset     decimal.Decimal
	Liability decimal.Decimal
	Equity    decimal.Decimal
	Hedge     decimal.Decimal
}

// Sum returns the total of all components.
func (c Components) Sum() decimal.Decimal {
	return c.Asset.Add(c.Liability).Add(c.Equity).Add(c.Hedge)
}

// Result is the full translation of one snapshot.
type Result struct {
	Method      Method
	Request     Request
	Lines       []Line
	NetAssets   decimal.Decimal
	Equity      decimal.Decimal
	NetIncome   decimal.Decimal
	Adjustment  decimal.Decimal
	Destination Destination
	Components  Components
	RatesUsed   []rates.Key
}

var (
	// ErrWrongDestination rejects routing an adjustment to the other statement.
	ErrWrongDestination = errors.New("translation: adjustment routed to wrong destination")
	// ErrUnsupportedMethod indicates an unknown method.
	ErrUnsupportedMethod = errors.New("translation: unsupported method")
)

// Route is a balancing adjustment bound to the account that absorbs it.
type Route struct {
	Account     string
	Amount      decimal.Decimal
	Destination Destination
}

// RouteAdjustment binds the adjustment to acct. OCI adjustments may only land
// on equity accounts and P&L adjustments only on revenue or expense accounts.
func RouteAdjustment(res Result, acct ledger.Account) (Route, error) {
	if err := CheckDestination(res.Destination, acct.Type); err != nil {
		return Route{}, fmt.Errorf("%w: account %s", err, acct.Code)
	}
	return Route{Account: acct.Code, Amount: res.Adjustment, Destination: res.Destination}, nil
}

// CheckDestination validates that an account type can absorb dest.
func CheckDestination(dest Destination, t ledger.AccountType) error {
	switch dest {
	case DestinationOCI:
		if t == ledger.AccountTypeEquity {
			return nil
		}
	case DestinationPNL:
		if t == ledger.AccountTypeRevenue || t == ledger.AccountTypeExpenses {
			return nil
		}
	default:
		return ErrUnsupportedMethod
	}
	return fmt.Errorf("%w: %s adjustment on %s account", ErrWrongDestination, dest, t)
}
