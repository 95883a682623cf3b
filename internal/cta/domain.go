package cta

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Standard is the accounting framework governing a ledger.
type Standard string

const (
	StandardUSGAAP Standard = "US_GAAP_ASC830"
	StandardIFRS   Standard = "IFRS_IAS21"
)

// Valid reports whether s is supported.
func (s Standard) Valid() bool {
	return s == StandardUSGAAP || s == StandardIFRS
}

// Key identifies one roll-forward row.
type Key struct {
	EntityID     string
	LedgerID     string
	Standard     Standard
	FiscalYear   int
	FiscalPeriod int
}

// Before reports whether k's period precedes other's.
func (k Key) Before(other Key) bool {
	if k.FiscalYear != other.FiscalYear {
		return k.FiscalYear < other.FiscalYear
	}
	return k.FiscalPeriod < other.FiscalPeriod
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s %d-%02d", k.EntityID, k.LedgerID, k.Standard, k.FiscalYear, k.FiscalPeriod)
}

// Components are the period's translation adjustments by source.
type Components struct {
	Asset     decimal.Decimal
	Liability decimal.Decimal
	Equity    decimal.Decimal
	Hedge     decimal.Decimal
}

// Sum totals the components.
func (c Components) Sum() decimal.Decimal {
	return c.Asset.Add(c.Liability).Add(c.Equity).Add(c.Hedge)
}

// Sub returns c - o per component.
func (c Components) Sub(o Components) Components {
	return Components{
		Asset:     c.Asset.Sub(o.Asset),
		Liability: c.Liability.Sub(o.Liability),
		Equity:    c.Equity.Sub(o.Equity),
		Hedge:     c.Hedge.Sub(o.Hedge),
	}
}

// Row is the CTA roll-forward for one period.
// Closing = Opening + Movement and Movement = Components.Sum() - RecycledToPnL.
// Components hold the period's change in Accumulated, the translation
// difference accumulated to the period end before any recycling.
type Row struct {
	Key           Key
	Opening       decimal.Decimal
	Movement      decimal.Decimal
	Closing       decimal.Decimal
	Components    Components
	Accumulated   Components
	RecycledToPnL decimal.Decimal
	Disposed      bool
	UpdatedAt     time.Time
}

// DisposalType classifies a disposal of a foreign operation.
type DisposalType string

const (
	DisposalFull          DisposalType = "FULL"
	DisposalPartial       DisposalType = "PARTIAL"
	DisposalLossOfControl DisposalType = "LOSS_OF_CONTROL"
)

// Disposal is the recycling record of one disposal event.
type Disposal struct {
	Key         Key
	Type        DisposalType
	Percentage  decimal.Decimal
	Accumulated decimal.Decimal
	Recycled    decimal.Decimal
	DisposedAt  time.Time
}

var (
	// ErrAlreadyDisposed rejects a second full disposal of the same operation.
	ErrAlreadyDisposed = errors.New("cta: foreign operation already disposed")
	// ErrInvalidDisposal indicates an unknown type or an out-of-range percentage.
	ErrInvalidDisposal = errors.New("cta: invalid disposal")
)
