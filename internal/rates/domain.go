package rates

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateType enumerates the kinds of quotes kept per currency pair and date.
type RateType string

const (
	RateTypeSpot       RateType = "SPOT"
	RateTypeClosing    RateType = "CLOSING"
	RateTypeAverage    RateType = "AVERAGE"
	RateTypeHistorical RateType = "HISTORICAL"
	RateTypeBudget     RateType = "BUDGET"
	RateTypeOfficial   RateType = "OFFICIAL"
)

// Precision is the number of fractional digits rates are kept at.
const Precision = 6

// Valid reports whether t is a known rate type.
func (t RateType) Valid() bool {
	switch t {
	case RateTypeSpot, RateTypeClosing, RateTypeAverage, RateTypeHistorical, RateTypeBudget, RateTypeOfficial:
		return true
	default:
		return false
	}
}

// ParseRateType normalises user input into a RateType.
func ParseRateType(raw string) (RateType, error) {
	t := RateType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("rates: unsupported rate type %q", raw)
	}
	return t, nil
}

// Key identifies a single stored quote.
type Key struct {
	From string
	To   string
	Date time.Time
	Type RateType
}

// Pair renders the key as FROMTO, the form used in logs and gap reports.
func (k Key) Pair() string {
	return k.From + k.To
}

// ExchangeRate is one row of the exchange-rate store.
type ExchangeRate struct {
	From            string
	To              string
	RateDate        time.Time
	Type            RateType
	Rate            decimal.Decimal
	Source          string
	IsOfficial      bool
	PublicationDate *time.Time
	Locked          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Inverted marks a rate derived from the stored quote of the reverse pair.
	Inverted bool
}

// Key returns the identifying tuple of the stored row the rate came from.
func (r ExchangeRate) Key() Key {
	if r.Inverted {
		return Key{From: r.To, To: r.From, Date: r.RateDate, Type: r.Type}
	}
	return Key{From: r.From, To: r.To, Date: r.RateDate, Type: r.Type}
}

// Invert returns the reverse-pair rate, 1/rate rounded to Precision.
func (r ExchangeRate) Invert() ExchangeRate {
	out := r
	out.From, out.To = r.To, r.From
	out.Rate = decimal.New(1, 0).DivRound(r.Rate, Precision)
	out.Inverted = !r.Inverted
	return out
}

// UpsertInput carries a manual, imported or official rate.
type UpsertInput struct {
	From            string          `validate:"required,len=3,alpha"`
	To              string          `validate:"required,len=3,alpha,nefield=From"`
	RateDate        time.Time       `validate:"required"`
	Type            RateType        `validate:"required"`
	Rate            decimal.Decimal `validate:"-"`
	Source          string          `validate:"max=64"`
	IsOfficial      bool
	PublicationDate *time.Time
}

// Normalize upper-cases currency codes and truncates the date to a calendar day.
func (in UpsertInput) Normalize() UpsertInput {
	in.From = strings.ToUpper(strings.TrimSpace(in.From))
	in.To = strings.ToUpper(strings.TrimSpace(in.To))
	in.RateDate = DateOnly(in.RateDate)
	if in.Source == "" {
		in.Source = "MANUAL"
	}
	return in
}

var (
	// ErrRateNotFound signals that no rate exists on or before the requested date.
	ErrRateNotFound = errors.New("rates: no exchange rate found")
	// ErrRateLocked indicates the rate was referenced by a revaluation and cannot change.
	ErrRateLocked = errors.New("rates: rate referenced by posted revaluation")
	// ErrInvalidRate indicates a non-positive or malformed rate.
	ErrInvalidRate = errors.New("rates: rate must be positive")
)

// MissingRateError reports the pair and date for which no rate could be resolved.
type MissingRateError struct {
	From string
	To   string
	AsOf time.Time
	Type RateType
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("No exchange rate found for %s/%s %s on or before %s", e.From, e.To, e.Type, e.AsOf.Format("2006-01-02"))
}

// Is lets callers match MissingRateError with errors.Is(err, ErrRateNotFound).
func (e *MissingRateError) Is(target error) bool {
	return target == ErrRateNotFound
}

// DateOnly strips the clock component and pins the value to UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
