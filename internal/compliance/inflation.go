package compliance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/cta"
	"github.com/odyssey-erp/fxreval/internal/translation"
)

// InflationStatus is the hyperinflation assessment of a currency.
type InflationStatus string

const (
	InflationNormal            InflationStatus = "NORMAL"
	InflationMonitoring        InflationStatus = "MONITORING"
	InflationHyperinflationary InflationStatus = "HYPERINFLATIONARY"
)

var (
	monitoringThreshold = decimal.New(70, 0)
	hyperThreshold      = decimal.New(100, 0)
)

// InflationSource returns cumulative three-year inflation in percent.
type InflationSource interface {
	CumulativeInflation(ctx context.Context, currency string, asOf time.Time) (decimal.Decimal, bool, error)
}

// AssessInflation classifies cumulative three-year inflation: below 70% is
// NORMAL, 70% up to 100% MONITORING, 100% and above HYPERINFLATIONARY.
func AssessInflation(cumulative decimal.Decimal) InflationStatus {
	switch {
	case cumulative.GreaterThanOrEqual(hyperThreshold):
		return InflationHyperinflationary
	case cumulative.GreaterThanOrEqual(monitoringThreshold):
		return InflationMonitoring
	}
	return InflationNormal
}

// RestatementNote documents the price-index restatement step required for a
// hyperinflationary functional currency. Empty for other statuses.
func RestatementNote(status InflationStatus, currency string, standard cta.Standard) string {
	if status != InflationHyperinflationary {
		return ""
	}
	if standard == cta.StandardUSGAAP {
		return "functional currency " + currency + " is hyperinflationary: remeasured into the reporting currency as if it were functional (ASC 830-10-45-11)"
	}
	return "functional currency " + currency + " is hyperinflationary: restate with a general price index before translating all amounts at the closing rate (IAS 29, IAS 21.42)"
}

// SelectMethod picks the translation method for a ledger. Hyperinflation
// forces remeasurement under US GAAP; under IFRS the current rate method is
// kept and every item goes at the closing rate.
func SelectMethod(standard cta.Standard, functional, presentation string, inflation InflationStatus) translation.Method {
	if inflation == InflationHyperinflationary {
		if standard == cta.StandardUSGAAP {
			return translation.MethodTemporal
		}
		return translation.MethodCurrentRate
	}
	method, _ := translation.Recommend(functional, presentation)
	return method
}
