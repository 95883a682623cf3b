package translation

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Comparison holds both methods run over the same snapshot. OCIImpact is the
// current-rate adjustment and PNLImpact the temporal one.
type Comparison struct {
	CurrentRate Result
	Temporal    Result
	OCIImpact   decimal.Decimal
	PNLImpact   decimal.Decimal
	Difference  decimal.Decimal
	Recommended Method
	Reason      string
}

// Recommend picks the method mandated by the relationship between functional
// and presentation currency.
func Recommend(functional, presentation string) (Method, string) {
	if strings.EqualFold(strings.TrimSpace(functional), strings.TrimSpace(presentation)) {
		return MethodTemporal, "functional currency equals presentation currency: remeasure under ASC 830-20"
	}
	return MethodCurrentRate, "functional currency differs from presentation currency: translate under ASC 830-30 / IAS 21"
}

// Compare runs both methods over one balance slice and diffs the OCI and P&L
// outcomes.
func (e *Engine) Compare(ctx context.Context, req Request, functional, presentation string, balances []Balance) (Comparison, error) {
	snapshot := make([]Balance, len(balances))
	copy(snapshot, balances)
	current, err := e.CurrentRate(ctx, req, snapshot)
	if err != nil {
		return Comparison{}, err
	}
	temporal, err := e.Temporal(ctx, req, snapshot)
	if err != nil {
		return Comparison{}, err
	}
	method, reason := Recommend(functional, presentation)
	return Comparison{
		CurrentRate: current,
		Temporal:    temporal,
		OCIImpact:   current.Adjustment,
		PNLImpact:   temporal.Adjustment,
		Difference:  current.Adjustment.Sub(temporal.Adjustment),
		Recommended: method,
		Reason:      reason,
	}, nil
}
