package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/fxreval/internal/rates"
)

// FunctionalCurrencyStore persists entity functional currencies.
type FunctionalCurrencyStore interface {
	GetFunctionalCurrency(ctx context.Context, entityID string) (EntityFunctionalCurrency, bool, error)
	SaveFunctionalCurrency(ctx context.Context, efc EntityFunctionalCurrency) error
}

// FunctionalCurrencyService resolves and changes entity functional currencies.
type FunctionalCurrencyService struct {
	store    FunctionalCurrencyStore
	fallback string
	now      func() time.Time
}

// NewFunctionalCurrencyService constructs the service. fallback is used for
// entities that have never been assessed.
func NewFunctionalCurrencyService(store FunctionalCurrencyStore, fallback string) *FunctionalCurrencyService {
	return &FunctionalCurrencyService{store: store, fallback: strings.ToUpper(fallback), now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *FunctionalCurrencyService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Resolve returns the entity's functional currency in effect on asOf, or the
// fallback when it has not been assessed. Store failures are fatal for a run.
func (s *FunctionalCurrencyService) Resolve(ctx context.Context, entityID string, asOf time.Time) (EntityFunctionalCurrency, error) {
	efc, ok, err := s.store.GetFunctionalCurrency(ctx, entityID)
	if err != nil {
		return EntityFunctionalCurrency{}, &FatalSetupError{Stage: "functional currency", Err: err}
	}
	if ok && efc.FunctionalCurrency != "" {
		efc.Assessed = true
		if efc.EffectiveDate.After(rates.DateOnly(asOf)) && efc.PreviousFunctionalCurrency != "" {
			// change not yet effective
			efc.FunctionalCurrency = efc.PreviousFunctionalCurrency
		}
		return efc, nil
	}
	if s.fallback == "" {
		return EntityFunctionalCurrency{}, &FatalSetupError{Stage: "functional currency", Err: fmt.Errorf("entity %s has no functional currency and no default is configured", entityID)}
	}
	return EntityFunctionalCurrency{EntityID: entityID, FunctionalCurrency: s.fallback, AssessmentConclusion: "default applied: not assessed"}, nil
}

// ChangeInput requests a functional-currency change.
type ChangeInput struct {
	EntityID      string    `validate:"required"`
	NewCurrency   string    `validate:"required,len=3,alpha"`
	EffectiveDate time.Time `validate:"required"`
	Methodology   string
	Conclusion    string
}

// Change applies a functional-currency change prospectively from the
// effective date. The previous currency is kept and the next review is
// scheduled one year out.
func (s *FunctionalCurrencyService) Change(ctx context.Context, in ChangeInput) (EntityFunctionalCurrency, error) {
	if err := validate.Struct(in); err != nil {
		return EntityFunctionalCurrency{}, fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	in.NewCurrency = strings.ToUpper(in.NewCurrency)
	effective := rates.DateOnly(in.EffectiveDate)
	current, ok, err := s.store.GetFunctionalCurrency(ctx, in.EntityID)
	if err != nil {
		return EntityFunctionalCurrency{}, err
	}
	if ok {
		if current.FunctionalCurrency == in.NewCurrency {
			return EntityFunctionalCurrency{}, fmt.Errorf("%w: %s is already the functional currency", ErrInvalidChange, in.NewCurrency)
		}
		if !effective.After(current.EffectiveDate) {
			return EntityFunctionalCurrency{}, fmt.Errorf("%w: effective date %s must follow %s", ErrInvalidChange,
				effective.Format("2006-01-02"), current.EffectiveDate.Format("2006-01-02"))
		}
	}
	today := rates.DateOnly(s.now())
	if effective.Before(today) {
		return EntityFunctionalCurrency{}, fmt.Errorf("%w: changes apply prospectively, %s is in the past", ErrInvalidChange, effective.Format("2006-01-02"))
	}
	next := EntityFunctionalCurrency{
		EntityID:                   in.EntityID,
		FunctionalCurrency:         in.NewCurrency,
		PreviousFunctionalCurrency: current.FunctionalCurrency,
		EffectiveDate:              effective,
		AssessmentMethodology:      in.Methodology,
		AssessmentConclusion:       in.Conclusion,
		NextReviewDate:             effective.AddDate(1, 0, 0),
		Assessed:                   true,
	}
	if err := s.store.SaveFunctionalCurrency(ctx, next); err != nil {
		return EntityFunctionalCurrency{}, err
	}
	return next, nil
}
