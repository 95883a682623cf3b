package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/fxreval/internal/rates"
)

// ErrNoQuoteProvider is returned by Preflight when no rate store is wired.
var ErrNoQuoteProvider = errors.New("compliance: quote provider not configured")

// Preflight lists the rates a run for req would need but cannot find, without
// claiming any ledger. Revaluation needs the CLOSING rate of every configured
// account currency; translation into a presentation currency also needs the
// AVERAGE rate.
func (o *Orchestrator) Preflight(ctx context.Context, req RunRequest) (rates.ValidationResult, error) {
	if o.deps.Quotes == nil {
		return rates.ValidationResult{}, ErrNoQuoteProvider
	}
	req, err := normalise(req)
	if err != nil {
		return rates.ValidationResult{}, err
	}
	setups, err := o.ledgers(ctx, req)
	if err != nil {
		return rates.ValidationResult{}, err
	}
	efc, err := o.deps.Functional.Resolve(ctx, req.CompanyCode, req.RevaluationDate)
	if err != nil {
		return rates.ValidationResult{}, err
	}
	functional := efc.FunctionalCurrency
	var reqs []rates.Requirement
	for _, s := range setups {
		configs, err := o.deps.Configs.ListConfigs(ctx, req.CompanyCode, s.LedgerID)
		if err != nil {
			return rates.ValidationResult{}, fmt.Errorf("compliance: configs for ledger %s: %w", s.LedgerID, err)
		}
		for _, cfg := range configs {
			if cfg.Active {
				reqs = append(reqs, rates.Requirement{From: cfg.AccountCurrency, To: functional, Types: []rates.RateType{rates.RateTypeClosing}})
			}
		}
		if p := presentationOf(s, functional); p != functional {
			reqs = append(reqs, rates.Requirement{From: functional, To: p, Types: []rates.RateType{rates.RateTypeClosing, rates.RateTypeAverage}})
		}
		if s.BookCurrency != "" && s.BookCurrency != functional {
			reqs = append(reqs, rates.Requirement{From: s.BookCurrency, To: functional, Types: []rates.RateType{rates.RateTypeClosing, rates.RateTypeAverage}})
		}
	}
	return rates.Validate(ctx, o.deps.Quotes, req.RevaluationDate, reqs)
}
