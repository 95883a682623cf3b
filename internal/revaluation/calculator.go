package revaluation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fxreval/internal/ledger"
	"github.com/odyssey-erp/fxreval/internal/rates"
)

// Classifier resolves account classifications.
type Classifier interface {
	Classify(ctx context.Context, code string) (ledger.Account, error)
}

// BalanceSource returns signed balances for an account and currency.
type BalanceSource interface {
	BalanceInCurrency(ctx context.Context, acct ledger.Account, q ledger.Query) (ledger.Balance, error)
}

// RateSource resolves current and historical rates.
type RateSource interface {
	Resolve(ctx context.Context, from, to string, asOf time.Time, rateType rates.RateType) (rates.ExchangeRate, error)
	HistoricalRate(ctx context.Context, from, to string, periodStart, periodEnd time.Time) (rates.ExchangeRate, error)
}

// DetailSink receives each detail row as soon as it is computed.
type DetailSink interface {
	AppendDetail(ctx context.Context, d Detail) error
}

// Input scopes one ledger's revaluation.
type Input struct {
	RunID              uuid.UUID
	CompanyCode        string
	LedgerID           string
	FunctionalCurrency string
	RevaluationDate    time.Time
	PeriodStart        time.Time
}

// LedgerResult is the outcome of revaluing one ledger's configured accounts.
type LedgerResult struct {
	Details   []Detail
	RatesUsed []rates.Key
	Totals    Totals
	Errors    []string
}

// Required returns the details that should be journalised.
func (r LedgerResult) Required() []Detail {
	var out []Detail
	for _, d := range r.Details {
		if d.RevaluationRequired && !d.Failed() {
			out = append(out, d)
		}
	}
	return out
}

// Calculator computes unrealized gains and losses per configured account.
type Calculator struct {
	classifier  Classifier
	balances    BalanceSource
	rates       RateSource
	materiality Materiality
	logger      *slog.Logger
	now         func() time.Time
}

// NewCalculator wires the calculator dependencies.
func NewCalculator(classifier Classifier, balances BalanceSource, rateSource RateSource, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		classifier:  classifier,
		balances:    balances,
		rates:       rateSource,
		materiality: DefaultMateriality,
		logger:      logger,
		now:         time.Now,
	}
}

// WithMateriality overrides the default materiality gate.
func (c *Calculator) WithMateriality(m Materiality) *Calculator {
	c.materiality = m
	return c
}

// WithNow overrides the clock, used in tests.
func (c *Calculator) WithNow(now func() time.Time) *Calculator {
	if now != nil {
		c.now = now
	}
	return c
}

// Calculate revalues every active config. Account failures are recorded on
// their detail row and never stop the loop; sink failures are collected.
func (c *Calculator) Calculate(ctx context.Context, in Input, configs []Config, sink DetailSink) (LedgerResult, error) {
	var res LedgerResult
	if strings.TrimSpace(in.FunctionalCurrency) == "" {
		return res, errors.New("revaluation: functional currency required")
	}
	seen := make(map[rates.Key]struct{})
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		detail, used := c.revalue(ctx, in, cfg)
		for _, k := range used {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				res.RatesUsed = append(res.RatesUsed, k)
			}
		}
		if sink != nil {
			if err := sink.AppendDetail(ctx, detail); err != nil {
				c.logger.Error("fx revaluation detail not persisted", slog.String("account", cfg.GLAccount), slog.Any("error", err))
				res.Errors = append(res.Errors, "ledger "+in.LedgerID+" account "+cfg.GLAccount+": persist detail: "+err.Error())
			}
		}
		res.Details = append(res.Details, detail)
		res.Totals.AccountsProcessed++
		if detail.Failed() {
			res.Errors = append(res.Errors, "ledger "+in.LedgerID+" account "+cfg.GLAccount+": "+detail.ErrorMessage)
			continue
		}
		if !detail.RevaluationRequired {
			continue
		}
		res.Totals.RevaluationsCreated++
		if detail.UnrealizedGainLoss.IsPositive() {
			res.Totals.TotalGain = res.Totals.TotalGain.Add(detail.UnrealizedGainLoss)
		} else {
			res.Totals.TotalLoss = res.Totals.TotalLoss.Add(detail.UnrealizedGainLoss.Abs())
		}
	}
	return res, nil
}

func (c *Calculator) revalue(ctx context.Context, in Input, cfg Config) (Detail, []rates.Key) {
	currency := strings.ToUpper(cfg.AccountCurrency)
	detail := Detail{
		RunID:           in.RunID,
		CompanyCode:     in.CompanyCode,
		LedgerID:        in.LedgerID,
		GLAccount:       cfg.GLAccount,
		AccountCurrency: currency,
		CreatedAt:       c.now().UTC(),
	}
	fail := func(err error) (Detail, []rates.Key) {
		detail.ErrorMessage = err.Error()
		c.logger.Warn("fx revaluation account skipped",
			slog.String("ledger", in.LedgerID),
			slog.String("account", cfg.GLAccount),
			slog.Any("error", err))
		return detail, nil
	}

	acct, err := c.classifier.Classify(ctx, cfg.GLAccount)
	if err != nil {
		return fail(err)
	}
	q := ledger.Query{CompanyCode: in.CompanyCode, LedgerID: in.LedgerID, Currency: currency, Cutoff: in.RevaluationDate}
	current, err := c.balances.BalanceInCurrency(ctx, acct, q)
	if err != nil {
		return fail(err)
	}
	detail.CurrentBalanceFC = current.Foreign
	detail.CurrentBalanceFunc = current.Functional
	if !in.PeriodStart.IsZero() {
		q.Cutoff = in.PeriodStart.AddDate(0, 0, -1)
		opening, err := c.balances.BalanceInCurrency(ctx, acct, q)
		if err != nil {
			return fail(err)
		}
		detail.OpeningBalanceFC = opening.Foreign
		detail.OpeningBalanceFunc = opening.Functional
	}
	if current.Foreign.IsZero() {
		return detail, nil
	}

	currentRate, err := c.rates.Resolve(ctx, currency, in.FunctionalCurrency, in.RevaluationDate, rates.RateTypeClosing)
	if err != nil {
		return fail(err)
	}
	used := []rates.Key{currentRate.Key()}
	detail.CurrentRate = currentRate.Rate

	periodStart := in.PeriodStart
	if periodStart.IsZero() {
		periodStart = in.RevaluationDate
	}
	historical, err := c.rates.HistoricalRate(ctx, currency, in.FunctionalCurrency, periodStart, in.RevaluationDate)
	switch {
	case err == nil:
		detail.HistoricalRate = historical.Rate
		used = append(used, historical.Key())
	case errors.Is(err, rates.ErrRateNotFound):
		// fall back to the rate implied by the books
		detail.HistoricalRate = current.Functional.DivRound(current.Foreign, rates.Precision)
	default:
		return fail(err)
	}
	detail.RateDifference = detail.CurrentRate.Sub(detail.HistoricalRate)

	detail.RevaluedBalanceFunc = current.Foreign.Mul(currentRate.Rate).Round(AmountScale)
	detail.UnrealizedGainLoss = detail.RevaluedBalanceFunc.Sub(current.Functional)
	if !acct.Type.DebitNormal() {
		// a larger credit balance is a loss
		detail.UnrealizedGainLoss = detail.UnrealizedGainLoss.Neg()
	}
	detail.RevaluationRequired = c.materiality.Required(detail.UnrealizedGainLoss, current.Functional)
	if detail.RevaluationRequired {
		detail.ContraAccount = cfg.ContraFor(detail.UnrealizedGainLoss)
	}
	if currentRate.Source == "PARITY" {
		used = nil
	}
	return detail, used
}
