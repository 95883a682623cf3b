package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/ledger"
	"github.com/odyssey-erp/fxreval/internal/rates"
)

// RateSource resolves the rates a translation needs.
type RateSource interface {
	Resolve(ctx context.Context, from, to string, asOf time.Time, rateType rates.RateType) (rates.ExchangeRate, error)
	HistoricalRate(ctx context.Context, from, to string, periodStart, periodEnd time.Time) (rates.ExchangeRate, error)
}

// Engine runs either translation method over a balance snapshot.
type Engine struct {
	rates  RateSource
	logger *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(rateSource RateSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rates: rateSource, logger: logger}
}

// Translate dispatches to the requested method.
func (e *Engine) Translate(ctx context.Context, method Method, req Request, balances []Balance) (Result, error) {
	switch method {
	case MethodCurrentRate:
		return e.CurrentRate(ctx, req, balances)
	case MethodTemporal:
		return e.Temporal(ctx, req, balances)
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
}

// CurrentRate translates assets and liabilities at the closing rate, equity at
// its weighted historical rate and income-statement items at the period
// average. The plug is booked to OCI. With req.Hyperinflationary every item is
// translated at the closing rate.
func (e *Engine) CurrentRate(ctx context.Context, req Request, balances []Balance) (Result, error) {
	return e.translate(ctx, MethodCurrentRate, req, balances, func(acct ledger.Account) Basis {
		if req.Hyperinflationary {
			return BasisClosing
		}
		switch acct.Type {
		case ledger.AccountTypeAssets, ledger.AccountTypeLiabilities:
			return BasisClosing
		case ledger.AccountTypeEquity:
			return BasisHistorical
		default:
			return BasisAverage
		}
	})
}

// Temporal remeasures monetary items at the closing rate, non-monetary items
// and equity at their weighted historical rates and income-statement items at
// the period average. The plug is a remeasurement gain or loss in P&L.
//
// Depreciation is translated at the average rate like other expenses rather
// than at the rate of the underlying asset.
func (e *Engine) Temporal(ctx context.Context, req Request, balances []Balance) (Result, error) {
	return e.translate(ctx, MethodTemporal, req, balances, func(acct ledger.Account) Basis {
		switch acct.Class {
		case ledger.ClassMonetary:
			return BasisClosing
		case ledger.ClassNonMonetary, ledger.ClassEquity:
			return BasisHistorical
		default:
			return BasisAverage
		}
	})
}

func (e *Engine) translate(ctx context.Context, method Method, req Request, balances []Balance, basisFor func(ledger.Account) Basis) (Result, error) {
	req.Source = strings.ToUpper(req.Source)
	req.Target = strings.ToUpper(req.Target)
	res := Result{Method: method, Request: req, Destination: method.Destination()}
	if req.Source == "" || req.Target == "" {
		return res, errors.New("translation: source and target currency required")
	}
	if req.AsOf.IsZero() {
		return res, errors.New("translation: as-of date required")
	}
	rs := newRateSet(e.rates, req)
	for _, b := range balances {
		if err := ledger.Check(b.Account); err != nil {
			return res, err
		}
		basis := basisFor(b.Account)
		rate, err := rs.rateFor(ctx, basis, b)
		if err != nil {
			return res, err
		}
		line := Line{
			Account:    b.Account,
			Source:     b.Amount,
			Rate:       rate,
			Basis:      basis,
			Translated: b.Amount.Mul(rate).Round(amountScale),
		}
		res.Lines = append(res.Lines, line)
		switch b.Account.Type {
		case ledger.AccountTypeAssets:
			res.NetAssets = res.NetAssets.Add(line.Translated)
		case ledger.AccountTypeLiabilities:
			res.NetAssets = res.NetAssets.Sub(line.Translated)
		case ledger.AccountTypeEquity:
			res.Equity = res.Equity.Add(line.Translated)
		case ledger.AccountTypeRevenue:
			res.NetIncome = res.NetIncome.Add(line.Translated)
		case ledger.AccountTypeExpenses:
			res.NetIncome = res.NetIncome.Sub(line.Translated)
		}
	}
	res.Adjustment = res.NetAssets.Sub(res.Equity).Sub(res.NetIncome)
	if method == MethodCurrentRate {
		avg, err := rs.average(ctx)
		if err != nil {
			return res, err
		}
		res.Components = decompose(res, avg)
	}
	res.RatesUsed = rs.used
	e.logger.Debug("translation computed",
		slog.String("method", string(method)),
		slog.String("ledger", req.LedgerID),
		slog.String("adjustment", res.Adjustment.StringFixed(2)))
	return res, nil
}

// decompose splits the adjustment into the effect of carrying assets,
// liabilities and hedges at closing instead of average; equity absorbs the rest.
func decompose(res Result, average decimal.Decimal) Components {
	var c Components
	for _, l := range res.Lines {
		if l.Basis != BasisClosing {
			continue
		}
		diff := l.Translated.Sub(l.Source.Mul(average).Round(amountScale))
		if l.Account.Type == ledger.AccountTypeLiabilities {
			diff = diff.Neg()
		} else if l.Account.Type != ledger.AccountTypeAssets {
			continue
		}
		switch {
		case l.Account.Hedge:
			c.Hedge = c.Hedge.Add(diff)
		case l.Account.Type == ledger.AccountTypeAssets:
			c.Asset = c.Asset.Add(diff)
		default:
			c.Liability = c.Liability.Add(diff)
		}
	}
	c.Equity = res.Adjustment.Sub(c.Asset).Sub(c.Liability).Sub(c.Hedge)
	return c
}

type rateSet struct {
	src     RateSource
	req     Request
	closing *decimal.Decimal
	avg     *decimal.Decimal
	seen    map[rates.Key]struct{}
	used    []rates.Key
}

func newRateSet(src RateSource, req Request) *rateSet {
	return &rateSet{src: src, req: req, seen: make(map[rates.Key]struct{})}
}

func (s *rateSet) record(r rates.ExchangeRate) decimal.Decimal {
	if r.Source != "PARITY" {
		if _, ok := s.seen[r.Key()]; !ok {
			s.seen[r.Key()] = struct{}{}
			s.used = append(s.used, r.Key())
		}
	}
	return r.Rate
}

func (s *rateSet) rateFor(ctx context.Context, basis Basis, b Balance) (decimal.Decimal, error) {
	switch basis {
	case BasisClosing:
		return s.closingRate(ctx)
	case BasisAverage:
		return s.average(ctx)
	default:
		rate, used, err := WeightedRate(ctx, s.src, s.req.Source, s.req.Target, b.Layers, s.req.AsOf)
		if err != nil {
			return decimal.Zero, err
		}
		for _, r := range used {
			s.record(r)
		}
		return rate, nil
	}
}

func (s *rateSet) closingRate(ctx context.Context) (decimal.Decimal, error) {
	if s.closing == nil {
		r, err := s.src.Resolve(ctx, s.req.Source, s.req.Target, s.req.AsOf, rates.RateTypeClosing)
		if err != nil {
			return decimal.Zero, err
		}
		rate := s.record(r)
		s.closing = &rate
	}
	return *s.closing, nil
}

func (s *rateSet) average(ctx context.Context) (decimal.Decimal, error) {
	if s.avg == nil {
		start := s.req.PeriodStart
		if start.IsZero() {
			start = time.Date(s.req.AsOf.Year(), s.req.AsOf.Month(), 1, 0, 0, 0, 0, time.UTC)
		}
		r, err := s.src.HistoricalRate(ctx, s.req.Source, s.req.Target, start, s.req.AsOf)
		if err != nil {
			return decimal.Zero, err
		}
		rate := s.record(r)
		s.avg = &rate
	}
	return *s.avg, nil
}

// WeightedRate approximates the historical rate of a balance built up over
// several dates: each layer is weighted by its amount and valued at the
// HISTORICAL rate quoted for its date, or the CLOSING rate in effect on that
// date when no historical quote exists for it. Without usable layers the rate
// at asOf is used.
func WeightedRate(ctx context.Context, src RateSource, from, to string, layers []Layer, asOf time.Time) (decimal.Decimal, []rates.ExchangeRate, error) {
	total := decimal.Zero
	for _, l := range layers {
		total = total.Add(l.Amount)
	}
	if len(layers) == 0 || total.IsZero() {
		r, err := historicalAt(ctx, src, from, to, asOf)
		if err != nil {
			return decimal.Zero, nil, err
		}
		return r.Rate, []rates.ExchangeRate{r}, nil
	}
	weighted := decimal.Zero
	used := make([]rates.ExchangeRate, 0, len(layers))
	for _, l := range layers {
		if l.Amount.IsZero() {
			continue
		}
		r, err := historicalAt(ctx, src, from, to, l.Date)
		if err != nil {
			return decimal.Zero, nil, err
		}
		used = append(used, r)
		weighted = weighted.Add(l.Amount.Mul(r.Rate))
	}
	return weighted.DivRound(total, rates.Precision), used, nil
}

func historicalAt(ctx context.Context, src RateSource, from, to string, date time.Time) (rates.ExchangeRate, error) {
	r, err := src.Resolve(ctx, from, to, date, rates.RateTypeHistorical)
	if err == nil && (r.Source == "PARITY" || r.RateDate.Equal(rates.DateOnly(date))) {
		return r, nil
	}
	if err != nil && !errors.Is(err, rates.ErrRateNotFound) {
		return rates.ExchangeRate{}, err
	}
	return src.Resolve(ctx, from, to, date, rates.RateTypeClosing)
}
