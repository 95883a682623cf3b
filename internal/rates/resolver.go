package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Store is the read side of the exchange-rate store.
type Store interface {
	FindRate(ctx context.Context, key Key) (ExchangeRate, bool, error)
	LatestOnOrBefore(ctx context.Context, from, to string, asOf time.Time, rateType RateType) (ExchangeRate, bool, error)
}

// One is the parity rate returned for same-currency lookups.
var One = decimal.New(1, 0)

// Resolver answers get_rate queries against a Store with as-of-date fallback.
type Resolver struct {
	store Store
	cache *gocache.Cache
	group singleflight.Group
}

// NewResolver constructs a resolver. cache may be nil to disable memoisation;
// callers own the cache instance so tests get isolated state.
func NewResolver(store Store, cache *gocache.Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// NewCache builds the keyed TTL store used to memoise resolved rates.
func NewCache(ttl time.Duration) *gocache.Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return gocache.New(ttl, 2*ttl)
}

// GetRate returns the rate converting one unit of from into to as of the given
// date. A *MissingRateError is returned when nothing exists on or before asOf.
func (r *Resolver) GetRate(ctx context.Context, from, to string, asOf time.Time, rateType RateType) (decimal.Decimal, error) {
	rate, err := r.Resolve(ctx, from, to, asOf, rateType)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Rate, nil
}

// Resolve is GetRate returning the full row, so callers can record which
// quote they used.
func (r *Resolver) Resolve(ctx context.Context, from, to string, asOf time.Time, rateType RateType) (ExchangeRate, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	asOf = DateOnly(asOf)
	if rateType == "" {
		rateType = RateTypeClosing
	}
	if from == to {
		return ExchangeRate{From: from, To: to, RateDate: asOf, Type: rateType, Rate: One, Source: "PARITY"}, nil
	}
	if r == nil || r.store == nil {
		return ExchangeRate{}, errors.New("rates: resolver not initialised")
	}
	if !rateType.Valid() {
		return ExchangeRate{}, fmt.Errorf("rates: unsupported rate type %q", rateType)
	}
	key := cacheKey(from, to, asOf, rateType)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached.(ExchangeRate), nil
		}
	}
	val, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.lookup(ctx, from, to, asOf, rateType)
	})
	if err != nil {
		return ExchangeRate{}, err
	}
	rate := val.(ExchangeRate)
	if r.cache != nil {
		r.cache.SetDefault(key, rate)
	}
	return rate, nil
}

func (r *Resolver) lookup(ctx context.Context, from, to string, asOf time.Time, rateType RateType) (ExchangeRate, error) {
	rate, ok, err := r.find(ctx, from, to, asOf, rateType)
	if err != nil {
		return ExchangeRate{}, err
	}
	if ok {
		return rate, nil
	}
	inverse, ok, err := r.find(ctx, to, from, asOf, rateType)
	if err != nil {
		return ExchangeRate{}, err
	}
	if !ok || !inverse.Rate.IsPositive() {
		return ExchangeRate{}, &MissingRateError{From: from, To: to, AsOf: asOf, Type: rateType}
	}
	return inverse.Invert(), nil
}

// find tries the exact date, then the latest earlier quote.
func (r *Resolver) find(ctx context.Context, from, to string, asOf time.Time, rateType RateType) (ExchangeRate, bool, error) {
	rate, ok, err := r.store.FindRate(ctx, Key{From: from, To: to, Date: asOf, Type: rateType})
	if err != nil {
		return ExchangeRate{}, false, fmt.Errorf("rates: exact lookup %s%s: %w", from, to, err)
	}
	if ok {
		return rate, true, nil
	}
	rate, ok, err = r.store.LatestOnOrBefore(ctx, from, to, asOf, rateType)
	if err != nil {
		return ExchangeRate{}, false, fmt.Errorf("rates: fallback lookup %s%s: %w", from, to, err)
	}
	return rate, ok, nil
}

// HistoricalRate resolves the comparison rate for a fiscal period: the AVERAGE
// rate dated inside the period, otherwise the CLOSING rate in effect when the
// period opened.
func (r *Resolver) HistoricalRate(ctx context.Context, from, to string, periodStart, periodEnd time.Time) (ExchangeRate, error) {
	periodStart = DateOnly(periodStart)
	avg, err := r.Resolve(ctx, from, to, periodEnd, RateTypeAverage)
	if err == nil && !avg.RateDate.Before(periodStart) {
		return avg, nil
	}
	if err != nil && !errors.Is(err, ErrRateNotFound) {
		return ExchangeRate{}, err
	}
	opening, err := r.Resolve(ctx, from, to, periodStart, RateTypeClosing)
	if err != nil {
		if errors.Is(err, ErrRateNotFound) {
			return ExchangeRate{}, &MissingRateError{From: strings.ToUpper(from), To: strings.ToUpper(to), AsOf: DateOnly(periodEnd), Type: RateTypeAverage}
		}
		return ExchangeRate{}, err
	}
	return opening, nil
}

// Invalidate drops memoised entries, typically after an import.
func (r *Resolver) Invalidate() {
	if r != nil && r.cache != nil {
		r.cache.Flush()
	}
}

func cacheKey(from, to string, asOf time.Time, rateType RateType) string {
	return from + ":" + to + ":" + asOf.Format("2006-01-02") + ":" + string(rateType)
}
