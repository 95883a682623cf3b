package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemoryStore
	lookups int
}

func newStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore()}
}

func (c *countingStore) FindRate(ctx context.Context, key Key) (ExchangeRate, bool, error) {
	c.lookups++
	return c.MemoryStore.FindRate(ctx, key)
}

func (c *countingStore) add(from, to string, day time.Time, t RateType, rate string) {
	c.Put(ExchangeRate{From: from, To: to, RateDate: day, Type: t, Rate: decimal.RequireFromString(rate), Source: "TEST"})
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGetRateSameCurrencyIsParity(t *testing.T) {
	resolver := NewResolver(newStore(), nil)
	for _, code := range []string{"USD", "eur", "JPY"} {
		rate, err := resolver.GetRate(context.Background(), code, code, date(2024, 3, 31), RateTypeClosing)
		require.NoError(t, err)
		require.True(t, rate.Equal(One), "expected parity for %s, got %s", code, rate)
	}
}

func TestGetRateExactMatch(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 3, 31), RateTypeClosing, "1.0850")
	store.add("EUR", "USD", date(2024, 3, 28), RateTypeClosing, "1.0790")
	resolver := NewResolver(store, nil)

	rate, err := resolver.GetRate(context.Background(), "EUR", "USD", date(2024, 3, 31), RateTypeClosing)
	require.NoError(t, err)
	require.Equal(t, "1.085", rate.String())
}

func TestGetRateFallsBackToLatestEarlierDate(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 3, 27), RateTypeClosing, "1.0700")
	store.add("EUR", "USD", date(2024, 3, 28), RateTypeClosing, "1.0790")
	store.add("EUR", "USD", date(2024, 4, 2), RateTypeClosing, "1.0900")
	resolver := NewResolver(store, nil)

	rate, err := resolver.Resolve(context.Background(), "eur", "usd", date(2024, 3, 31), RateTypeClosing)
	require.NoError(t, err)
	require.Equal(t, "1.079", rate.Rate.String())
	require.True(t, rate.RateDate.Equal(date(2024, 3, 28)))
}

func TestGetRateMissing(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 4, 2), RateTypeClosing, "1.0900")
	resolver := NewResolver(store, nil)

	_, err := resolver.GetRate(context.Background(), "EUR", "USD", date(2024, 3, 31), RateTypeClosing)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRateNotFound))
	var missing *MissingRateError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "EUR", missing.From)
	require.Equal(t, "USD", missing.To)
	require.Equal(t, "No exchange rate found for EUR/USD CLOSING on or before 2024-03-31", err.Error())
}

func TestGetRateDefaultsToClosing(t *testing.T) {
	store := newStore()
	store.add("GBP", "USD", date(2024, 3, 31), RateTypeClosing, "1.2620")
	store.add("GBP", "USD", date(2024, 3, 31), RateTypeAverage, "1.2700")
	resolver := NewResolver(store, nil)

	rate, err := resolver.GetRate(context.Background(), "GBP", "USD", date(2024, 3, 31), "")
	require.NoError(t, err)
	require.Equal(t, "1.262", rate.String())
}

func TestResolverCachesResolvedRates(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 3, 31), RateTypeClosing, "1.0850")
	resolver := NewResolver(store, NewCache(time.Minute))

	for i := 0; i < 3; i++ {
		_, err := resolver.GetRate(context.Background(), "EUR", "USD", date(2024, 3, 31), RateTypeClosing)
		require.NoError(t, err)
	}
	require.Equal(t, 1, store.lookups)

	resolver.Invalidate()
	_, err := resolver.GetRate(context.Background(), "EUR", "USD", date(2024, 3, 31), RateTypeClosing)
	require.NoError(t, err)
	require.Equal(t, 2, store.lookups)
}

func TestHistoricalRatePrefersPeriodAverage(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 3, 31), RateTypeAverage, "1.0820")
	store.add("EUR", "USD", date(2024, 3, 1), RateTypeClosing, "1.0800")
	resolver := NewResolver(store, nil)

	rate, err := resolver.HistoricalRate(context.Background(), "EUR", "USD", date(2024, 3, 1), date(2024, 3, 31))
	require.NoError(t, err)
	require.Equal(t, RateTypeAverage, rate.Type)
	require.Equal(t, "1.082", rate.Rate.String())
}

func TestHistoricalRateFallsBackToOpeningClosing(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 2, 29), RateTypeAverage, "1.0750")
	store.add("EUR", "USD", date(2024, 2, 29), RateTypeClosing, "1.0800")
	resolver := NewResolver(store, nil)

	rate, err := resolver.HistoricalRate(context.Background(), "EUR", "USD", date(2024, 3, 1), date(2024, 3, 31))
	require.NoError(t, err)
	require.Equal(t, RateTypeClosing, rate.Type)
	require.Equal(t, "1.08", rate.Rate.String())
}

func TestHistoricalRateMissing(t *testing.T) {
	resolver := NewResolver(newStore(), nil)
	_, err := resolver.HistoricalRate(context.Background(), "EUR", "USD", date(2024, 3, 1), date(2024, 3, 31))
	require.ErrorIs(t, err, ErrRateNotFound)
}

func TestMarkReferencedLocksRate(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 3, 31), RateTypeClosing, "1.0850")
	key := Key{From: "EUR", To: "USD", Date: date(2024, 3, 31), Type: RateTypeClosing}
	require.NoError(t, store.MarkReferenced(context.Background(), []Key{key}))

	_, err := store.Upsert(context.Background(), UpsertInput{From: "EUR", To: "USD", RateDate: date(2024, 3, 31), Type: RateTypeClosing, Rate: decimal.RequireFromString("1.09")})
	require.ErrorIs(t, err, ErrRateLocked)
}

func TestGetRateDerivesInversePair(t *testing.T) {
	store := newStore()
	store.add("USD", "BRL", date(2024, 3, 28), RateTypeClosing, "4.9800")
	resolver := NewResolver(store, nil)

	rate, err := resolver.Resolve(context.Background(), "BRL", "USD", date(2024, 3, 31), RateTypeClosing)
	require.NoError(t, err)
	require.Equal(t, "BRL", rate.From)
	require.Equal(t, "USD", rate.To)
	require.Equal(t, "0.200803", rate.Rate.String())
	require.True(t, rate.RateDate.Equal(date(2024, 3, 28)))
	require.True(t, rate.Inverted)
	require.Equal(t, Key{From: "USD", To: "BRL", Date: date(2024, 3, 28), Type: RateTypeClosing}, rate.Key(), "locks the stored quote")
}

func TestGetRatePrefersDirectPair(t *testing.T) {
	store := newStore()
	store.add("EUR", "USD", date(2024, 3, 29), RateTypeClosing, "1.0800")
	store.add("USD", "EUR", date(2024, 3, 31), RateTypeClosing, "0.9000")
	resolver := NewResolver(store, nil)

	rate, err := resolver.Resolve(context.Background(), "EUR", "USD", date(2024, 3, 31), RateTypeClosing)
	require.NoError(t, err)
	require.False(t, rate.Inverted)
	require.Equal(t, "1.08", rate.Rate.String())
}
