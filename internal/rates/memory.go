package rates

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps rates in process. It backs offline CSV validation and
// tests that do not need Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	rates map[Key]ExchangeRate
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rates: make(map[Key]ExchangeRate)}
}

// Put stores r as-is, replacing any rate with the same key.
func (m *MemoryStore) Put(r ExchangeRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.RateDate = DateOnly(r.RateDate)
	m.rates[r.Key()] = r
}

// FindRate implements Store.
func (m *MemoryStore) FindRate(_ context.Context, key Key) (ExchangeRate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key.Date = DateOnly(key.Date)
	r, ok := m.rates[key]
	return r, ok, nil
}

// LatestOnOrBefore implements Store.
func (m *MemoryStore) LatestOnOrBefore(_ context.Context, from, to string, asOf time.Time, rateType RateType) (ExchangeRate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  ExchangeRate
		found bool
	)
	for k, r := range m.rates {
		if k.From != from || k.To != to || k.Type != rateType || k.Date.After(asOf) {
			continue
		}
		if !found || k.Date.After(best.RateDate) {
			best, found = r, true
		}
	}
	return best, found, nil
}

// QuoteTypes implements QuoteProvider.
func (m *MemoryStore) QuoteTypes(_ context.Context, from, to string, start, end time.Time) (map[RateType]ExchangeRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[RateType]ExchangeRate)
	for k, r := range m.rates {
		if k.From != from || k.To != to || k.Date.Before(start) || k.Date.After(end) {
			continue
		}
		if cur, ok := out[k.Type]; !ok || k.Date.After(cur.RateDate) {
			out[k.Type] = r
		}
	}
	return out, nil
}

// Upsert implements Upserter with the same lock semantics as the repository.
func (m *MemoryStore) Upsert(_ context.Context, in UpsertInput) (ExchangeRate, error) {
	in = in.Normalize()
	if !in.Rate.IsPositive() {
		return ExchangeRate{}, ErrInvalidRate
	}
	key := Key{From: in.From, To: in.To, Date: in.RateDate, Type: in.Type}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rates[key]; ok && cur.Locked {
		return ExchangeRate{}, ErrRateLocked
	}
	now := time.Now().UTC()
	r := ExchangeRate{
		From: in.From, To: in.To, RateDate: in.RateDate, Type: in.Type,
		Rate: in.Rate.Round(Precision), Source: in.Source, IsOfficial: in.IsOfficial,
		PublicationDate: in.PublicationDate, CreatedAt: now, UpdatedAt: now,
	}
	m.rates[key] = r
	return r, nil
}

// MarkReferenced locks the given rates.
func (m *MemoryStore) MarkReferenced(_ context.Context, keys []Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		k.Date = DateOnly(k.Date)
		if r, ok := m.rates[k]; ok {
			r.Locked = true
			m.rates[k] = r
		}
	}
	return nil
}
