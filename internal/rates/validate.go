package rates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// QuoteProvider exposes the rate types stored for a pair inside a date window.
type QuoteProvider interface {
	QuoteTypes(ctx context.Context, from, to string, start, end time.Time) (map[RateType]ExchangeRate, error)
}

// Requirement declares which rate types must exist for a pair.
type Requirement struct {
	From  string
	To    string
	Types []RateType
}

// Gap lists missing rate types for a pair.
type Gap struct {
	Pair  string
	Types []RateType
}

// ValidationResult summarises a gap check for one month.
type ValidationResult struct {
	PeriodStart time.Time
	AsOf        time.Time
	Checked     int
	Gaps        []Gap
	Available   map[string]map[RateType]ExchangeRate
}

// Validate checks that every required rate type has a quote dated between the
// first day of asOf's month and asOf itself.
func Validate(ctx context.Context, provider QuoteProvider, asOf time.Time, reqs []Requirement) (ValidationResult, error) {
	var res ValidationResult
	if provider == nil {
		return res, fmt.Errorf("rates: quote provider required")
	}
	if asOf.IsZero() {
		return res, fmt.Errorf("rates: as-of date is required")
	}
	asOf = DateOnly(asOf)
	start := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC)
	res.PeriodStart = start
	res.AsOf = asOf
	res.Available = map[string]map[RateType]ExchangeRate{}
	res.Gaps = make([]Gap, 0)
	type pairKey struct{ from, to string }
	pairs := make(map[pairKey]map[RateType]struct{})
	for _, req := range reqs {
		from := strings.ToUpper(strings.TrimSpace(req.From))
		to := strings.ToUpper(strings.TrimSpace(req.To))
		if from == "" || to == "" {
			return ValidationResult{}, fmt.Errorf("rates: pair required")
		}
		if from == to {
			continue
		}
		if len(req.Types) == 0 {
			return ValidationResult{}, fmt.Errorf("rates: rate types required for pair %s%s", from, to)
		}
		key := pairKey{from, to}
		set := pairs[key]
		if set == nil {
			set = make(map[RateType]struct{}, len(req.Types))
			pairs[key] = set
		}
		for _, t := range req.Types {
			if !t.Valid() {
				return ValidationResult{}, fmt.Errorf("rates: unsupported rate type %q for pair %s%s", t, from, to)
			}
			set[t] = struct{}{}
		}
	}
	keys := make([]pairKey, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].from+keys[i].to < keys[j].from+keys[j].to })
	for _, k := range keys {
		quotes, err := provider.QuoteTypes(ctx, k.from, k.to, start, asOf)
		if err != nil {
			return ValidationResult{}, err
		}
		res.Checked++
		pair := k.from + k.to
		if len(quotes) > 0 {
			res.Available[pair] = quotes
		}
		var missing []RateType
		for t := range pairs[k] {
			if _, ok := quotes[t]; !ok {
				missing = append(missing, t)
			}
		}
		if len(missing) > 0 {
			// the resolver derives a rate from the reverse pair
			inverse, err := provider.QuoteTypes(ctx, k.to, k.from, start, asOf)
			if err != nil {
				return ValidationResult{}, err
			}
			kept := missing[:0]
			for _, t := range missing {
				if _, ok := inverse[t]; !ok {
					kept = append(kept, t)
				}
			}
			missing = kept
		}
		if len(missing) > 0 {
			sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
			res.Gaps = append(res.Gaps, Gap{Pair: pair, Types: missing})
		}
	}
	return res, nil
}
