package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists exchange rates in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	validate *validator.Validate
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, validate: validator.New()}
}

const rateColumns = `from_currency, to_currency, rate_date, rate_type, rate, source, is_official, publication_date, locked, created_at, updated_at`

// FindRate returns the exact-date quote for key.
func (r *Repository) FindRate(ctx context.Context, key Key) (ExchangeRate, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates
WHERE from_currency=$1 AND to_currency=$2 AND rate_date=$3 AND rate_type=$4`, key.From, key.To, DateOnly(key.Date), key.Type)
	return scanRate(row)
}

// LatestOnOrBefore returns the most recent quote dated on or before asOf.
func (r *Repository) LatestOnOrBefore(ctx context.Context, from, to string, asOf time.Time, rateType RateType) (ExchangeRate, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates
WHERE from_currency=$1 AND to_currency=$2 AND rate_type=$3 AND rate_date <= $4
ORDER BY rate_date DESC LIMIT 1`, from, to, rateType, DateOnly(asOf))
	return scanRate(row)
}

// Upsert inserts a rate or updates it in place while it is still unlocked.
func (r *Repository) Upsert(ctx context.Context, in UpsertInput) (ExchangeRate, error) {
	in = in.Normalize()
	if err := r.validate.Struct(in); err != nil {
		return ExchangeRate{}, fmt.Errorf("rates: invalid input: %w", err)
	}
	if !in.Type.Valid() {
		return ExchangeRate{}, fmt.Errorf("rates: unsupported rate type %q", in.Type)
	}
	if !in.Rate.IsPositive() {
		return ExchangeRate{}, ErrInvalidRate
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO exchange_rates (from_currency, to_currency, rate_date, rate_type, rate, source, is_official, publication_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (from_currency, to_currency, rate_date, rate_type) DO UPDATE SET
	rate = EXCLUDED.rate,
	source = EXCLUDED.source,
	is_official = EXCLUDED.is_official,
	publication_date = EXCLUDED.publication_date,
	updated_at = NOW()
WHERE exchange_rates.locked = FALSE
RETURNING `+rateColumns, in.From, in.To, in.RateDate, in.Type, in.Rate, in.Source, in.IsOfficial, in.PublicationDate)
	rate, ok, err := scanRate(row)
	if err != nil {
		return ExchangeRate{}, err
	}
	if !ok {
		return ExchangeRate{}, ErrRateLocked
	}
	return rate, nil
}

// MarkReferenced locks the supplied rates so later imports cannot rewrite them.
func (r *Repository) MarkReferenced(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, key := range keys {
		batch.Queue(`UPDATE exchange_rates SET locked=TRUE, updated_at=NOW()
WHERE from_currency=$1 AND to_currency=$2 AND rate_date=$3 AND rate_type=$4 AND locked=FALSE`, key.From, key.To, DateOnly(key.Date), key.Type)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range keys {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("rates: mark referenced: %w", err)
		}
	}
	return nil
}

// QuoteTypes lists the rate types available for a pair within [from, to].
func (r *Repository) QuoteTypes(ctx context.Context, from, to string, start, end time.Time) (map[RateType]ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (rate_type) `+rateColumns+` FROM exchange_rates
WHERE from_currency=$1 AND to_currency=$2 AND rate_date BETWEEN $3 AND $4
ORDER BY rate_type, rate_date DESC`, from, to, DateOnly(start), DateOnly(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[RateType]ExchangeRate)
	for rows.Next() {
		rate, err := scanRateRow(rows)
		if err != nil {
			return nil, err
		}
		out[rate.Type] = rate
	}
	return out, rows.Err()
}

func scanRate(row pgx.Row) (ExchangeRate, bool, error) {
	rate, err := scanRateRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExchangeRate{}, false, nil
		}
		return ExchangeRate{}, false, err
	}
	return rate, true, nil
}

func scanRateRow(row pgx.Row) (ExchangeRate, error) {
	var rate ExchangeRate
	err := row.Scan(&rate.From, &rate.To, &rate.RateDate, &rate.Type, &rate.Rate, &rate.Source,
		&rate.IsOfficial, &rate.PublicationDate, &rate.Locked, &rate.CreatedAt, &rate.UpdatedAt)
	return rate, err
}
