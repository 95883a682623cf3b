package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fxreval/internal/platform/db"
)

// IdempotencyStore records processed task keys in idempotency_keys so a
// redelivered scheduled revaluation does not start a second run.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// RevaluationKey builds the idempotency key of a scheduled revaluation.
func RevaluationKey(companyCode string, date time.Time, fiscalYear, fiscalPeriod int) string {
	return fmt.Sprintf("fx-reval:%s:%s:%d-%02d", companyCode, date.Format("2006-01-02"), fiscalYear, fiscalPeriod)
}

// CheckAndInsert claims key for module, returning ErrIdempotencyConflict
// when it was claimed before.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" || module == "" {
		return fmt.Errorf("%w: idempotency key and module required", ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, s.now())
	if db.UniqueViolation(err, "") {
		return ErrIdempotencyConflict
	}
	return err
}

// Purge removes keys older than retention and reports how many were dropped.
func (s *IdempotencyStore) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete releases key after a failed run so the retry can claim it again.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%w: idempotency key required", ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}
