package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

// RevaluationLockKey builds the redis key guarding one ledger period.
func RevaluationLockKey(companyCode, ledgerID string, fiscalYear, fiscalPeriod int) string {
	return fmt.Sprintf("fx:reval:%s:%s:%d:%02d:lock", companyCode, ledgerID, fiscalYear, fiscalPeriod)
}

// AbortKey builds the redis key a supervisor sets to stop a run.
func AbortKey(runID uuid.UUID) string {
	return fmt.Sprintf("fx:run:%s:abort", runID)
}

// ReleaseFunc drops a lock taken by TryLock.
type ReleaseFunc func(ctx context.Context) error

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker takes fail-fast locks with SET NX and a TTL.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock acquires key or returns ErrLockHeld immediately.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("shared: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

// RequestAbort asks the run to stop at its next checkpoint.
func (l *RedisLocker) RequestAbort(ctx context.Context, runID uuid.UUID, ttl time.Duration) error {
	return l.client.Set(ctx, AbortKey(runID), "1", ttl).Err()
}

// Aborted reports whether an abort was requested for runID.
func (l *RedisLocker) Aborted(ctx context.Context, runID uuid.UUID) (bool, error) {
	n, err := l.client.Exists(ctx, AbortKey(runID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
