package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fxreval/internal/compliance"
	jobmetrics "github.com/odyssey-erp/fxreval/internal/jobs"
	"github.com/odyssey-erp/fxreval/internal/rates"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/shared"
)

const idempotencyModule = "fx_revaluation"

// Revaluer runs and pre-checks revaluations.
type Revaluer interface {
	Run(ctx context.Context, req compliance.RunRequest) (compliance.RunResult, error)
	Preflight(ctx context.Context, req compliance.RunRequest) (rates.ValidationResult, error)
}

// IdempotencyStore guards against a retried task starting a second run.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// FXRevaluationJob handles TaskFXRevaluation.
type FXRevaluationJob struct {
	Revaluer    Revaluer
	Idempotency IdempotencyStore
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewFXRevaluationJob initialises the handler. idem may be nil.
func NewFXRevaluationJob(revaluer Revaluer, idem IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *FXRevaluationJob {
	return &FXRevaluationJob{
		Revaluer:    revaluer,
		Idempotency: idem,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock used to pick the default revaluation date.
func (j *FXRevaluationJob) WithClock(clock func() time.Time) *FXRevaluationJob {
	if clock != nil {
		j.clock = clock
	}
	return j
}

// Handle executes one scheduled revaluation.
func (j *FXRevaluationJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Revaluer == nil {
		return errors.New("fx revaluation: handler not configured")
	}
	var payload FXRevaluationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskFXRevaluation)
	defer func() {
		err = tracker.End(err)
	}()

	req := j.request(payload)
	logger := j.logger().With(
		slog.String("company", req.CompanyCode),
		slog.String("revaluation_date", req.RevaluationDate.Format("2006-01-02")),
	)

	key := shared.RevaluationKey(req.CompanyCode, req.RevaluationDate, req.FiscalYear, req.FiscalPeriod)
	if j.Idempotency != nil {
		if err := j.Idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				logger.Info("fx revaluation already processed", slog.String("key", key))
				return nil
			}
			return err
		}
	}

	if check, err := j.Revaluer.Preflight(ctx, req); err != nil {
		logger.Warn("fx rate preflight skipped", slog.Any("error", err))
	} else if len(check.Gaps) > 0 {
		j.Metrics.AddRateGaps(req.CompanyCode, len(check.Gaps))
		for _, gap := range check.Gaps {
			logger.Warn("fx rate gap", slog.String("pair", gap.Pair), slog.Any("types", gap.Types))
		}
	}

	res, err := j.Revaluer.Run(ctx, req)
	if err != nil {
		j.release(ctx, key, logger)
		if errors.Is(err, revaluation.ErrConcurrentRun) {
			logger.Warn("fx revaluation deferred: run in progress")
			return fmt.Errorf("fx revaluation: %w: %w", jobmetrics.ErrDeferred, err)
		}
		if errors.Is(err, shared.ErrInvalidInput) {
			logger.Error("fx revaluation payload rejected", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger.Error("fx revaluation failed", slog.Any("error", err))
		return err
	}
	logger.Info("fx revaluation finished",
		slog.String("run_id", res.RunID.String()),
		slog.String("status", res.DisplayStatus()),
		slog.Int("documents", len(res.JournalDocuments)),
		slog.Int("errors", len(res.Errors)))
	return nil
}

func (j *FXRevaluationJob) request(p FXRevaluationPayload) compliance.RunRequest {
	date := rates.DateOnly(p.RevaluationDate)
	if p.RevaluationDate.IsZero() {
		now := j.clock()
		date = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	}
	fy, fp := shared.PeriodOf(date)
	return compliance.RunRequest{
		CompanyCode:     p.CompanyCode,
		RevaluationDate: date,
		FiscalYear:      fy,
		FiscalPeriod:    fp,
		Ledgers:         p.Ledgers,
		CreateJournals:  p.CreateJournals,
		Actor:           "scheduler",
	}
}

func (j *FXRevaluationJob) release(ctx context.Context, key string, logger *slog.Logger) {
	if j.Idempotency == nil {
		return
	}
	if err := j.Idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn("fx revaluation idempotency key not released", slog.Any("error", err))
	}
}

func (j *FXRevaluationJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
