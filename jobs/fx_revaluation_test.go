package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fxreval/internal/compliance"
	jobmetrics "github.com/odyssey-erp/fxreval/internal/jobs"
	"github.com/odyssey-erp/fxreval/internal/rates"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/shared"
)

type fakeRevaluer struct {
	requests []compliance.RunRequest
	gaps     []rates.Gap
	err      error
}

func (f *fakeRevaluer) Run(_ context.Context, req compliance.RunRequest) (compliance.RunResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return compliance.RunResult{}, f.err
	}
	return compliance.RunResult{CompanyCode: req.CompanyCode, Status: revaluation.RunStatusCompleted}, nil
}

func (f *fakeRevaluer) Preflight(context.Context, compliance.RunRequest) (rates.ValidationResult, error) {
	return rates.ValidationResult{Gaps: f.gaps}, nil
}

type memoryIdempotency struct {
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func task(t *testing.T, payload FXRevaluationPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(TaskFXRevaluation, data)
}

func newJob(rev *fakeRevaluer, idem *memoryIdempotency) *FXRevaluationJob {
	return NewFXRevaluationJob(rev, idem, nil, jobmetrics.NewMetrics(prometheus.NewRegistry())).
		WithClock(func() time.Time { return time.Date(2025, 4, 1, 1, 30, 0, 0, time.UTC) })
}

func TestFXRevaluationDefaultsToPriorMonthEnd(t *testing.T) {
	rev := &fakeRevaluer{}
	idem := &memoryIdempotency{keys: map[string]string{}}
	job := newJob(rev, idem)

	require.NoError(t, job.Handle(context.Background(), task(t, FXRevaluationPayload{CompanyCode: "1000", CreateJournals: true})))
	require.Len(t, rev.requests, 1)
	req := rev.requests[0]
	require.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), req.RevaluationDate)
	require.Equal(t, 2025, req.FiscalYear)
	require.Equal(t, 3, req.FiscalPeriod)
	require.True(t, req.CreateJournals)
	require.Equal(t, "scheduler", req.Actor)
	require.Contains(t, idem.keys, "fx-reval:1000:2025-03-31:2025-03")
}

func TestFXRevaluationJanuaryWrapsToPriorYear(t *testing.T) {
	rev := &fakeRevaluer{}
	job := newJob(rev, &memoryIdempotency{keys: map[string]string{}}).
		WithClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) })

	require.NoError(t, job.Handle(context.Background(), task(t, FXRevaluationPayload{CompanyCode: "1000"})))
	require.Equal(t, 2025, rev.requests[0].FiscalYear)
	require.Equal(t, 12, rev.requests[0].FiscalPeriod)
}

func TestFXRevaluationRetryDoesNotStartSecondRun(t *testing.T) {
	rev := &fakeRevaluer{}
	job := newJob(rev, &memoryIdempotency{keys: map[string]string{}})
	payload := FXRevaluationPayload{CompanyCode: "1000", RevaluationDate: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, job.Handle(context.Background(), task(t, payload)))
	require.NoError(t, job.Handle(context.Background(), task(t, payload)))
	require.Len(t, rev.requests, 1)
}

func TestFXRevaluationFailureReleasesKey(t *testing.T) {
	rev := &fakeRevaluer{err: &revaluation.ConcurrentRunError{CompanyCode: "1000", LedgerIDs: []string{"L1"}, FiscalYear: 2025, FiscalPeriod: 3}}
	idem := &memoryIdempotency{keys: map[string]string{}}
	job := newJob(rev, idem)

	err := job.Handle(context.Background(), task(t, FXRevaluationPayload{CompanyCode: "1000"}))
	require.ErrorIs(t, err, revaluation.ErrConcurrentRun)
	require.ErrorIs(t, err, jobmetrics.ErrDeferred)
	require.Empty(t, idem.keys, "a retry must be able to run")
}

func TestFXRevaluationInvalidRequestSkipsRetry(t *testing.T) {
	rev := &fakeRevaluer{err: errors.Join(shared.ErrInvalidInput, errors.New("company code required"))}
	job := newJob(rev, &memoryIdempotency{keys: map[string]string{}})

	err := job.Handle(context.Background(), task(t, FXRevaluationPayload{CompanyCode: "1000"}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestFXRevaluationMalformedPayload(t *testing.T) {
	job := newJob(&fakeRevaluer{}, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskFXRevaluation, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestCronForCompanies(t *testing.T) {
	cron, err := CronForCompanies("30 1 1 * *", []string{"1000", "2000"}, true)
	require.NoError(t, err)
	require.Len(t, cron, 2)
	var payload FXRevaluationPayload
	require.NoError(t, json.Unmarshal(cron[1].Task.Payload(), &payload))
	require.Equal(t, "2000", payload.CompanyCode)
	require.True(t, payload.CreateJournals)
	require.Equal(t, TaskFXRevaluation, cron[1].Task.Type())

	_, err = CronForCompanies("30 1 1 * *", []string{""}, true)
	require.Error(t, err)
}
