package revaluationhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fxreval/internal/compliance"
	"github.com/odyssey-erp/fxreval/internal/rates"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/shared"
	"github.com/odyssey-erp/fxreval/jobs"
)

type fakeQueue struct {
	payloads []jobs.FXRevaluationPayload
	err      error
}

func (f *fakeQueue) EnqueueFXRevaluation(_ context.Context, payload jobs.FXRevaluationPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(f.payloads)), Queue: jobs.QueueDefault}, nil
}

type fakePreflight struct {
	req compliance.RunRequest
	res rates.ValidationResult
}

func (f *fakePreflight) Preflight(_ context.Context, req compliance.RunRequest) (rates.ValidationResult, error) {
	f.req = req
	return f.res, nil
}

type testEnv struct {
	router http.Handler
	ledger *revaluation.RunLedger
	queue  *fakeQueue
	locker *shared.RedisLocker
	pre    *fakePreflight
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		ledger: revaluation.NewRunLedger(revaluation.NewMemoryStore(), nil, logger),
		queue:  &fakeQueue{},
		locker: shared.NewRedisLocker(client),
		pre:    &fakePreflight{},
	}
	r := chi.NewRouter()
	NewHandler(logger, env.ledger, env.queue, env.locker, env.pre).MountRoutes(r)
	env.router = r
	return env
}

func (e *testEnv) seedRun(t *testing.T, finish bool) revaluation.Run {
	t.Helper()
	ctx := context.Background()
	run, err := e.ledger.Create(ctx, revaluation.Run{
		CompanyCode:     "1000",
		RevaluationDate: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		FiscalYear:      2025,
		FiscalPeriod:    3,
		Type:            revaluation.RunTypePeriodEnd,
		Ledgers:         []string{"L1"},
	})
	require.NoError(t, err)
	require.NoError(t, e.ledger.Start(ctx, &run))
	require.NoError(t, e.ledger.AppendDetail(ctx, revaluation.Detail{
		RunID: run.ID, CompanyCode: "1000", LedgerID: "L1", GLAccount: "115001", AccountCurrency: "EUR",
		CurrentBalanceFC: decimal.NewFromInt(10000), UnrealizedGainLoss: decimal.NewFromInt(250), RevaluationRequired: true,
	}))
	require.NoError(t, e.ledger.AppendDetail(ctx, revaluation.Detail{
		RunID: run.ID, CompanyCode: "1000", LedgerID: "L1", GLAccount: "115002", AccountCurrency: "GBP",
		ErrorMessage: "no CLOSING rate GBPUSD on or before 2025-03-31",
	}))
	if finish {
		totals := revaluation.Totals{AccountsProcessed: 2, RevaluationsCreated: 1, TotalGain: decimal.NewFromInt(250)}
		require.NoError(t, e.ledger.Complete(ctx, &run, totals, []string{"FXR-2025-000001"}, []string{"ledger L1 revaluation: GBP rate missing"}))
	}
	return run
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestGetRunReportsWarnings(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, true)

	rr := env.do(http.MethodGet, "/fx/runs/"+run.ID.String(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view runView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&view))
	require.Equal(t, "COMPLETED", view.Status)
	require.Equal(t, "completed with warnings", view.DisplayStatus)
	require.Equal(t, "2025-03-31", view.RevaluationDate)
	require.Equal(t, []string{"FXR-2025-000001"}, view.JournalDocuments)
	require.True(t, view.Totals.TotalGain.Equal(decimal.NewFromInt(250)))
}

func TestGetRunNotFoundAndBadID(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(http.MethodGet, "/fx/runs/"+uuid.NewString(), ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/fx/runs/not-a-uuid", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestListDetailsPaginatesAndFilters(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, true)

	rr := env.do(http.MethodGet, "/fx/runs/"+run.ID.String()+"/details?per_page=1&page=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page detailsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&page))
	require.Len(t, page.Details, 1)
	require.Equal(t, "115002", page.Details[0].GLAccount)
	require.Equal(t, 2, page.Pagination.Total)
	require.Equal(t, 2, page.Pagination.TotalPages)

	rr = env.do(http.MethodGet, "/fx/runs/"+run.ID.String()+"/details?errors=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	page = detailsResponse{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&page))
	require.Len(t, page.Details, 1)
	require.NotEmpty(t, page.Details[0].Error)
}

func TestCleanupRejectsActiveRun(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, false)

	if rr := env.do(http.MethodDelete, "/fx/runs/"+run.ID.String(), ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for running run, got %d", rr.Code)
	}
}

func TestCleanupPurgesDetails(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, true)

	rr := env.do(http.MethodDelete, "/fx/runs/"+run.ID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.EqualValues(t, 2, body["details_deleted"])

	stored, err := env.ledger.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Empty(t, stored.JournalDocuments)
}

func TestAbortRunningRun(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, false)

	rr := env.do(http.MethodPost, "/fx/runs/"+run.ID.String()+"/abort", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	aborted, err := env.locker.Aborted(context.Background(), run.ID)
	require.NoError(t, err)
	require.True(t, aborted)
}

func TestAbortFinishedRunConflicts(t *testing.T) {
	env := newTestEnv(t)
	run := env.seedRun(t, true)

	rr := env.do(http.MethodPost, "/fx/runs/"+run.ID.String()+"/abort", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	aborted, err := env.locker.Aborted(context.Background(), run.ID)
	require.NoError(t, err)
	require.False(t, aborted)
}

func TestSubmitRunEnqueuesTask(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/fx/runs", `{"company_code":" 1000 ","revaluation_date":"2025-03-31","ledgers":["L1"]}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, env.queue.payloads, 1)
	payload := env.queue.payloads[0]
	require.Equal(t, "1000", payload.CompanyCode)
	require.True(t, payload.CreateJournals)
	require.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), payload.RevaluationDate)

	var body submitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Equal(t, "task-1", body.TaskID)
}

func TestSubmitRunValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []string{
		`{"revaluation_date":"2025-03-31"}`,
		`{"company_code":"1000","revaluation_date":"31/03/2025"}`,
		`{"company_code":"1000","unknown":true}`,
		`not json`,
	}
	for _, body := range cases {
		if rr := env.do(http.MethodPost, "/fx/runs", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}
	require.Empty(t, env.queue.payloads)
}

func TestSubmitRunQueueDown(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = errors.New("dial tcp: connection refused")

	rr := env.do(http.MethodPost, "/fx/runs", `{"company_code":"1000"}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestPreflightReportsGaps(t *testing.T) {
	env := newTestEnv(t)
	env.pre.res = rates.ValidationResult{Checked: 3, Gaps: []rates.Gap{{Pair: "GBPUSD", Types: []rates.RateType{rates.RateTypeClosing}}}}

	rr := env.do(http.MethodGet, "/fx/preflight?company=1000&date=2025-03-31&ledgers=L1,L2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body preflightResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.False(t, body.OK)
	require.Equal(t, []gapView{{Pair: "GBPUSD", Types: []string{"CLOSING"}}}, body.Gaps)
	require.Equal(t, []string{"L1", "L2"}, env.pre.req.Ledgers)
	require.Equal(t, 3, env.pre.req.FiscalPeriod)
}

func TestUnconfiguredRoutesAnswerUnavailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	NewHandler(logger, revaluation.NewRunLedger(revaluation.NewMemoryStore(), nil, logger), nil, nil, nil).MountRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/fx/runs", strings.NewReader(`{"company_code":"1000"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
