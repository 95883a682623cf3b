package revaluationhttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/compliance"
	"github.com/odyssey-erp/fxreval/internal/platform/httpx"
	"github.com/odyssey-erp/fxreval/internal/rates"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/shared"
	"github.com/odyssey-erp/fxreval/jobs"
)

const abortTTL = 24 * time.Hour

type runService interface {
	Get(ctx context.Context, id uuid.UUID) (revaluation.Run, error)
	Details(ctx context.Context, id uuid.UUID) ([]revaluation.Detail, error)
	Cleanup(ctx context.Context, id uuid.UUID) (revaluation.CleanupResult, error)
}

type enqueuer interface {
	EnqueueFXRevaluation(ctx context.Context, payload jobs.FXRevaluationPayload) (*asynq.TaskInfo, error)
}

type aborter interface {
	RequestAbort(ctx context.Context, runID uuid.UUID, ttl time.Duration) error
}

type preflighter interface {
	Preflight(ctx context.Context, req compliance.RunRequest) (rates.ValidationResult, error)
}

// Handler exposes revaluation runs over JSON.
type Handler struct {
	logger    *slog.Logger
	runs      runService
	queue     enqueuer
	aborts    aborter
	preflight preflighter
}

// NewHandler constructs the handler. queue, aborts and preflight may be nil;
// their routes then answer 503.
func NewHandler(logger *slog.Logger, runs runService, queue enqueuer, aborts aborter, preflight preflighter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, runs: runs, queue: queue, aborts: aborts, preflight: preflight}
}

// MountRoutes registers the /fx routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/fx", func(r chi.Router) {
		r.Get("/preflight", h.preflightRates)
		r.Post("/runs", h.submitRun)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", h.getRun)
			r.Delete("/", h.cleanupRun)
			r.Get("/details", h.listDetails)
			r.Post("/abort", h.abortRun)
		})
	})
}

type submitRequest struct {
	CompanyCode     string   `json:"company_code"`
	RevaluationDate string   `json:"revaluation_date"`
	Ledgers         []string `json:"ledgers"`
	CreateJournals  *bool    `json:"create_journals"`
}

type submitResponse struct {
	TaskID      string `json:"task_id"`
	Queue       string `json:"queue"`
	CompanyCode string `json:"company_code"`
}

func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.RespondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	var body submitRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payload := jobs.FXRevaluationPayload{
		CompanyCode:    strings.TrimSpace(body.CompanyCode),
		Ledgers:        body.Ledgers,
		CreateJournals: true,
	}
	if body.CreateJournals != nil {
		payload.CreateJournals = *body.CreateJournals
	}
	if payload.CompanyCode == "" {
		httpx.RespondError(w, fmt.Errorf("%w: company_code is required", httpx.ErrValidation))
		return
	}
	if raw := strings.TrimSpace(body.RevaluationDate); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: revaluation_date must be YYYY-MM-DD", httpx.ErrValidation))
			return
		}
		payload.RevaluationDate = date
	}
	info, err := h.queue.EnqueueFXRevaluation(r.Context(), payload)
	if err != nil {
		h.logger.Error("enqueue fx revaluation", slog.String("company", payload.CompanyCode), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: enqueue failed", httpx.ErrUnavailable))
		return
	}
	httpx.JSON(w, http.StatusAccepted, submitResponse{TaskID: info.ID, Queue: info.Queue, CompanyCode: payload.CompanyCode})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRunView(run))
}

type detailsResponse struct {
	Details    []detailView      `json:"details"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if _, err := h.runs.Get(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	details, err := h.runs.Details(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	onlyErrors := r.URL.Query().Get("errors") == "true"
	if onlyErrors {
		filtered := details[:0:0]
		for _, d := range details {
			if d.Failed() {
				filtered = append(filtered, d)
			}
		}
		details = filtered
	}
	page := shared.NewPagination(queryInt(r, "page"), queryInt(r, "per_page"), len(details))
	start, end := page.Window()
	views := make([]detailView, 0, end-start)
	for _, d := range details[start:end] {
		views = append(views, newDetailView(d))
	}
	httpx.JSON(w, http.StatusOK, detailsResponse{Details: views, Pagination: page})
}

func (h *Handler) cleanupRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	res, err := h.runs.Cleanup(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"run_id":            res.RunID,
		"details_deleted":   res.DetailsDeleted,
		"documents_deleted": res.DocumentsDeleted,
	})
}

func (h *Handler) abortRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if h.aborts == nil {
		httpx.RespondError(w, fmt.Errorf("%w: abort channel not configured", httpx.ErrUnavailable))
		return
	}
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if run.Status.Terminal() {
		httpx.RespondError(w, fmt.Errorf("%w: run already %s", httpx.ErrConflict, strings.ToLower(string(run.Status))))
		return
	}
	if err := h.aborts.RequestAbort(r.Context(), id, abortTTL); err != nil {
		h.logger.Error("request abort", slog.String("run_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: abort not recorded", httpx.ErrUnavailable))
		return
	}
	h.logger.Info("fx revaluation abort requested", slog.String("run_id", id.String()))
	httpx.JSON(w, http.StatusAccepted, map[string]string{"run_id": id.String(), "status": "abort requested"})
}

type gapView struct {
	Pair  string   `json:"pair"`
	Types []string `json:"types"`
}

type preflightResponse struct {
	OK      bool      `json:"ok"`
	AsOf    string    `json:"as_of"`
	Checked int       `json:"checked"`
	Gaps    []gapView `json:"gaps"`
}

func (h *Handler) preflightRates(w http.ResponseWriter, r *http.Request) {
	if h.preflight == nil {
		httpx.RespondError(w, fmt.Errorf("%w: rate preflight not configured", httpx.ErrUnavailable))
		return
	}
	q := r.URL.Query()
	company := strings.TrimSpace(q.Get("company"))
	if company == "" {
		httpx.RespondError(w, fmt.Errorf("%w: company is required", httpx.ErrValidation))
		return
	}
	date, err := time.Parse("2006-01-02", q.Get("date"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: date must be YYYY-MM-DD", httpx.ErrValidation))
		return
	}
	fy, fp := shared.PeriodOf(date)
	req := compliance.RunRequest{CompanyCode: company, RevaluationDate: date, FiscalYear: fy, FiscalPeriod: fp}
	if raw := strings.TrimSpace(q.Get("ledgers")); raw != "" {
		req.Ledgers = strings.Split(raw, ",")
	}
	res, err := h.preflight.Preflight(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := preflightResponse{OK: len(res.Gaps) == 0, AsOf: date.Format("2006-01-02"), Checked: res.Checked, Gaps: make([]gapView, 0, len(res.Gaps))}
	for _, gap := range res.Gaps {
		types := make([]string, len(gap.Types))
		for i, t := range gap.Types {
			types[i] = string(t)
		}
		out.Gaps = append(out.Gaps, gapView{Pair: gap.Pair, Types: types})
	}
	httpx.JSON(w, http.StatusOK, out)
}

var domainErrors = []httpx.Mapping{
	{Target: revaluation.ErrRunNotFound, Status: http.StatusNotFound, Title: "Run Not Found"},
	{Target: revaluation.ErrRunActive, Status: http.StatusConflict, Title: "Run Active"},
	{Target: revaluation.ErrConcurrentRun, Status: http.StatusConflict, Title: "Run In Progress"},
	{Target: compliance.ErrUnknownLedger, Status: http.StatusBadRequest, Title: "Unknown Ledger"},
	{Target: shared.ErrInvalidInput, Status: http.StatusBadRequest, Title: "Validation Failed"},
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if !httpx.Matches(err, domainErrors...) {
		h.logger.Error("fx revaluation request", slog.Any("error", err))
	}
	httpx.RespondError(w, err, domainErrors...)
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: run id must be a uuid", httpx.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

type runView struct {
	ID               uuid.UUID          `json:"id"`
	CompanyCode      string             `json:"company_code"`
	RevaluationDate  string             `json:"revaluation_date"`
	FiscalYear       int                `json:"fiscal_year"`
	FiscalPeriod     int                `json:"fiscal_period"`
	Type             string             `json:"run_type"`
	Status           string             `json:"status"`
	DisplayStatus    string             `json:"display_status"`
	Ledgers          []string           `json:"ledgers"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	Totals           revaluation.Totals `json:"totals"`
	JournalDocuments []string           `json:"journal_documents"`
	Errors           []string           `json:"errors"`
}

func newRunView(run revaluation.Run) runView {
	docs := run.JournalDocuments
	if docs == nil {
		docs = []string{}
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	return runView{
		ID:               run.ID,
		CompanyCode:      run.CompanyCode,
		RevaluationDate:  run.RevaluationDate.Format("2006-01-02"),
		FiscalYear:       run.FiscalYear,
		FiscalPeriod:     run.FiscalPeriod,
		Type:             string(run.Type),
		Status:           string(run.Status),
		DisplayStatus:    run.DisplayStatus(),
		Ledgers:          run.Ledgers,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		Totals:           run.Totals,
		JournalDocuments: docs,
		Errors:           errs,
	}
}

type detailView struct {
	LedgerID            string          `json:"ledger_id"`
	GLAccount           string          `json:"gl_account"`
	AccountCurrency     string          `json:"account_currency"`
	CurrentBalanceFC    decimal.Decimal `json:"current_balance_fc"`
	CurrentBalanceFunc  decimal.Decimal `json:"current_balance_func"`
	RevaluedBalanceFunc decimal.Decimal `json:"revalued_balance_func"`
	HistoricalRate      decimal.Decimal `json:"historical_rate"`
	CurrentRate         decimal.Decimal `json:"current_rate"`
	RateDifference      decimal.Decimal `json:"rate_difference"`
	UnrealizedGainLoss  decimal.Decimal `json:"unrealized_gain_loss"`
	RevaluationRequired bool            `json:"revaluation_required"`
	ContraAccount       string          `json:"contra_account,omitempty"`
	Error               string          `json:"error,omitempty"`
}

func newDetailView(d revaluation.Detail) detailView {
	return detailView{
		LedgerID:            d.LedgerID,
		GLAccount:           d.GLAccount,
		AccountCurrency:     d.AccountCurrency,
		CurrentBalanceFC:    d.CurrentBalanceFC,
		CurrentBalanceFunc:  d.CurrentBalanceFunc,
		RevaluedBalanceFunc: d.RevaluedBalanceFunc,
		HistoricalRate:      d.HistoricalRate,
		CurrentRate:         d.CurrentRate,
		RateDifference:      d.RateDifference,
		UnrealizedGainLoss:  d.UnrealizedGainLoss,
		RevaluationRequired: d.RevaluationRequired,
		ContraAccount:       d.ContraAccount,
		Error:               d.ErrorMessage,
	}
}
