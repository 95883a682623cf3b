package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/fxreval/internal/cta"
	"github.com/odyssey-erp/fxreval/internal/journal"
	"github.com/odyssey-erp/fxreval/internal/ledger"
	"github.com/odyssey-erp/fxreval/internal/rates"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
	"github.com/odyssey-erp/fxreval/internal/shared"
	"github.com/odyssey-erp/fxreval/internal/translation"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrUnknownLedger rejects a ledger subset naming an unconfigured ledger.
var ErrUnknownLedger = errors.New("compliance: ledger not configured")

// LedgerStore lists the ledgers of a company.
type LedgerStore interface {
	ListLedgers(ctx context.Context, companyCode string) ([]LedgerSetup, error)
}

// ConfigStore lists the revaluation configs of a ledger.
type ConfigStore interface {
	ListConfigs(ctx context.Context, companyCode, ledgerID string) ([]revaluation.Config, error)
}

// FunctionalResolver resolves an entity's functional currency.
type FunctionalResolver interface {
	Resolve(ctx context.Context, entityID string, asOf time.Time) (EntityFunctionalCurrency, error)
}

// RunRecorder is the run ledger.
type RunRecorder interface {
	Create(ctx context.Context, run revaluation.Run) (revaluation.Run, error)
	Start(ctx context.Context, run *revaluation.Run) error
	Complete(ctx context.Context, run *revaluation.Run, totals revaluation.Totals, documents, errs []string) error
	Fail(ctx context.Context, run *revaluation.Run, cause error, errs []string) error
	AppendDetail(ctx context.Context, d revaluation.Detail) error
}

// Calculator revalues one ledger.
type Calculator interface {
	Calculate(ctx context.Context, in revaluation.Input, configs []revaluation.Config, sink revaluation.DetailSink) (revaluation.LedgerResult, error)
}

// SnapshotSource builds the balance snapshot a translation runs over.
type SnapshotSource interface {
	Snapshot(ctx context.Context, companyCode, ledgerID string, cutoff time.Time) ([]ledger.Balance, []error, error)
}

// AccountClassifier classifies the accounts that absorb adjustments.
type AccountClassifier interface {
	Classify(ctx context.Context, code string) (ledger.Account, error)
}

// Translator runs a translation method.
type Translator interface {
	Translate(ctx context.Context, method translation.Method, req translation.Request, balances []translation.Balance) (translation.Result, error)
}

// CTATracker rolls the CTA forward.
type CTATracker interface {
	RollForward(ctx context.Context, key cta.Key, accumulated cta.Components) (cta.Row, error)
	Carry(ctx context.Context, key cta.Key) (cta.Row, error)
}

// JournalPoster drafts the ledger document.
type JournalPoster interface {
	Post(ctx context.Context, header journal.Header, entries []journal.Entry) (string, error)
}

// RateReferencer locks rates used by a drafted revaluation.
type RateReferencer interface {
	MarkReferenced(ctx context.Context, keys []rates.Key) error
}

// Locker takes fail-fast locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (shared.ReleaseFunc, error)
}

// Supervisor can ask a run to stop between ledgers.
type Supervisor interface {
	Aborted(ctx context.Context, runID uuid.UUID) (bool, error)
}

// EventPublisher announces terminal runs.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, res RunResult) error
}

// Auditor writes the audit trail.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RunMetrics observes finished runs.
type RunMetrics interface {
	ObserveRun(status string, warnings bool, ledgers int, duration time.Duration)
}

// Deps wires the orchestrator. Inflation, RateLocks, Quotes, Locker,
// Supervisor, Events, Audit and Metrics are optional.
type Deps struct {
	Ledgers    LedgerStore
	Configs    ConfigStore
	Functional FunctionalResolver
	Inflation  InflationSource
	Runs       RunRecorder
	Calculator Calculator
	Snapshots  SnapshotSource
	Classifier AccountClassifier
	Translator Translator
	CTA        CTATracker
	Journal    JournalPoster
	RateLocks  RateReferencer
	Quotes     rates.QuoteProvider
	Locker     Locker
	Supervisor Supervisor
	Events     EventPublisher
	Audit      Auditor
	Metrics    RunMetrics
	Logger     *slog.Logger
	LockTTL    time.Duration
}

// Orchestrator coordinates a revaluation run across a company's ledgers.
type Orchestrator struct {
	deps Deps
	log  *slog.Logger
	now  func() time.Time
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = 30 * time.Minute
	}
	return &Orchestrator{deps: deps, log: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (o *Orchestrator) WithNow(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// Run executes one revaluation. Account and ledger failures are itemised in
// the result; a *revaluation.ConcurrentRunError is returned before any record
// is created and a *FatalSetupError marks the run FAILED.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	started := o.now()
	req, err := normalise(req)
	if err != nil {
		return RunResult{}, err
	}
	res := RunResult{CompanyCode: req.CompanyCode, Errors: []string{}, JournalDocuments: []string{}}

	setups, err := o.ledgers(ctx, req)
	if err != nil {
		return res, err
	}
	release, err := o.lock(ctx, req, setups)
	if err != nil {
		return res, err
	}
	defer release()

	ids := make([]string, len(setups))
	for i, s := range setups {
		ids[i] = s.LedgerID
	}
	run, err := o.deps.Runs.Create(ctx, revaluation.Run{
		CompanyCode:     req.CompanyCode,
		RevaluationDate: req.RevaluationDate,
		FiscalYear:      req.FiscalYear,
		FiscalPeriod:    req.FiscalPeriod,
		Type:            req.RunType,
		Ledgers:         ids,
	})
	if err != nil {
		return res, err
	}
	res.RunID = run.ID
	res.Status = run.Status
	if err := o.deps.Runs.Start(ctx, &run); err != nil {
		return res, o.fail(ctx, req.Actor, &run, &res, &FatalSetupError{Stage: "start", Err: err}, started)
	}
	res.Status = run.Status

	efc, err := o.deps.Functional.Resolve(ctx, req.CompanyCode, req.RevaluationDate)
	if err != nil {
		return res, o.fail(ctx, req.Actor, &run, &res, err, started)
	}
	res.FunctionalCurrency = efc.FunctionalCurrency
	res.Inflation, err = o.inflation(ctx, efc.FunctionalCurrency, req.RevaluationDate)
	if err != nil {
		return res, o.fail(ctx, req.Actor, &run, &res, err, started)
	}
	if res.Inflation == InflationHyperinflationary {
		o.log.Warn("functional currency is hyperinflationary", slog.String("currency", efc.FunctionalCurrency), slog.String("run_id", run.ID.String()))
	}
	if !efc.Assessed {
		res.Errors = append(res.Errors, fmt.Sprintf("entity %s functional currency not assessed: default %s applied", req.CompanyCode, efc.FunctionalCurrency))
	}

	periodStart, _, err := shared.PeriodBounds(req.FiscalYear, req.FiscalPeriod)
	if err != nil {
		return res, o.fail(ctx, req.Actor, &run, &res, &FatalSetupError{Stage: "period", Err: err}, started)
	}

	for i, setup := range setups {
		if reason := o.checkpoint(ctx, run.ID); reason != "" {
			for _, rest := range setups[i:] {
				res.Ledgers = append(res.Ledgers, LedgerResult{LedgerID: rest.LedgerID, Standard: rest.Standard, Skipped: true})
				res.Errors = append(res.Errors, fmt.Sprintf("ledger %s skipped: %s", rest.LedgerID, reason))
			}
			o.log.Warn("fx revaluation run stopped", slog.String("run_id", run.ID.String()), slog.String("reason", reason))
			break
		}
		lr := o.processLedger(ctx, run, req, setup, efc.FunctionalCurrency, res.Inflation, periodStart)
		res.Totals = res.Totals.Add(lr.Totals)
		if lr.JournalDocument != "" {
			res.JournalDocuments = append(res.JournalDocuments, lr.JournalDocument)
		}
		res.Errors = append(res.Errors, lr.Errors...)
		res.Ledgers = append(res.Ledgers, lr)
	}

	// a cancelled request context must not leave the run RUNNING
	finishCtx := context.WithoutCancel(ctx)
	if err := o.deps.Runs.Complete(finishCtx, &run, res.Totals, res.JournalDocuments, res.Errors); err != nil {
		// a run left RUNNING would hold its ledger claims forever
		cause := fmt.Errorf("compliance: complete run %s: %w", run.ID, err)
		if ferr := o.deps.Runs.Fail(finishCtx, &run, cause, res.Errors); ferr != nil {
			o.log.Error("fx revaluation run could not be marked failed", slog.String("run_id", run.ID.String()), slog.Any("error", ferr))
		}
		res.Status = revaluation.RunStatusFailed
		res.Errors = append(res.Errors, cause.Error())
		o.finish(finishCtx, req.Actor, res, started)
		return res, cause
	}
	res.Status = run.Status
	o.finish(finishCtx, req.Actor, res, started)
	return res, nil
}

func normalise(req RunRequest) (RunRequest, error) {
	req.CompanyCode = strings.TrimSpace(req.CompanyCode)
	if req.RunType == "" {
		req.RunType = revaluation.RunTypePeriodEnd
		if len(req.Ledgers) > 0 {
			req.RunType = revaluation.RunTypeLedgerSpecific
		}
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	req.RevaluationDate = rates.DateOnly(req.RevaluationDate)
	return req, nil
}

func (o *Orchestrator) ledgers(ctx context.Context, req RunRequest) ([]LedgerSetup, error) {
	all, err := o.deps.Ledgers.ListLedgers(ctx, req.CompanyCode)
	if err != nil {
		return nil, &FatalSetupError{Stage: "ledger store", Err: err}
	}
	if len(req.Ledgers) == 0 {
		if len(all) == 0 {
			return nil, &FatalSetupError{Stage: "ledger store", Err: fmt.Errorf("company %s has no ledgers", req.CompanyCode)}
		}
		return all, nil
	}
	index := make(map[string]LedgerSetup, len(all))
	for _, s := range all {
		index[s.LedgerID] = s
	}
	out := make([]LedgerSetup, 0, len(req.Ledgers))
	for _, id := range req.Ledgers {
		s, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLedger, id)
		}
		out = append(out, s)
	}
	return out, nil
}

func (o *Orchestrator) lock(ctx context.Context, req RunRequest, setups []LedgerSetup) (func(), error) {
	var releases []shared.ReleaseFunc
	releaseAll := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for _, r := range releases {
			if err := r(rctx); err != nil {
				o.log.Warn("fx revaluation lock release failed", slog.Any("error", err))
			}
		}
	}
	if o.deps.Locker == nil {
		return releaseAll, nil
	}
	for _, s := range setups {
		key := shared.RevaluationLockKey(req.CompanyCode, s.LedgerID, req.FiscalYear, req.FiscalPeriod)
		release, err := o.deps.Locker.TryLock(ctx, key, o.deps.LockTTL)
		if err != nil {
			releaseAll()
			if errors.Is(err, shared.ErrLockHeld) {
				return nil, &revaluation.ConcurrentRunError{CompanyCode: req.CompanyCode, LedgerIDs: []string{s.LedgerID}, FiscalYear: req.FiscalYear, FiscalPeriod: req.FiscalPeriod}
			}
			return nil, &FatalSetupError{Stage: "lock", Err: err}
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func (o *Orchestrator) inflation(ctx context.Context, currency string, asOf time.Time) (InflationStatus, error) {
	if o.deps.Inflation == nil {
		return InflationNormal, nil
	}
	cumulative, ok, err := o.deps.Inflation.CumulativeInflation(ctx, currency, asOf)
	if err != nil {
		return "", &FatalSetupError{Stage: "inflation", Err: err}
	}
	if !ok {
		return InflationNormal, nil
	}
	return AssessInflation(cumulative), nil
}

// checkpoint returns a reason to stop before the next ledger, or "".
func (o *Orchestrator) checkpoint(ctx context.Context, runID uuid.UUID) string {
	if err := ctx.Err(); err != nil {
		return "run cancelled: " + err.Error()
	}
	if o.deps.Supervisor == nil {
		return ""
	}
	aborted, err := o.deps.Supervisor.Aborted(ctx, runID)
	if err != nil {
		o.log.Warn("fx revaluation abort check failed", slog.String("run_id", runID.String()), slog.Any("error", err))
		return ""
	}
	if aborted {
		return "run aborted by supervisor"
	}
	return ""
}

func (o *Orchestrator) processLedger(ctx context.Context, run revaluation.Run, req RunRequest, setup LedgerSetup, functional string, inflation InflationStatus, periodStart time.Time) LedgerResult {
	lr := LedgerResult{LedgerID: setup.LedgerID, Standard: setup.Standard, RestatementNote: RestatementNote(inflation, functional, setup.Standard)}
	logger := o.log.With(slog.String("run_id", run.ID.String()), slog.String("ledger", setup.LedgerID))
	fail := func(stage string, err error) LedgerResult {
		logger.Error("fx revaluation ledger step failed", slog.String("stage", stage), slog.Any("error", err))
		lr.Errors = append(lr.Errors, fmt.Sprintf("ledger %s %s: %v", setup.LedgerID, stage, err))
		return lr
	}
	if !setup.Standard.Valid() {
		return fail("setup", fmt.Errorf("unsupported accounting standard %q", setup.Standard))
	}

	configs, err := o.deps.Configs.ListConfigs(ctx, req.CompanyCode, setup.LedgerID)
	if err != nil {
		return fail("configs", err)
	}
	calc, err := o.deps.Calculator.Calculate(ctx, revaluation.Input{
		RunID:              run.ID,
		CompanyCode:        req.CompanyCode,
		LedgerID:           setup.LedgerID,
		FunctionalCurrency: functional,
		RevaluationDate:    req.RevaluationDate,
		PeriodStart:        periodStart,
	}, configs, o.deps.Runs)
	lr.Totals = calc.Totals
	lr.Errors = append(lr.Errors, calc.Errors...)
	if err != nil {
		return fail("revaluation", err)
	}
	used := append([]rates.Key(nil), calc.RatesUsed...)

	lr.Method = SelectMethod(setup.Standard, functional, presentationOf(setup, functional), inflation)
	accumulated, translatedKeys, err := o.translate(ctx, req, setup, functional, inflation, periodStart, &lr)
	if err != nil {
		fail("translation", err)
	} else {
		used = append(used, translatedKeys...)
	}

	key := cta.Key{
		EntityID:     req.CompanyCode,
		LedgerID:     setup.LedgerID,
		Standard:     setup.Standard,
		FiscalYear:   req.FiscalYear,
		FiscalPeriod: req.FiscalPeriod,
	}
	var row cta.Row
	if accumulated != nil {
		row, err = o.deps.CTA.RollForward(ctx, key, *accumulated)
	} else {
		row, err = o.deps.CTA.Carry(ctx, key)
	}
	if err != nil {
		fail("cta", err)
	} else {
		lr.ClosingCTA = row.Closing
	}

	if !req.CreateJournals {
		return lr
	}
	entries := make([]journal.Entry, 0, len(calc.Details))
	for _, d := range calc.Required() {
		entries = append(entries, journal.Entry{Account: d.GLAccount, Currency: d.AccountCurrency, ContraAccount: d.ContraAccount, GainLoss: d.UnrealizedGainLoss})
	}
	number, err := o.deps.Journal.Post(ctx, journal.Header{
		CompanyCode:  req.CompanyCode,
		LedgerID:     setup.LedgerID,
		PostingDate:  req.RevaluationDate,
		FiscalYear:   req.FiscalYear,
		FiscalPeriod: req.FiscalPeriod,
		Currency:     functional,
		Memo:         fmt.Sprintf("FX revaluation %s %d-%02d", req.CompanyCode, req.FiscalYear, req.FiscalPeriod),
		SourceRunID:  run.ID,
	}, entries)
	if err != nil {
		return fail("journal", err)
	}
	if number == "" {
		return lr
	}
	lr.JournalDocument = number
	if o.deps.RateLocks != nil && len(used) > 0 {
		if err := o.deps.RateLocks.MarkReferenced(ctx, used); err != nil {
			fail("rate lock", err)
		}
	}
	return lr
}

func presentationOf(setup LedgerSetup, functional string) string {
	if setup.PresentationCurrency == "" {
		return functional
	}
	return setup.PresentationCurrency
}

// translate returns the translation difference accumulated to the revaluation
// date when the ledger is translated at the current rate, otherwise nil.
func (o *Orchestrator) translate(ctx context.Context, req RunRequest, setup LedgerSetup, functional string, inflation InflationStatus, periodStart time.Time, lr *LedgerResult) (*cta.Components, []rates.Key, error) {
	lr.Destination = lr.Method.Destination()
	source, target := functional, presentationOf(setup, functional)
	if lr.Method == translation.MethodTemporal && setup.BookCurrency != "" && !strings.EqualFold(setup.BookCurrency, functional) {
		// books kept in a foreign currency are remeasured into functional
		source, target = setup.BookCurrency, functional
	}
	if strings.EqualFold(source, target) {
		return nil, nil, nil
	}
	balances, problems, err := o.deps.Snapshots.Snapshot(ctx, req.CompanyCode, setup.LedgerID, req.RevaluationDate)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range problems {
		lr.Errors = append(lr.Errors, fmt.Sprintf("ledger %s translation: %v", setup.LedgerID, p))
	}
	res, err := o.deps.Translator.Translate(ctx, lr.Method, translation.Request{
		EntityID:          req.CompanyCode,
		LedgerID:          setup.LedgerID,
		Source:            source,
		Target:            target,
		AsOf:              req.RevaluationDate,
		PeriodStart:       periodStart,
		FiscalYear:        req.FiscalYear,
		FiscalPeriod:      req.FiscalPeriod,
		Hyperinflationary: inflation == InflationHyperinflationary,
	}, translation.FromLedger(balances))
	if err != nil {
		return nil, nil, err
	}
	lr.TranslationAdjustment = res.Adjustment
	if account := adjustmentAccount(setup, res.Destination); account != "" && !res.Adjustment.IsZero() {
		acct, err := o.deps.Classifier.Classify(ctx, account)
		if err != nil {
			return nil, nil, err
		}
		route, err := translation.RouteAdjustment(res, acct)
		if err != nil {
			return nil, nil, err
		}
		lr.AdjustmentAccount = route.Account
	}
	if res.Method != translation.MethodCurrentRate {
		return nil, res.RatesUsed, nil
	}
	// the snapshot holds every posted balance, so the plug is cumulative
	return &cta.Components{
		Asset:     res.Components.Asset,
		Liability: res.Components.Liability,
		Equity:    res.Components.Equity,
		Hedge:     res.Components.Hedge,
	}, res.RatesUsed, nil
}

func adjustmentAccount(setup LedgerSetup, dest translation.Destination) string {
	if dest == translation.DestinationPNL {
		return setup.RemeasurementAccount
	}
	return setup.CTAAccount
}

func (o *Orchestrator) fail(ctx context.Context, actor string, run *revaluation.Run, res *RunResult, cause error, started time.Time) error {
	var fatal *FatalSetupError
	if !errors.As(cause, &fatal) {
		cause = &FatalSetupError{Stage: "setup", Err: cause}
	}
	finishCtx := context.WithoutCancel(ctx)
	if err := o.deps.Runs.Fail(finishCtx, run, cause, nil); err != nil {
		o.log.Error("fx revaluation run could not be marked failed", slog.String("run_id", run.ID.String()), slog.Any("error", err))
	}
	res.Status = revaluation.RunStatusFailed
	res.Errors = append(res.Errors, cause.Error())
	o.finish(finishCtx, actor, *res, started)
	return cause
}

func (o *Orchestrator) finish(ctx context.Context, actor string, res RunResult, started time.Time) {
	o.log.Info("fx revaluation run finished",
		slog.String("run_id", res.RunID.String()),
		slog.String("status", res.DisplayStatus()),
		slog.Int("accounts", res.Totals.AccountsProcessed),
		slog.Int("revaluations", res.Totals.RevaluationsCreated),
		slog.Int("errors", len(res.Errors)))
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveRun(string(res.Status), res.HasWarnings(), len(res.Ledgers), o.now().Sub(started))
	}
	if o.deps.Audit != nil {
		err := o.deps.Audit.Record(ctx, shared.RunAudit(actor, res.RunID.String(), string(res.Status), map[string]any{
			"company":   res.CompanyCode,
			"documents": res.JournalDocuments,
			"gain":      res.Totals.TotalGain.StringFixed(2),
			"loss":      res.Totals.TotalLoss.StringFixed(2),
			"errors":    len(res.Errors),
		}))
		if err != nil {
			o.log.Warn("fx revaluation audit failed", slog.Any("error", err))
		}
	}
	if o.deps.Events != nil {
		if err := o.deps.Events.PublishRunCompleted(ctx, res); err != nil {
			o.log.Warn("fx revaluation event not published", slog.Any("error", err))
		}
	}
}
