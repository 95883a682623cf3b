package compliance

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/cta"
	"github.com/odyssey-erp/fxreval/internal/revaluation"
)

// Repository reads ledger setup and entity data for runs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListLedgers returns the active ledgers of a company ordered by id.
func (r *Repository) ListLedgers(ctx context.Context, companyCode string) ([]LedgerSetup, error) {
	rows, err := r.pool.Query(ctx, `SELECT ledger_id, standard, COALESCE(book_currency, ''), COALESCE(presentation_currency, ''),
COALESCE(cta_account, ''), COALESCE(remeasurement_account, '')
FROM fx_ledger_setups WHERE company_code = $1 AND is_active ORDER BY ledger_id`, companyCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerSetup
	for rows.Next() {
		var s LedgerSetup
		var standard string
		if err := rows.Scan(&s.LedgerID, &standard, &s.BookCurrency, &s.PresentationCurrency, &s.CTAAccount, &s.RemeasurementAccount); err != nil {
			return nil, err
		}
		s.Standard = cta.Standard(standard)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListConfigs returns the revaluation configs of a ledger.
func (r *Repository) ListConfigs(ctx context.Context, companyCode, ledgerID string) ([]revaluation.Config, error) {
	rows, err := r.pool.Query(ctx, `SELECT gl_account, account_currency, revaluation_method, revaluation_account,
COALESCE(loss_account, ''), is_active
FROM fx_revaluation_configs WHERE company_code = $1 AND ledger_id = $2 ORDER BY gl_account, account_currency`, companyCode, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []revaluation.Config
	for rows.Next() {
		cfg := revaluation.Config{CompanyCode: companyCode, LedgerID: ledgerID}
		if err := rows.Scan(&cfg.GLAccount, &cfg.AccountCurrency, &cfg.Method, &cfg.RevaluationAccount, &cfg.LossAccount, &cfg.Active); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// GetFunctionalCurrency loads an entity's functional currency.
func (r *Repository) GetFunctionalCurrency(ctx context.Context, entityID string) (EntityFunctionalCurrency, bool, error) {
	var efc EntityFunctionalCurrency
	var next *time.Time
	err := r.pool.QueryRow(ctx, `SELECT entity_id, functional_currency, COALESCE(previous_functional_currency, ''), effective_date,
COALESCE(assessment_methodology, ''), COALESCE(assessment_conclusion, ''), next_review_date
FROM entity_functional_currency WHERE entity_id = $1`, entityID).Scan(
		&efc.EntityID, &efc.FunctionalCurrency, &efc.PreviousFunctionalCurrency, &efc.EffectiveDate,
		&efc.AssessmentMethodology, &efc.AssessmentConclusion, &next)
	if errors.Is(err, pgx.ErrNoRows) {
		return EntityFunctionalCurrency{}, false, nil
	}
	if err != nil {
		return EntityFunctionalCurrency{}, false, err
	}
	if next != nil {
		efc.NextReviewDate = *next
	}
	return efc, true, nil
}

// SaveFunctionalCurrency upserts an entity's functional currency.
func (r *Repository) SaveFunctionalCurrency(ctx context.Context, efc EntityFunctionalCurrency) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO entity_functional_currency
(entity_id, functional_currency, previous_functional_currency, effective_date, assessment_methodology, assessment_conclusion, next_review_date)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
ON CONFLICT (entity_id) DO UPDATE SET
	functional_currency = EXCLUDED.functional_currency,
	previous_functional_currency = EXCLUDED.previous_functional_currency,
	effective_date = EXCLUDED.effective_date,
	assessment_methodology = EXCLUDED.assessment_methodology,
	assessment_conclusion = EXCLUDED.assessment_conclusion,
	next_review_date = EXCLUDED.next_review_date,
	updated_at = NOW()`,
		efc.EntityID, efc.FunctionalCurrency, efc.PreviousFunctionalCurrency, efc.EffectiveDate,
		efc.AssessmentMethodology, efc.AssessmentConclusion, efc.NextReviewDate)
	return err
}

// CumulativeInflation returns the latest three-year cumulative inflation
// published on or before asOf.
func (r *Repository) CumulativeInflation(ctx context.Context, currency string, asOf time.Time) (decimal.Decimal, bool, error) {
	var pct decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT cumulative_3y_pct FROM inflation_indices
WHERE currency = $1 AND period_end <= $2 ORDER BY period_end DESC LIMIT 1`, currency, asOf).Scan(&pct)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return pct, true, nil
}
