package revaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fxreval/internal/platform/db"
)

const inflightIndex = "fx_revaluation_run_ledgers_inflight_idx"

// Repository persists runs, their ledger claims and detail rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRun inserts the run and claims each ledger. The partial unique index on
// fx_revaluation_run_ledgers rejects a second in-flight claim for the same
// company, ledger and period, rolling back the run insert with it.
func (r *Repository) CreateRun(ctx context.Context, run Run) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO fx_revaluation_runs
(id, company_code, revaluation_date, fiscal_year, fiscal_period, run_type, status, ledgers, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			run.ID, run.CompanyCode, run.RevaluationDate, run.FiscalYear, run.FiscalPeriod,
			string(run.Type), string(run.Status), run.Ledgers, run.CreatedAt)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, ledgerID := range run.Ledgers {
			batch.Queue(`INSERT INTO fx_revaluation_run_ledgers (run_id, company_code, ledger_id, fiscal_year, fiscal_period, status)
VALUES ($1, $2, $3, $4, $5, $6)`, run.ID, run.CompanyCode, ledgerID, run.FiscalYear, run.FiscalPeriod, string(run.Status))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if db.UniqueViolation(err, inflightIndex) {
		return &ConcurrentRunError{CompanyCode: run.CompanyCode, LedgerIDs: run.Ledgers, FiscalYear: run.FiscalYear, FiscalPeriod: run.FiscalPeriod}
	}
	return err
}

// TransitionRun applies a compare-and-set status change.
func (r *Repository) TransitionRun(ctx context.Context, id uuid.UUID, from, to RunStatus, patch RunPatch) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var totals Totals
		if patch.Totals != nil {
			totals = *patch.Totals
		}
		tag, err := tx.Exec(ctx, `UPDATE fx_revaluation_runs SET
    status = $3,
    started_at = COALESCE($4, started_at),
    completed_at = COALESCE($5, completed_at),
    accounts_processed = CASE WHEN $6 THEN $7 ELSE accounts_processed END,
    revaluations_created = CASE WHEN $6 THEN $8 ELSE revaluations_created END,
    total_gain = CASE WHEN $6 THEN $9 ELSE total_gain END,
    total_loss = CASE WHEN $6 THEN $10 ELSE total_loss END,
    journal_documents = COALESCE($11, journal_documents),
    error_details = COALESCE($12, error_details)
WHERE id = $1 AND status = $2`,
			id, string(from), string(to), patch.StartedAt, patch.CompletedAt,
			patch.Totals != nil, totals.AccountsProcessed, totals.RevaluationsCreated, totals.TotalGain, totals.TotalLoss,
			patch.JournalDocuments, patch.Errors)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fx_revaluation_runs WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrRunNotFound
			}
			return fmt.Errorf("%w: expected %s", ErrInvalidTransition, from)
		}
		_, err = tx.Exec(ctx, `UPDATE fx_revaluation_run_ledgers SET status = $2 WHERE run_id = $1`, id, string(to))
		return err
	})
}

// AppendDetail inserts one detail row outside any run-wide transaction.
func (r *Repository) AppendDetail(ctx context.Context, d Detail) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO fx_revaluation_details
(run_id, company_code, ledger_id, gl_account, account_currency,
 opening_balance_fc, current_balance_fc, opening_balance_func, current_balance_func, revalued_balance_func,
 historical_rate, current_rate, rate_difference, unrealized_gain_loss, revaluation_required,
 contra_account, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		d.RunID, d.CompanyCode, d.LedgerID, d.GLAccount, d.AccountCurrency,
		d.OpeningBalanceFC, d.CurrentBalanceFC, d.OpeningBalanceFunc, d.CurrentBalanceFunc, d.RevaluedBalanceFunc,
		d.HistoricalRate, d.CurrentRate, d.RateDifference, d.UnrealizedGainLoss, d.RevaluationRequired,
		d.ContraAccount, d.ErrorMessage, d.CreatedAt)
	return err
}

// GetRun loads a run by id.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	var run Run
	var runType, status string
	err := r.pool.QueryRow(ctx, `SELECT id, company_code, revaluation_date, fiscal_year, fiscal_period, run_type, status, ledgers,
       started_at, completed_at, accounts_processed, revaluations_created, total_gain, total_loss,
       COALESCE(journal_documents, '{}'), COALESCE(error_details, '[]'::jsonb), created_at
FROM fx_revaluation_runs WHERE id = $1`, id).Scan(
		&run.ID, &run.CompanyCode, &run.RevaluationDate, &run.FiscalYear, &run.FiscalPeriod, &runType, &status, &run.Ledgers,
		&run.StartedAt, &run.CompletedAt, &run.Totals.AccountsProcessed, &run.Totals.RevaluationsCreated,
		&run.Totals.TotalGain, &run.Totals.TotalLoss, &run.JournalDocuments, &run.Errors, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	run.Type = RunType(runType)
	run.Status = RunStatus(status)
	return run, nil
}

// ListDetails returns the detail rows of a run in insertion order.
func (r *Repository) ListDetails(ctx context.Context, id uuid.UUID) ([]Detail, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, run_id, company_code, ledger_id, gl_account, account_currency,
       opening_balance_fc, current_balance_fc, opening_balance_func, current_balance_func, revalued_balance_func,
       historical_rate, current_rate, rate_difference, unrealized_gain_loss, revaluation_required,
       contra_account, error_message, created_at
FROM fx_revaluation_details WHERE run_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Detail
	for rows.Next() {
		var d Detail
		if err := rows.Scan(&d.ID, &d.RunID, &d.CompanyCode, &d.LedgerID, &d.GLAccount, &d.AccountCurrency,
			&d.OpeningBalanceFC, &d.CurrentBalanceFC, &d.OpeningBalanceFunc, &d.CurrentBalanceFunc, &d.RevaluedBalanceFunc,
			&d.HistoricalRate, &d.CurrentRate, &d.RateDifference, &d.UnrealizedGainLoss, &d.RevaluationRequired,
			&d.ContraAccount, &d.ErrorMessage, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PurgeRun deletes a run's details and clears its document list.
func (r *Repository) PurgeRun(ctx context.Context, id uuid.UUID) (int64, error) {
	var deleted int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM fx_revaluation_details WHERE run_id = $1`, id)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		_, err = tx.Exec(ctx, `UPDATE fx_revaluation_runs SET journal_documents = '{}' WHERE id = $1`, id)
		return err
	})
	return deleted, err
}
