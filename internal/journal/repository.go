package journal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fxreval/internal/platform/db"
)

// Repository writes DRAFT documents into the journal tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateDraft inserts the header and all lines in one transaction.
func (r *Repository) CreateDraft(ctx context.Context, doc Document) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}
	var number string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var seq int64
		if err := tx.QueryRow(ctx, `SELECT nextval('fx_journal_doc_seq')`).Scan(&seq); err != nil {
			return err
		}
		number = fmt.Sprintf("FXR-%d-%06d", doc.Header.FiscalYear, seq)
		var headerID int64
		h := doc.Header
		err := tx.QueryRow(ctx, `INSERT INTO journal_headers
(doc_number, company_code, ledger_id, posting_date, fiscal_year, fiscal_period, currency_code, memo, status, source_run_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW()) RETURNING id`,
			number, h.CompanyCode, h.LedgerID, h.PostingDate, h.FiscalYear, h.FiscalPeriod, h.Currency, h.Memo, StatusDraft, nullUUID(h.SourceRunID)).
			Scan(&headerID)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, l := range doc.Lines {
			batch.Queue(`INSERT INTO journal_lines
(header_id, line_no, account_code, currency_code, ledger_id, debit, credit, debit_func, credit_func, memo)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				headerID, i+1, l.Account, l.Currency, l.LedgerID, decimal.Zero, decimal.Zero, l.Debit, l.Credit, l.Memo)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

// DeleteDraftsByRun removes the DRAFT documents created by a run. Documents
// already moved on by the approval workflow are left alone.
func (r *Repository) DeleteDraftsByRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	var deleted int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM journal_lines WHERE header_id IN
(SELECT id FROM journal_headers WHERE source_run_id = $1 AND status = $2)`, runID, StatusDraft); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM journal_headers WHERE source_run_id = $1 AND status = $2`, runID, StatusDraft)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
