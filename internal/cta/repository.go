package cta

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists CTA rows in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const rowColumns = `entity_id, ledger_id, standard, fiscal_year, fiscal_period, opening_cta, period_movement, closing_cta,
asset_adjustment, liability_adjustment, equity_adjustment, hedge_adjustment,
accumulated_asset, accumulated_liability, accumulated_equity, accumulated_hedge, recycled_to_pnl, disposed, updated_at`

// Latest implements Store.
func (r *Repository) Latest(ctx context.Context, key Key) (Row, bool, error) {
	return scanRow(r.pool.QueryRow(ctx, `SELECT `+rowColumns+` FROM fx_cta_balances
WHERE entity_id = $1 AND ledger_id = $2 AND standard = $3
  AND (fiscal_year < $4 OR (fiscal_year = $4 AND fiscal_period < $5))
ORDER BY fiscal_year DESC, fiscal_period DESC LIMIT 1`,
		key.EntityID, key.LedgerID, string(key.Standard), key.FiscalYear, key.FiscalPeriod))
}

// Get implements Store.
func (r *Repository) Get(ctx context.Context, key Key) (Row, bool, error) {
	return scanRow(r.pool.QueryRow(ctx, `SELECT `+rowColumns+` FROM fx_cta_balances
WHERE entity_id = $1 AND ledger_id = $2 AND standard = $3 AND fiscal_year = $4 AND fiscal_period = $5`,
		key.EntityID, key.LedgerID, string(key.Standard), key.FiscalYear, key.FiscalPeriod))
}

// Save upserts a row.
func (r *Repository) Save(ctx context.Context, row Row) error {
	k := row.Key
	_, err := r.pool.Exec(ctx, `INSERT INTO fx_cta_balances (`+rowColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (entity_id, ledger_id, standard, fiscal_year, fiscal_period) DO UPDATE SET
    opening_cta = EXCLUDED.opening_cta,
    period_movement = EXCLUDED.period_movement,
    closing_cta = EXCLUDED.closing_cta,
    asset_adjustment = EXCLUDED.asset_adjustment,
    liability_adjustment = EXCLUDED.liability_adjustment,
    equity_adjustment = EXCLUDED.equity_adjustment,
    hedge_adjustment = EXCLUDED.hedge_adjustment,
    accumulated_asset = EXCLUDED.accumulated_asset,
    accumulated_liability = EXCLUDED.accumulated_liability,
    accumulated_equity = EXCLUDED.accumulated_equity,
    accumulated_hedge = EXCLUDED.accumulated_hedge,
    recycled_to_pnl = EXCLUDED.recycled_to_pnl,
    disposed = EXCLUDED.disposed,
    updated_at = EXCLUDED.updated_at`,
		k.EntityID, k.LedgerID, string(k.Standard), k.FiscalYear, k.FiscalPeriod,
		row.Opening, row.Movement, row.Closing,
		row.Components.Asset, row.Components.Liability, row.Components.Equity, row.Components.Hedge,
		row.Accumulated.Asset, row.Accumulated.Liability, row.Accumulated.Equity, row.Accumulated.Hedge,
		row.RecycledToPnL, row.Disposed, row.UpdatedAt)
	return err
}

// Disposed implements Store.
func (r *Repository) Disposed(ctx context.Context, key Key) (bool, error) {
	var disposed bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fx_cta_balances
WHERE entity_id = $1 AND ledger_id = $2 AND standard = $3 AND disposed)`,
		key.EntityID, key.LedgerID, string(key.Standard)).Scan(&disposed)
	return disposed, err
}

// RecordDisposal appends the disposal event.
func (r *Repository) RecordDisposal(ctx context.Context, d Disposal) error {
	k := d.Key
	_, err := r.pool.Exec(ctx, `INSERT INTO fx_cta_disposals
(entity_id, ledger_id, standard, fiscal_year, fiscal_period, disposal_type, percentage, accumulated_cta, recycled_amount, disposed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.EntityID, k.LedgerID, string(k.Standard), k.FiscalYear, k.FiscalPeriod,
		string(d.Type), d.Percentage, d.Accumulated, d.Recycled, d.DisposedAt)
	return err
}

func scanRow(row pgx.Row) (Row, bool, error) {
	var (
		out      Row
		standard string
	)
	err := row.Scan(&out.Key.EntityID, &out.Key.LedgerID, &standard, &out.Key.FiscalYear, &out.Key.FiscalPeriod,
		&out.Opening, &out.Movement, &out.Closing,
		&out.Components.Asset, &out.Components.Liability, &out.Components.Equity, &out.Components.Hedge,
		&out.Accumulated.Asset, &out.Accumulated.Liability, &out.Accumulated.Equity, &out.Accumulated.Hedge,
		&out.RecycledToPnL, &out.Disposed, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	out.Key.Standard = Standard(standard)
	return out, true, nil
}
