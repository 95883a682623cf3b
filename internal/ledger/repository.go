package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads the account master and posted journal lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetAccount loads an account; a NULL classification is returned as empty.
func (r *Repository) GetAccount(ctx context.Context, code string) (Account, bool, error) {
	var (
		acct     Account
		typ      *string
		class    *string
		currency *string
	)
	err := r.pool.QueryRow(ctx, `SELECT code, name, account_type, monetary_classification, currency_code, is_hedge
FROM gl_accounts WHERE code = $1`, code).Scan(&acct.Code, &acct.Name, &typ, &class, &currency, &acct.Hedge)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	if typ != nil {
		acct.Type = AccountType(*typ)
	}
	if class != nil {
		acct.Class = MonetaryClass(*class)
	}
	if currency != nil {
		acct.Currency = *currency
	}
	return acct, true, nil
}

// SumPosted totals POSTED lines for the query filter.
func (r *Repository) SumPosted(ctx context.Context, q Query) (Totals, error) {
	var t Totals
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0),
       COALESCE(SUM(l.debit_func), 0), COALESCE(SUM(l.credit_func), 0)
FROM journal_lines l
JOIN journal_headers h ON h.id = l.header_id
WHERE h.company_code = $1 AND l.ledger_id = $2 AND l.account_code = $3
  AND l.currency_code = $4 AND h.posting_date <= $5 AND h.status = $6`,
		q.CompanyCode, q.LedgerID, q.Account, q.Currency, q.Cutoff, StatusPosted).
		Scan(&t.Debit, &t.Credit, &t.FunctionalDebit, &t.FunctionalCredit)
	if err != nil {
		return Totals{}, err
	}
	return t, nil
}

// PostedTotalsByDate groups POSTED lines by account, currency and posting date.
func (r *Repository) PostedTotalsByDate(ctx context.Context, companyCode, ledgerID string, cutoff time.Time) ([]PeriodTotals, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.account_code, l.currency_code, h.posting_date,
       SUM(l.debit), SUM(l.credit), SUM(l.debit_func), SUM(l.credit_func)
FROM journal_lines l
JOIN journal_headers h ON h.id = l.header_id
WHERE h.company_code = $1 AND l.ledger_id = $2 AND h.posting_date <= $3 AND h.status = $4
GROUP BY l.account_code, l.currency_code, h.posting_date
ORDER BY l.account_code, l.currency_code, h.posting_date`, companyCode, ledgerID, cutoff, StatusPosted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PeriodTotals
	for rows.Next() {
		var (
			pt                    PeriodTotals
			debit, credit         decimal.Decimal
			debitFunc, creditFunc decimal.Decimal
		)
		if err := rows.Scan(&pt.AccountCode, &pt.Currency, &pt.PostingDate, &debit, &credit, &debitFunc, &creditFunc); err != nil {
			return nil, err
		}
		pt.Totals = Totals{Debit: debit, Credit: credit, FunctionalDebit: debitFunc, FunctionalCredit: creditFunc}
		out = append(out, pt)
	}
	return out, rows.Err()
}
