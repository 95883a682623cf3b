//go:build integration

package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fxreval/internal/ledger"
	"github.com/odyssey-erp/fxreval/internal/platform/db/dbtest"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func day(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

type line struct {
	debit, credit, debitFunc, creditFunc string
}

func insertDocument(t *testing.T, pool *pgxpool.Pool, status string, posting time.Time, l line) {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := pool.QueryRow(ctx, `INSERT INTO journal_headers
(doc_number, company_code, ledger_id, posting_date, fiscal_year, fiscal_period, currency_code, status)
VALUES ($1, '1000', 'L1', $2, 2025, 3, 'USD', $3) RETURNING id`,
		fmt.Sprintf("DOC-%s-%s", status, posting.Format("0102")), posting, status).Scan(&id)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO journal_lines
(header_id, line_no, account_code, currency_code, ledger_id, debit, credit, debit_func, credit_func)
VALUES ($1, 1, '115001', 'EUR', 'L1', $2, $3, $4, $5)`,
		id, dec(l.debit), dec(l.credit), dec(l.debitFunc), dec(l.creditFunc))
	require.NoError(t, err)
}

func seedBooks(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `INSERT INTO gl_accounts (code, name, account_type, monetary_classification, currency_code)
VALUES ('115001', 'Receivables EUR', 'ASSETS', 'MONETARY', 'EUR')`)
	require.NoError(t, err)

	insertDocument(t, pool, ledger.StatusPosted, day(10), line{"1000", "0", "1100", "0"})
	insertDocument(t, pool, "DRAFT", day(10), line{"500", "0", "560", "0"})
	insertDocument(t, pool, "PENDING", day(20), line{"300", "0", "330", "0"})
	insertDocument(t, pool, ledger.StatusPosted, day(25), line{"0", "200", "0", "216"})
}

func TestRepositorySumPostedIgnoresUnpostedDocuments(t *testing.T) {
	pg := dbtest.Start(t)
	seedBooks(t, pg.Pool)
	repo := ledger.NewRepository(pg.Pool)

	totals, err := repo.SumPosted(context.Background(), ledger.Query{
		CompanyCode: "1000", LedgerID: "L1", Account: "115001", Currency: "EUR", Cutoff: day(31),
	})
	require.NoError(t, err)
	require.True(t, totals.Debit.Equal(dec("1000")), totals.Debit.String())
	require.True(t, totals.Credit.Equal(dec("200")), totals.Credit.String())
	require.True(t, totals.FunctionalDebit.Equal(dec("1100")), totals.FunctionalDebit.String())
	require.True(t, totals.FunctionalCredit.Equal(dec("216")), totals.FunctionalCredit.String())

	agg := ledger.NewAggregator(repo, repo)
	acct, ok, err := repo.GetAccount(context.Background(), "115001")
	require.NoError(t, err)
	require.True(t, ok)
	bal, err := agg.BalanceInCurrency(context.Background(), acct, ledger.Query{CompanyCode: "1000", LedgerID: "L1", Currency: "eur", Cutoff: day(31)})
	require.NoError(t, err)
	require.True(t, bal.Foreign.Equal(dec("800")), bal.Foreign.String())
	require.True(t, bal.Functional.Equal(dec("884")), bal.Functional.String())
}

func TestRepositoryLayersOnlyCarryPostedLines(t *testing.T) {
	pg := dbtest.Start(t)
	seedBooks(t, pg.Pool)
	repo := ledger.NewRepository(pg.Pool)

	rows, err := repo.PostedTotalsByDate(context.Background(), "1000", "L1", day(31))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].PostingDate.Equal(day(10)))
	require.True(t, rows[0].Totals.Debit.Equal(dec("1000")), rows[0].Totals.Debit.String())
	require.True(t, rows[0].Totals.FunctionalDebit.Equal(dec("1100")))
	require.True(t, rows[1].PostingDate.Equal(day(25)))
	require.True(t, rows[1].Totals.Credit.Equal(dec("200")))

	balances, problems, err := ledger.NewAggregator(repo, repo).Snapshot(context.Background(), "1000", "L1", day(31))
	require.NoError(t, err)
	require.Empty(t, problems)
	require.Len(t, balances, 1)
	require.True(t, balances[0].Foreign.Equal(dec("800")))
	require.True(t, balances[0].Functional.Equal(dec("884")))
	require.Len(t, balances[0].Layers, 2)
	require.True(t, balances[0].Layers[0].Functional.Equal(dec("1100")))
	require.True(t, balances[0].Layers[1].Functional.Equal(dec("-216")))

	// a cutoff before the second posting leaves only the first layer
	rows, err = repo.PostedTotalsByDate(context.Background(), "1000", "L1", day(24))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
