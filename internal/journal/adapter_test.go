package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	docs []Document
	err  error
}

func (p *recordingPoster) CreateDraft(_ context.Context, doc Document) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.docs = append(p.docs, doc)
	return "FXR-2025-000001", nil
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func header() Header {
	return Header{CompanyCode: "1000", LedgerID: "L1", PostingDate: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), FiscalYear: 2025, FiscalPeriod: 3, Currency: "USD"}
}

func TestBuildGainDebitsMonetaryAccount(t *testing.T) {
	doc, ok, err := Build(header(), []Entry{{Account: "115001", Currency: "EUR", ContraAccount: "790100", GainLoss: dec("250.00")}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, doc.Lines, 2)
	require.Equal(t, "115001", doc.Lines[0].Account)
	require.True(t, doc.Lines[0].Debit.Equal(dec("250")))
	require.Equal(t, "790100", doc.Lines[1].Account)
	require.True(t, doc.Lines[1].Credit.Equal(dec("250")))
}

func TestBuildMixedCurrenciesAlwaysBalances(t *testing.T) {
	entries := []Entry{
		{Account: "115001", Currency: "EUR", ContraAccount: "790100", GainLoss: dec("250.004")},
		{Account: "115002", Currency: "GBP", ContraAccount: "790200", GainLoss: dec("-13.335")},
		{Account: "210001", Currency: "JPY", ContraAccount: "790200", GainLoss: dec("-0.005")},
		{Account: "210002", Currency: "CHF", ContraAccount: "790100", GainLoss: dec("0.001")},
		{Account: "115003", Currency: "EUR", ContraAccount: "790100", GainLoss: decimal.Zero},
	}
	doc, ok, err := Build(header(), entries)
	require.NoError(t, err)
	require.True(t, ok)
	debit, credit := doc.Totals()
	require.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
	for i := 0; i < len(doc.Lines); i += 2 {
		adjust, contra := doc.Lines[i], doc.Lines[i+1]
		require.True(t, adjust.Debit.Add(adjust.Credit).Equal(contra.Debit.Add(contra.Credit)))
	}
}

func TestBuildLossCreditsMonetaryAccount(t *testing.T) {
	doc, _, err := Build(header(), []Entry{{Account: "115002", Currency: "GBP", ContraAccount: "790200", GainLoss: dec("-42.10")}})
	require.NoError(t, err)
	require.True(t, doc.Lines[0].Credit.Equal(dec("42.1")))
	require.True(t, doc.Lines[1].Debit.Equal(dec("42.1")))
}

func TestPostSkipsEmptyDocument(t *testing.T) {
	poster := &recordingPoster{}
	number, err := NewAdapter(poster, nil).Post(context.Background(), header(), nil)
	require.NoError(t, err)
	require.Empty(t, number)
	require.Empty(t, poster.docs)
}

func TestPostWrapsRejection(t *testing.T) {
	poster := &recordingPoster{err: errors.New("account 790100 blocked")}
	_, err := NewAdapter(poster, nil).Post(context.Background(), header(), []Entry{{Account: "115001", Currency: "EUR", ContraAccount: "790100", GainLoss: dec("5")}})
	require.ErrorIs(t, err, ErrPostingFailed)
	var failure *PostingFailure
	require.True(t, errors.As(err, &failure))
	require.Equal(t, "L1", failure.LedgerID)
}

func TestValidateRejectsUnbalanced(t *testing.T) {
	doc := Document{Header: header(), Lines: []Line{
		{Account: "115001", Debit: dec("10")},
		{Account: "790100", Credit: dec("9.99")},
	}}
	require.ErrorIs(t, doc.Validate(), ErrUnbalanced)

	doc.Lines[1] = Line{Account: "790100", Debit: dec("1"), Credit: dec("1")}
	require.ErrorIs(t, doc.Validate(), ErrInvalidLine)
}
