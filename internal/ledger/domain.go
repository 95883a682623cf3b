package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the financial-statement category of a GL account.
type AccountType string

// MonetaryClass drives which rate a balance is translated at.
type MonetaryClass string

const (
	AccountTypeAssets      AccountType = "ASSETS"
	AccountTypeLiabilities AccountType = "LIABILITIES"
	AccountTypeEquity      AccountType = "EQUITY"
	AccountTypeRevenue     AccountType = "REVENUE"
	AccountTypeExpenses    AccountType = "EXPENSES"
)

const (
	ClassMonetary       MonetaryClass = "MONETARY"
	ClassNonMonetary    MonetaryClass = "NON_MONETARY"
	ClassEquity         MonetaryClass = "EQUITY"
	ClassRevenueExpense MonetaryClass = "REVENUE_EXPENSE"
)

// StatusPosted is the only document status balances are built from.
const StatusPosted = "POSTED"

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAssets, AccountTypeLiabilities, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpenses:
		return true
	}
	return false
}

// DebitNormal reports whether balances of this type grow with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAssets || t == AccountTypeExpenses
}

// BalanceSheet reports whether the type belongs on the balance sheet.
func (t AccountType) BalanceSheet() bool {
	return t == AccountTypeAssets || t == AccountTypeLiabilities || t == AccountTypeEquity
}

// Valid reports whether c is a known monetary classification.
func (c MonetaryClass) Valid() bool {
	switch c {
	case ClassMonetary, ClassNonMonetary, ClassEquity, ClassRevenueExpense:
		return true
	}
	return false
}

// Account is the read-only view of the account master used by the engine.
type Account struct {
	Code     string
	Name     string
	Type     AccountType
	Class    MonetaryClass
	Currency string

	// Hedge marks instruments designated as a net-investment hedge.
	Hedge bool
}

// Query scopes a balance lookup.
type Query struct {
	CompanyCode string
	LedgerID    string
	Account     string
	Currency    string
	Cutoff      time.Time
}

// Totals are raw posted debit and credit sums in both legs.
type Totals struct {
	Debit            decimal.Decimal
	Credit           decimal.Decimal
	FunctionalDebit  decimal.Decimal
	FunctionalCredit decimal.Decimal
}

// Layer is the signed balance built up on one posting date.
type Layer struct {
	PostingDate time.Time
	Foreign     decimal.Decimal
	Functional  decimal.Decimal
}

// Balance is a signed account balance in its transaction currency and in the
// functional currency already recorded on the books.
type Balance struct {
	Account    Account
	Currency   string
	Foreign    decimal.Decimal
	Functional decimal.Decimal
	Layers     []Layer
}

// PeriodTotals are the grouped rows a snapshot is folded from.
type PeriodTotals struct {
	AccountCode string
	Currency    string
	PostingDate time.Time
	Totals      Totals
}

var (
	// ErrMissingClassification signals an account without a usable classification.
	ErrMissingClassification = errors.New("ledger: account classification missing")
	// ErrAccountNotFound indicates the account is not in the account master.
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// MissingClassificationError names the account that could not be classified.
type MissingClassificationError struct {
	Account string
	Reason  string
}

func (e *MissingClassificationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Account %s has no monetary classification", e.Account)
	}
	return fmt.Sprintf("Account %s has no monetary classification: %s", e.Account, e.Reason)
}

// Is matches ErrMissingClassification.
func (e *MissingClassificationError) Is(target error) bool {
	return target == ErrMissingClassification
}

// Signed applies the normal-balance convention of t to raw debit and credit sums.
func Signed(t AccountType, debit, credit decimal.Decimal) decimal.Decimal {
	if t.DebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}
