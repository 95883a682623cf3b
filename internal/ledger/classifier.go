package ledger

import (
	"context"
	"fmt"
	"strings"
)

// AccountStore reads the account master.
type AccountStore interface {
	GetAccount(ctx context.Context, code string) (Account, bool, error)
}

// Classifier looks up the stored classification of an account.
type Classifier struct {
	store AccountStore
}

// NewClassifier constructs a Classifier.
func NewClassifier(store AccountStore) *Classifier {
	return &Classifier{store: store}
}

// Classify returns the account with its type and monetary classification.
// Accounts without a usable classification yield *MissingClassificationError.
func (c *Classifier) Classify(ctx context.Context, code string) (Account, error) {
	code = strings.TrimSpace(code)
	acct, ok, err := c.store.GetAccount(ctx, code)
	if err != nil {
		return Account{}, fmt.Errorf("ledger: load account %s: %w", code, err)
	}
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return acct, Check(acct)
}

// Check validates the stored classification of acct.
func Check(acct Account) error {
	switch {
	case acct.Type == "" && acct.Class == "":
		return &MissingClassificationError{Account: acct.Code}
	case !acct.Type.Valid():
		return &MissingClassificationError{Account: acct.Code, Reason: fmt.Sprintf("unknown account type %q", acct.Type)}
	case !acct.Class.Valid():
		return &MissingClassificationError{Account: acct.Code, Reason: fmt.Sprintf("unknown classification %q", acct.Class)}
	}
	return nil
}
