package query

import (
	"BondVault/internal/ledger"
	"context"
	"fmt"
)

// AccountBalance is a ledger account balance rebuilt from vault.journal.
// Debits increase the balance, credits decrease it.
type AccountBalance struct {
	Account      string `json:"account"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetAccountBalance sums the journal for one account path.
func (qs *QueryService) GetAccountBalance(ctx context.Context, path string) (*AccountBalance, error) {
	key, err := ledger.ParseAccountPath(path)
	if err != nil {
		return nil, err
	}
	path = key.AccountPath()

	var bal AccountBalance
	bal.Account = path
	if err := qs.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN debit_account = $1 THEN amount ELSE 0 END), 0)
			- COALESCE(SUM(CASE WHEN credit_account = $1 THEN amount ELSE 0 END), 0),
			COALESCE(MAX(sequence), 0)
		FROM vault.journal
		WHERE debit_account = $1 OR credit_account = $1
	`, path).Scan(&bal.Balance, &bal.AsOfSequence); err != nil {
		return nil, fmt.Errorf("balance %s: %w", path, err)
	}
	return &bal, nil
}
