package engine

import (
	"context"

	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

// Reconciliation compares an account's stored balance with the balance its
// transactions imply.
type Reconciliation struct {
	AccountID string          `json:"accountId"`
	Name      string          `json:"name"`
	Stored    decimal.Decimal `json:"stored"`
	Expected  decimal.Decimal `json:"expected"`
	Drift     decimal.Decimal `json:"drift"`
}

// Balanced reports whether the stored balance matches.
func (r Reconciliation) Balanced() bool {
	return r.Drift.IsZero()
}

// Reconcile recomputes every account of userID as opening balance plus the
// signed sum of its transactions. It changes nothing.
func (e *Engine) Reconcile(ctx context.Context, userID string) ([]Reconciliation, error) {
	var out []Reconciliation
	err := e.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		accounts, err := u.ListAccounts(ctx, userID)
		if err != nil {
			return err
		}
		txs, err := u.ListTransactions(ctx, userID)
		if err != nil {
			return err
		}

		sums := make(map[string]decimal.Decimal, len(accounts))
		for _, tx := range txs {
			sums[tx.AccountID] = sums[tx.AccountID].Add(tx.SignedAmount())
		}

		out = make([]Reconciliation, 0, len(accounts))
		for _, a := range accounts {
			expected := a.OpeningBalance.Add(sums[a.ID])
			r := Reconciliation{
				AccountID: a.ID,
				Name:      a.Name,
				Stored:    a.Balance,
				Expected:  expected,
				Drift:     a.Balance.Sub(expected),
			}
			if !r.Balanced() {
				e.log.Warn().
					Str("account_id", a.ID).
					Str("user_id", userID).
					Str("drift", r.Drift.String()).
					Msg("balance drift detected")
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("Reconcile", err)
	}
	return out, nil
}
