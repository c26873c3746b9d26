// Package store defines the Ledger Store: persisted accounts and transactions
// and the scoped atomic unit every mutation goes through.
package store

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/shopspring/decimal"
)

// Reader provides read access to the ledger. Every read reflects the latest
// committed state.
type Reader interface {
	// GetTransaction retrieves a transaction owned by userID.
	// Returns ledger.ErrNotFound if it does not exist or belongs to someone else.
	GetTransaction(ctx context.Context, id, userID string) (*ledger.Transaction, error)

	// ListTransactions retrieves all transactions owned by userID, newest date first.
	ListTransactions(ctx context.Context, userID string) ([]*ledger.Transaction, error)

	// ListChildren retrieves the transactions spawned by the recurring parent parentID.
	ListChildren(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error)

	// ListDueRecurring retrieves recurring, unpaused parents whose next due date
	// is on or before asOf.
	ListDueRecurring(ctx context.Context, asOf civil.Date) ([]*ledger.Transaction, error)

	// GetAccount retrieves an account owned by userID.
	GetAccount(ctx context.Context, id, userID string) (*ledger.Account, error)

	// ListAccounts retrieves all accounts owned by userID.
	ListAccounts(ctx context.Context, userID string) ([]*ledger.Account, error)
}

// Unit is an open atomic unit. Everything done through it commits together or
// not at all.
type Unit interface {
	Reader

	// InsertTransaction inserts a new transaction row.
	InsertTransaction(ctx context.Context, tx *ledger.Transaction) error

	// UpdateTransaction overwrites the stored row with tx.
	// Returns ledger.ErrNotFound if no row with tx.ID owned by tx.UserID exists.
	UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error

	// DeleteTransaction removes a transaction owned by userID and returns the removed row.
	DeleteTransaction(ctx context.Context, id, userID string) (*ledger.Transaction, error)

	// DeleteChildren removes every transaction whose recurrence group is parentID
	// and returns the removed rows.
	DeleteChildren(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error)

	// ClaimDue locks the recurring parent id for the rest of the unit, provided it
	// is still recurring, unpaused and due on exactly dueDate.
	// Returns ledger.ErrNotFound when the claim fails.
	ClaimDue(ctx context.Context, id string, dueDate civil.Date) (*ledger.Transaction, error)

	// AdjustBalance adds delta to the balance of accountID.
	// Returns ledger.ErrNotFound if the account does not exist.
	AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error
}

// Store is the Ledger Store.
type Store interface {
	Reader

	// WithinUnit runs fn inside a new atomic unit. The unit commits when fn
	// returns nil and rolls back when fn returns an error or panics.
	WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) error
}
