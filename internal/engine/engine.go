// Package engine is the Transaction Engine. Every operation that changes a
// balance runs in one store unit together with the record it belongs to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultTransferSent     = "Transfer sent"
	defaultTransferReceived = "Transfer received"
)

// Engine performs ledger mutations.
type Engine struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to date transfers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs sets the transaction id generator.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// New creates an engine over s.
func New(s store.Store, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// wrap tags store failures as ErrAtomicity; NotFound and Validation pass through.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrValidation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ledger.ErrAtomicity, err)
}

// Create inserts a transaction and applies its balance effect. A recurring
// transaction becomes a parent: occurrence 1, next due one period after Date.
func (e *Engine) Create(ctx context.Context, userID string, n ledger.NewTransaction) (*ledger.Transaction, error) {
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	tx := &ledger.Transaction{
		ID:          e.newID(),
		UserID:      userID,
		AccountID:   n.AccountID,
		CategoryID:  n.CategoryID,
		Description: n.Description,
		Amount:      n.Amount,
		Type:        n.Type,
		Date:        n.Date,
	}
	if n.Recurring {
		period := *n.Recurrence
		next := ledger.Advance(n.Date, period)
		tx.Recurring = true
		tx.Recurrence = &period
		tx.NextDueDate = &next
		tx.RecurrenceCount = n.RecurrenceCount
		tx.RecurrenceCurrent = 1
	}

	err := e.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		if _, err := u.GetAccount(ctx, tx.AccountID, userID); err != nil {
			return err
		}
		if err := u.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return u.AdjustBalance(ctx, tx.AccountID, tx.SignedAmount())
	})
	if err != nil {
		return nil, wrap("Create", err)
	}

	e.log.Info().
		Str("transaction_id", tx.ID).
		Str("account_id", tx.AccountID).
		Str("user_id", userID).
		Bool("recurring", tx.Recurring).
		Msg("transaction created")
	return tx, nil
}

// Update changes only the fields supplied in p. Balances are not touched,
// even when amount, type or account change.
func (e *Engine) Update(ctx context.Context, id, userID string, p ledger.Patch) (*ledger.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}

	var updated *ledger.Transaction
	err := e.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		tx, err := u.GetTransaction(ctx, id, userID)
		if err != nil {
			return err
		}
		if p.AccountID != nil && *p.AccountID != tx.AccountID {
			if _, err := u.GetAccount(ctx, *p.AccountID, userID); err != nil {
				return err
			}
		}
		wasRecurring := tx.Recurring
		p.Apply(tx)

		if tx.Recurring {
			if tx.IsChild() {
				return fmt.Errorf("%w: a recurrence child cannot recur", ledger.ErrValidation)
			}
			if tx.Recurrence == nil {
				return fmt.Errorf("%w: recurrence is required when recurring", ledger.ErrValidation)
			}
			if !wasRecurring && tx.NextDueDate == nil {
				next := ledger.Advance(tx.Date, *tx.Recurrence)
				tx.NextDueDate = &next
				if tx.RecurrenceCurrent == 0 {
					tx.RecurrenceCurrent = 1
				}
			}
		} else {
			tx.NextDueDate = nil
		}

		if err := u.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		updated = tx
		return nil
	})
	if err != nil {
		return nil, wrap("Update", err)
	}

	if p.TouchesMoney() {
		e.log.Warn().
			Str("transaction_id", id).
			Str("account_id", updated.AccountID).
			Str("user_id", userID).
			Msg("monetary fields updated without balance adjustment")
	}
	return updated, nil
}

// Delete removes a transaction and reverses its balance effect.
func (e *Engine) Delete(ctx context.Context, id, userID string) error {
	err := e.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		tx, err := u.DeleteTransaction(ctx, id, userID)
		if err != nil {
			return err
		}
		return u.AdjustBalance(ctx, tx.AccountID, tx.SignedAmount().Neg())
	})
	if err != nil {
		return wrap("Delete", err)
	}

	e.log.Info().Str("transaction_id", id).Str("user_id", userID).Msg("transaction deleted")
	return nil
}

// TransferRequest moves Amount from one account to another.
type TransferRequest struct {
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// Validate checks the request before any unit begins.
func (r TransferRequest) Validate() error {
	if strings.TrimSpace(r.FromAccountID) == "" || strings.TrimSpace(r.ToAccountID) == "" {
		return fmt.Errorf("%w: fromAccountId and toAccountId are required", ledger.ErrValidation)
	}
	if r.FromAccountID == r.ToAccountID {
		return fmt.Errorf("%w: cannot transfer to the same account", ledger.ErrValidation)
	}
	return ledger.ValidateAmount(r.Amount)
}

// Transfer is the pair of records a transfer leaves in the ledger.
type Transfer struct {
	Debit  *ledger.Transaction `json:"debit"`
	Credit *ledger.Transaction `json:"credit"`
}

// Transfer debits the source, credits the destination and records an expense
// and an income dated today. Both accounts must belong to userID.
func (e *Engine) Transfer(ctx context.Context, userID string, r TransferRequest) (*Transfer, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	sent, received := defaultTransferSent, defaultTransferReceived
	if d := strings.TrimSpace(r.Description); d != "" {
		sent, received = d, d
	}
	today := civil.DateOf(e.now())

	t := &Transfer{
		Debit: &ledger.Transaction{
			ID: e.newID(), UserID: userID, AccountID: r.FromAccountID,
			Description: sent, Amount: r.Amount, Type: ledger.TypeExpense, Date: today,
		},
		Credit: &ledger.Transaction{
			ID: e.newID(), UserID: userID, AccountID: r.ToAccountID,
			Description: received, Amount: r.Amount, Type: ledger.TypeIncome, Date: today,
		},
	}

	err := e.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		for _, leg := range []*ledger.Transaction{t.Debit, t.Credit} {
			if _, err := u.GetAccount(ctx, leg.AccountID, userID); err != nil {
				return err
			}
			if err := u.InsertTransaction(ctx, leg); err != nil {
				return err
			}
			if err := u.AdjustBalance(ctx, leg.AccountID, leg.SignedAmount()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("Transfer", err)
	}

	e.log.Info().
		Str("user_id", userID).
		Str("from_account_id", r.FromAccountID).
		Str("to_account_id", r.ToAccountID).
		Str("amount", r.Amount.String()).
		Msg("transfer completed")
	return t, nil
}

// DeleteRecurrenceWithHistory deletes a recurring parent and every child it
// spawned, reversing all of their balance effects. It returns the number of
// children removed.
func (e *Engine) DeleteRecurrenceWithHistory(ctx context.Context, parentID, userID string) (int, error) {
	var removed int
	err := e.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		parent, err := u.GetTransaction(ctx, parentID, userID)
		if err != nil {
			return err
		}
		if parent.IsChild() {
			return fmt.Errorf("%w: %s is a recurrence child, not a parent", ledger.ErrValidation, parentID)
		}

		children, err := u.DeleteChildren(ctx, parentID, userID)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := u.AdjustBalance(ctx, c.AccountID, c.SignedAmount().Neg()); err != nil {
				return err
			}
		}

		if _, err := u.DeleteTransaction(ctx, parentID, userID); err != nil {
			return err
		}
		if err := u.AdjustBalance(ctx, parent.AccountID, parent.SignedAmount().Neg()); err != nil {
			return err
		}
		removed = len(children)
		return nil
	})
	if err != nil {
		return 0, wrap("DeleteRecurrenceWithHistory", err)
	}

	e.log.Info().
		Str("transaction_id", parentID).
		Str("user_id", userID).
		Int("children", removed).
		Msg("recurrence deleted with history")
	return removed, nil
}

// Children returns the transactions spawned by parentID, oldest first.
func (e *Engine) Children(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error) {
	children, err := e.store.ListChildren(ctx, parentID, userID)
	if err != nil {
		return nil, wrap("Children", err)
	}
	return children, nil
}

// SetPaused pauses or resumes a recurring parent.
func (e *Engine) SetPaused(ctx context.Context, id, userID string, paused bool) (*ledger.Transaction, error) {
	var updated *ledger.Transaction
	err := e.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		tx, err := u.GetTransaction(ctx, id, userID)
		if err != nil {
			return err
		}
		if tx.IsChild() {
			return fmt.Errorf("%w: %s is a recurrence child, not a parent", ledger.ErrValidation, id)
		}
		tx.RecurrencePaused = paused
		if err := u.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		updated = tx
		return nil
	})
	if err != nil {
		return nil, wrap("SetPaused", err)
	}

	e.log.Info().Str("transaction_id", id).Str("user_id", userID).Bool("paused", paused).Msg("recurrence pause toggled")
	return updated, nil
}

// List returns every transaction of userID, newest first.
func (e *Engine) List(ctx context.Context, userID string) ([]*ledger.Transaction, error) {
	txs, err := e.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, wrap("List", err)
	}
	return txs, nil
}

// Accounts returns the accounts of userID with their current balances.
func (e *Engine) Accounts(ctx context.Context, userID string) ([]*ledger.Account, error) {
	accounts, err := e.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, wrap("Accounts", err)
	}
	return accounts, nil
}
