package memory

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.PutAccount(ledger.Account{ID: "wallet", UserID: "u1", Name: "Wallet", OpeningBalance: decimal.NewFromInt(100)})
	return s
}

func expense(id string, amount int64, d civil.Date) *ledger.Transaction {
	return &ledger.Transaction{
		ID:          id,
		UserID:      "u1",
		AccountID:   "wallet",
		Description: id,
		Amount:      decimal.NewFromInt(amount),
		Type:        ledger.TypeExpense,
		Date:        d,
	}
}

func balance(t *testing.T, s *Store) decimal.Decimal {
	t.Helper()
	a, err := s.GetAccount(context.Background(), "wallet", "u1")
	require.NoError(t, err)
	return a.Balance
}

func TestWithinUnit_Commits(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	err := s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		tx := expense("t1", 30, civil.Date{Year: 2025, Month: 1, Day: 1})
		if err := u.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return u.AdjustBalance(ctx, tx.AccountID, tx.SignedAmount())
	})
	require.NoError(t, err)

	assert.True(t, balance(t, s).Equal(decimal.NewFromInt(70)))
	got, err := s.GetTransaction(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Description)
}

func TestWithinUnit_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	boom := errors.New("boom")

	err := s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		require.NoError(t, u.InsertTransaction(ctx, expense("t1", 30, civil.Date{Year: 2025, Month: 1, Day: 1})))
		require.NoError(t, u.AdjustBalance(ctx, "wallet", decimal.NewFromInt(-30)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.True(t, balance(t, s).Equal(decimal.NewFromInt(100)))
	_, err = s.GetTransaction(ctx, "t1", "u1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestWithinUnit_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	assert.Panics(t, func() {
		_ = s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
			_ = u.AdjustBalance(ctx, "wallet", decimal.NewFromInt(-30))
			panic("mid-unit")
		})
	})

	assert.True(t, balance(t, s).Equal(decimal.NewFromInt(100)))

	// the store is still usable after the panic
	err := s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		return u.AdjustBalance(ctx, "wallet", decimal.NewFromInt(5))
	})
	require.NoError(t, err)
	assert.True(t, balance(t, s).Equal(decimal.NewFromInt(105)))
}

func TestUnit_AdjustUnknownAccount(t *testing.T) {
	s := seeded(t)
	err := s.WithinUnit(context.Background(), func(ctx context.Context, u store.Unit) error {
		return u.AdjustBalance(ctx, "missing", decimal.NewFromInt(1))
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestReads_EnforceOwnership(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		return u.InsertTransaction(ctx, expense("t1", 10, civil.Date{Year: 2025, Month: 1, Day: 1}))
	}))

	_, err := s.GetTransaction(ctx, "t1", "intruder")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.GetAccount(ctx, "wallet", "intruder")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	err = s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		_, err := u.DeleteTransaction(ctx, "t1", "intruder")
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListTransactions_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		for _, tx := range []*ledger.Transaction{
			expense("jan", 1, civil.Date{Year: 2025, Month: 1, Day: 1}),
			expense("mar", 1, civil.Date{Year: 2025, Month: 3, Day: 1}),
			expense("feb", 1, civil.Date{Year: 2025, Month: 2, Day: 1}),
		} {
			if err := u.InsertTransaction(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := s.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"mar", "feb", "jan"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestListDueRecurring_AndClaim(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	monthly := ledger.Monthly
	due := civil.Date{Year: 2025, Month: 2, Day: 1}
	later := civil.Date{Year: 2025, Month: 3, Day: 1}

	parent := expense("rent", 50, civil.Date{Year: 2025, Month: 1, Day: 1})
	parent.Recurring, parent.Recurrence, parent.NextDueDate, parent.RecurrenceCurrent = true, &monthly, &due, 1

	paused := expense("gym", 20, civil.Date{Year: 2025, Month: 1, Day: 1})
	paused.Recurring, paused.Recurrence, paused.NextDueDate, paused.RecurrencePaused = true, &monthly, &due, true

	future := expense("tax", 20, civil.Date{Year: 2025, Month: 1, Day: 1})
	future.Recurring, future.Recurrence, future.NextDueDate = true, &monthly, &later

	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		for _, tx := range []*ledger.Transaction{parent, paused, future} {
			if err := u.InsertTransaction(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := s.ListDueRecurring(ctx, due)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "rent", list[0].ID)

	err = s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		claimed, err := u.ClaimDue(ctx, "rent", due)
		require.NoError(t, err)
		assert.Equal(t, 1, claimed.RecurrenceCurrent)

		_, err = u.ClaimDue(ctx, "rent", later)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		_, err = u.ClaimDue(ctx, "gym", due)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteChildren(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	group := "parent"
	child := func(id string, day int) *ledger.Transaction {
		tx := expense(id, 10, civil.Date{Year: 2025, Month: 1, Day: day})
		g := group
		tx.RecurrenceGroupID = &g
		return tx
	}

	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		for _, tx := range []*ledger.Transaction{expense("parent", 10, civil.Date{Year: 2025, Month: 1, Day: 1}), child("c2", 3), child("c1", 2)} {
			if err := u.InsertTransaction(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	}))

	children, err := s.ListChildren(ctx, "parent", "u1")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "c1", children[0].ID)

	var removed []*ledger.Transaction
	require.NoError(t, s.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		var err error
		removed, err = u.DeleteChildren(ctx, "parent", "u1")
		return err
	}))
	assert.Len(t, removed, 2)

	children, err = s.ListChildren(ctx, "parent", "u1")
	require.NoError(t, err)
	assert.Empty(t, children)
	_, err = s.GetTransaction(ctx, "parent", "u1")
	assert.NoError(t, err)
}
