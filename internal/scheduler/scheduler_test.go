package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/dvloznov/finance-ledger/internal/engine"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/lock"
	"github.com/dvloznov/finance-ledger/internal/notify"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const user = "u1"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, day int) civil.Date { return civil.Date{Year: y, Month: m, Day: day} }

type recorder struct {
	batches [][]notify.Event
	err     error
}

func (r *recorder) Notify(_ context.Context, events []notify.Event) error {
	r.batches = append(r.batches, events)
	return r.err
}

type fixture struct {
	store    *memory.Store
	engine   *engine.Engine
	sched    *Scheduler
	notifier *recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := memory.New()
	s.PutAccount(ledger.Account{ID: "wallet", UserID: user, Name: "Wallet", OpeningBalance: d("100")})
	n := &recorder{}
	opts = append([]Option{WithCurrency("USD")}, opts...)
	return &fixture{
		store:    s,
		engine:   engine.New(s, zerolog.Nop()),
		sched:    New(s, n, zerolog.Nop(), opts...),
		notifier: n,
	}
}

func (f *fixture) recurring(t *testing.T, typ ledger.Type, amount string, start civil.Date, period ledger.Period, count *int) *ledger.Transaction {
	t.Helper()
	tx, err := f.engine.Create(context.Background(), user, ledger.NewTransaction{
		AccountID: "wallet", Description: "Salary", Amount: d(amount), Type: typ,
		Date: start, Recurring: true, Recurrence: &period, RecurrenceCount: count,
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), "wallet", user)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) get(t *testing.T, id string) *ledger.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id, user)
	require.NoError(t, err)
	return tx
}

func (f *fixture) children(t *testing.T, id string) []*ledger.Transaction {
	t.Helper()
	c, err := f.store.ListChildren(context.Background(), id, user)
	require.NoError(t, err)
	return c
}

func TestWalletScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	groceries, err := f.engine.Create(ctx, user, ledger.NewTransaction{
		AccountID: "wallet", Amount: d("30"), Type: ledger.TypeExpense, Date: date(2025, 1, 1),
	})
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(d("70")))
	require.NoError(t, f.engine.Delete(ctx, groceries.ID, user))
	assert.True(t, f.balance(t).Equal(d("100")))

	two := 2
	parent := f.recurring(t, ledger.TypeIncome, "500", date(2025, 1, 1), ledger.Monthly, &two)
	assert.Equal(t, date(2025, 2, 1), *parent.NextDueDate)
	assert.Equal(t, 1, parent.RecurrenceCurrent)
	assert.True(t, f.balance(t).Equal(d("600")))

	res, err := f.sched.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	children := f.children(t, parent.ID)
	require.Len(t, children, 1)
	assert.Equal(t, date(2025, 2, 1), children[0].Date)
	assert.False(t, children[0].Recurring)
	assert.Equal(t, parent.ID, *children[0].RecurrenceGroupID)
	assert.True(t, f.balance(t).Equal(d("1100")))

	got := f.get(t, parent.ID)
	assert.Equal(t, 2, got.RecurrenceCurrent)
	assert.False(t, got.Recurring)
	assert.Nil(t, got.NextDueDate)

	res, err = f.sched.ProcessRecurrences(ctx, date(2026, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Len(t, f.children(t, parent.ID), 1)
	assert.True(t, f.balance(t).Equal(d("1100")))
}

func TestTermination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n := 4
	parent := f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Daily, &n)

	for day := 2; day <= 20; day++ {
		_, err := f.sched.ProcessRecurrences(ctx, date(2025, 1, day))
		require.NoError(t, err)
	}

	assert.Len(t, f.children(t, parent.ID), n-1, "the parent itself is occurrence 1")
	got := f.get(t, parent.ID)
	assert.Equal(t, n, got.RecurrenceCurrent)
	assert.False(t, got.Recurring)
	assert.Nil(t, got.NextDueDate)
	assert.True(t, f.balance(t).Equal(d("60")))
}

func TestCountOfOneNeverSpawns(t *testing.T) {
	f := newFixture(t)
	one := 1
	parent := f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Weekly, &one)

	res, err := f.sched.ProcessRecurrences(context.Background(), date(2025, 1, 8))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, f.children(t, parent.ID))

	got := f.get(t, parent.ID)
	assert.Equal(t, 1, got.RecurrenceCurrent)
	assert.False(t, got.Recurring)
	assert.Nil(t, got.NextDueDate)
}

func TestSingleAdvancePerRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 31), ledger.Monthly, nil)

	res, err := f.sched.ProcessRecurrences(ctx, date(2025, 6, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	children := f.children(t, parent.ID)
	require.Len(t, children, 1)
	assert.Equal(t, date(2025, 3, 3), children[0].Date)

	got := f.get(t, parent.ID)
	assert.Equal(t, date(2025, 4, 3), *got.NextDueDate, "advances from the processed due date, not from asOf")
	assert.True(t, got.Recurring)
	assert.Equal(t, 2, got.RecurrenceCurrent)
}

func TestNotDueYet(t *testing.T) {
	f := newFixture(t)
	f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Monthly, nil)

	res, err := f.sched.ProcessRecurrences(context.Background(), date(2025, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, f.notifier.batches, "an empty run sends no notifications")
}

func TestPausedSkip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Daily, nil)
	_, err := f.engine.SetPaused(ctx, parent.ID, user, true)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := f.sched.ProcessRecurrences(ctx, date(2025, 3, 1))
		require.NoError(t, err)
		assert.Equal(t, 0, res.Processed)
	}
	assert.Empty(t, f.children(t, parent.ID))

	_, err = f.engine.SetPaused(ctx, parent.ID, user, false)
	require.NoError(t, err)
	res, err := f.sched.ProcessRecurrences(ctx, date(2025, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestFailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	good := f.recurring(t, ledger.TypeIncome, "50", date(2025, 1, 1), ledger.Monthly, nil)

	// A parent whose account disappeared fails its balance delta.
	monthly := ledger.Monthly
	due := date(2025, 2, 1)
	orphan := &ledger.Transaction{
		ID: "orphan", UserID: user, AccountID: "closed", Description: "Gym",
		Amount: d("20"), Type: ledger.TypeExpense, Date: date(2025, 1, 1),
		Recurring: true, Recurrence: &monthly, NextDueDate: &due, RecurrenceCurrent: 1,
	}
	require.NoError(t, f.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		return u.InsertTransaction(ctx, orphan)
	}))

	res, err := f.sched.ProcessRecurrences(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	assert.Len(t, f.children(t, good.ID), 1)
	assert.Empty(t, f.children(t, "orphan"), "the failed unit rolled back its child")
	got := f.get(t, "orphan")
	assert.Equal(t, due, *got.NextDueDate)
	assert.Equal(t, 1, got.RecurrenceCurrent)
}

// staleStore answers ListDueRecurring with a listing captured earlier, the
// way an overlapping run would see it.
type staleStore struct {
	*memory.Store
	listing []*ledger.Transaction
}

func (s staleStore) ListDueRecurring(context.Context, civil.Date) ([]*ledger.Transaction, error) {
	return s.listing, nil
}

func TestOverlappingRunsDoNotDoubleProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Monthly, nil)

	listing, err := f.store.ListDueRecurring(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	require.Len(t, listing, 1)

	res, err := f.sched.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	late := New(staleStore{Store: f.store, listing: listing}, f.notifier, zerolog.Nop())
	res, err = late.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)

	assert.Len(t, f.children(t, parent.ID), 1)
	assert.True(t, f.balance(t).Equal(d("80")))
}

func TestBatchLock(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocal()
	f := newFixture(t, WithLocker(locker))
	parent := f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Monthly, nil)

	release, ok, err := locker.TryLock(ctx, LockKey)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.sched.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, res.Processed)
	assert.Empty(t, f.children(t, parent.ID))

	require.NoError(t, release(ctx))
	res, err = f.sched.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Processed)

	// the run released the lock behind it
	_, ok, err = locker.TryLock(ctx, LockKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBatchLock_Redis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.NewRedisLocker(client, time.Minute)
	f := newFixture(t, WithLocker(locker))
	f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Monthly, nil)

	_, ok, err := lock.NewRedisLocker(client, time.Minute).TryLock(ctx, LockKey)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.sched.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	two := 2
	salary := f.recurring(t, ledger.TypeIncome, "500", date(2025, 1, 1), ledger.Monthly, &two)
	rent := f.recurring(t, ledger.TypeExpense, "1234.5", date(2025, 1, 1), ledger.Monthly, nil)

	_, err := f.sched.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)

	require.Len(t, f.notifier.batches, 1, "events are handed off as one batch")
	events := f.notifier.batches[0]
	require.Len(t, events, 2)

	byID := map[string]notify.Event{}
	for _, e := range events {
		byID[e.CorrelationID] = e
	}
	assert.Equal(t, notify.Event{
		UserID: user, Title: "Recurring income processed", Body: "Salary: $500.00 (2/2)", CorrelationID: salary.ID,
	}, byID[salary.ID])
	assert.Equal(t, notify.Event{
		UserID: user, Title: "Recurring expense processed", Body: "Salary: $1,234.50", CorrelationID: rent.ID,
	}, byID[rent.ID])
}

func TestNotifierFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("push service down")
	f.recurring(t, ledger.TypeExpense, "10", date(2025, 1, 1), ledger.Monthly, nil)

	res, err := f.sched.ProcessRecurrences(context.Background(), date(2025, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestRunIgnoresCancellation(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.recurring(t, ledger.TypeExpense, "1", date(2025, 1, 1), ledger.Monthly, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.sched.ProcessRecurrences(ctx, date(2025, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
}

type brokenList struct {
	*memory.Store
}

func (brokenList) ListDueRecurring(context.Context, civil.Date) ([]*ledger.Transaction, error) {
	return nil, errors.New("connection refused")
}

func TestListFailureIsReturned(t *testing.T) {
	sch := New(brokenList{Store: memory.New()}, nil, zerolog.Nop())
	_, err := sch.ProcessRecurrences(context.Background(), date(2025, 2, 1))
	assert.Error(t, err)
}
