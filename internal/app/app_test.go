package app

import (
	"bytes"
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/alicebob/miniredis/v2"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/notify"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{Currency: "USD"}
}

func seedRecurring(t *testing.T, a *App) {
	t.Helper()
	mem, ok := a.Store.(*memory.Store)
	require.True(t, ok)
	mem.PutAccount(ledger.Account{ID: "wallet", UserID: "u1", Name: "Wallet", OpeningBalance: decimal.NewFromInt(10)})

	monthly := ledger.Monthly
	_, err := a.Engine.Create(context.Background(), "u1", ledger.NewTransaction{
		AccountID: "wallet", Description: "Salary", Amount: decimal.NewFromInt(500),
		Type: ledger.TypeIncome, Date: civil.Date{Year: 2025, Month: 1, Day: 1},
		Recurring: true, Recurrence: &monthly,
	})
	require.NoError(t, err)
}

func TestBuild_InMemoryDeliversLocally(t *testing.T) {
	var got []notify.Event
	local := notify.NotifierFunc(func(ctx context.Context, events []notify.Event) error {
		got = append(got, events...)
		return nil
	})

	a, err := Build(context.Background(), testConfig(), zerolog.Nop(), local)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "memory", a.StoreKind())
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Exporter)
	assert.NoError(t, a.Ping(context.Background()))

	seedRecurring(t, a)
	res, err := a.Scheduler.ProcessRecurrences(context.Background(), civil.Date{Year: 2025, Month: 2, Day: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	require.Len(t, got, 1)
	assert.Equal(t, "Salary: $500.00", got[0].Body)
}

func TestBuild_RedisPublishesNotifications(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	a, err := Build(context.Background(), cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Redis)

	sub := a.Redis.Subscribe(context.Background(), notify.DefaultChannel)
	defer sub.Close()
	_, err = sub.Receive(context.Background())
	require.NoError(t, err)

	seedRecurring(t, a)
	_, err = a.Scheduler.ProcessRecurrences(context.Background(), civil.Date{Year: 2025, Month: 2, Day: 1})
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "Recurring income processed")
}

func TestBuild_UnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	mr.Close()

	_, err := Build(context.Background(), cfg, zerolog.Nop(), nil)
	assert.Error(t, err)
}

func TestBuild_InMemoryWarnsStoreStartsEmpty(t *testing.T) {
	buf := &bytes.Buffer{}
	a, err := Build(context.Background(), testConfig(), zerolog.New(buf), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "memory", a.StoreKind())
	assert.Contains(t, buf.String(), "starts with no accounts")
	assert.Contains(t, buf.String(), "create-account")

	accounts, err := a.Engine.Accounts(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}
