package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func validNew() NewTransaction {
	return NewTransaction{
		AccountID:   "wallet",
		Description: "Groceries",
		Amount:      decimal.NewFromInt(30),
		Type:        TypeExpense,
		Date:        date(2025, 1, 1),
	}
}

func TestNewTransaction_Validate(t *testing.T) {
	monthly := Monthly
	bogus := Period("hourly")
	zero := 0

	tests := []struct {
		name    string
		mutate  func(n *NewTransaction)
		wantErr bool
	}{
		{"valid", func(n *NewTransaction) {}, false},
		{"missing account", func(n *NewTransaction) { n.AccountID = " " }, true},
		{"zero amount", func(n *NewTransaction) { n.Amount = decimal.Zero }, true},
		{"negative amount", func(n *NewTransaction) { n.Amount = decimal.NewFromInt(-5) }, true},
		{"cents", func(n *NewTransaction) { n.Amount = decimal.RequireFromString("10.05") }, false},
		{"trailing zero places", func(n *NewTransaction) { n.Amount = decimal.RequireFromString("10.500") }, false},
		{"sub-cent amount", func(n *NewTransaction) { n.Amount = decimal.RequireFromString("10.005") }, true},
		{"rounds to zero", func(n *NewTransaction) { n.Amount = decimal.RequireFromString("0.001") }, true},
		{"bad type", func(n *NewTransaction) { n.Type = "transfer" }, true},
		{"recurring without period", func(n *NewTransaction) { n.Recurring = true }, true},
		{"recurring with bad period", func(n *NewTransaction) { n.Recurring = true; n.Recurrence = &bogus }, true},
		{"recurring monthly", func(n *NewTransaction) { n.Recurring = true; n.Recurrence = &monthly }, false},
		{"count below one", func(n *NewTransaction) { n.Recurring = true; n.Recurrence = &monthly; n.RecurrenceCount = &zero }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := validNew()
			tt.mutate(&n)
			err := n.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		amount  string
		wantErr bool
	}{
		{"1", false},
		{"0.01", false},
		{"12.30", false},
		{"0", true},
		{"-0.01", true},
		{"0.001", true},
		{"10.005", true},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransaction_SignedAmount(t *testing.T) {
	tx := &Transaction{Amount: decimal.RequireFromString("12.34"), Type: TypeIncome}
	assert.True(t, tx.SignedAmount().Equal(decimal.RequireFromString("12.34")))

	tx.Type = TypeExpense
	assert.True(t, tx.SignedAmount().Equal(decimal.RequireFromString("-12.34")))
}

func TestPatch_Apply(t *testing.T) {
	monthly := Monthly
	due := date(2025, 2, 1)
	tx := &Transaction{
		Description: "Rent",
		Amount:      decimal.NewFromInt(100),
		Type:        TypeExpense,
		Recurring:   true,
		Recurrence:  &monthly,
		NextDueDate: &due,
	}

	desc := "Rent March"
	amount := decimal.NewFromInt(120)
	p := Patch{Description: &desc, Amount: &amount, ClearNextDueDate: true}
	assert.True(t, p.TouchesMoney())
	p.Apply(tx)

	assert.Equal(t, "Rent March", tx.Description)
	assert.True(t, tx.Amount.Equal(amount))
	assert.Nil(t, tx.NextDueDate)
	assert.Equal(t, &monthly, tx.Recurrence)
	assert.Equal(t, TypeExpense, tx.Type)
}

func TestPatch_Validate(t *testing.T) {
	neg := decimal.NewFromInt(-1)
	assert.ErrorIs(t, Patch{Amount: &neg}.Validate(), ErrValidation)

	subCent := decimal.RequireFromString("3.141")
	assert.ErrorIs(t, Patch{Amount: &subCent}.Validate(), ErrValidation)

	cents := decimal.RequireFromString("3.14")
	assert.NoError(t, Patch{Amount: &cents}.Validate())

	bad := Type("refund")
	assert.ErrorIs(t, Patch{Type: &bad}.Validate(), ErrValidation)

	desc := "ok"
	assert.NoError(t, Patch{Description: &desc}.Validate())
	assert.False(t, Patch{Description: &desc}.TouchesMoney())
}

func TestTransaction_Clone(t *testing.T) {
	group := "parent"
	tx := &Transaction{ID: "child", RecurrenceGroupID: &group}
	c := tx.Clone()
	*c.RecurrenceGroupID = "other"
	assert.Equal(t, "parent", *tx.RecurrenceGroupID)
	assert.True(t, tx.IsChild())
}
