package ledger

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Type is the direction of a transaction. The sign of an amount is implied by
// its type and never stored.
type Type string

const (
	// TypeIncome credits the account.
	TypeIncome Type = "income"
	// TypeExpense debits the account.
	TypeExpense Type = "expense"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// ParseType parses a transaction type, case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: invalid transaction type %q", ErrValidation, s)
	}
	return t, nil
}

// Account is a ledger account. Balance is stored but always equals
// OpeningBalance plus the signed sum of the transactions applied to it.
type Account struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Name           string          `json:"name"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Balance        decimal.Decimal `json:"balance"`
}

// Transaction is a ledger record. Recurring parents carry Recurrence and
// NextDueDate; children spawned by the scheduler carry RecurrenceGroupID.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	AccountID   string          `json:"accountId"`
	CategoryID  *string         `json:"categoryId"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        Type            `json:"type"`
	Date        civil.Date      `json:"date"`

	Recurring         bool        `json:"recurring"`
	Recurrence        *Period     `json:"recurrence"`
	NextDueDate       *civil.Date `json:"nextDueDate"`
	RecurrenceCount   *int        `json:"recurrenceCount"`
	RecurrenceCurrent int         `json:"recurrenceCurrent"`
	RecurrenceGroupID *string     `json:"recurrenceGroupId"`
	RecurrencePaused  bool        `json:"recurrencePaused"`
}

// SignedAmount returns the balance effect of the transaction: positive for
// income, negative for expense.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// IsChild reports whether the transaction was spawned by a recurrence.
func (t *Transaction) IsChild() bool {
	return t.RecurrenceGroupID != nil
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.CategoryID != nil {
		v := *t.CategoryID
		c.CategoryID = &v
	}
	if t.Recurrence != nil {
		v := *t.Recurrence
		c.Recurrence = &v
	}
	if t.NextDueDate != nil {
		v := *t.NextDueDate
		c.NextDueDate = &v
	}
	if t.RecurrenceCount != nil {
		v := *t.RecurrenceCount
		c.RecurrenceCount = &v
	}
	if t.RecurrenceGroupID != nil {
		v := *t.RecurrenceGroupID
		c.RecurrenceGroupID = &v
	}
	return &c
}

// NewTransaction holds the fields a user supplies when creating a transaction.
type NewTransaction struct {
	AccountID       string          `json:"accountId"`
	CategoryID      *string         `json:"categoryId"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Type            Type            `json:"type"`
	Date            civil.Date      `json:"date"`
	Recurring       bool            `json:"recurring"`
	Recurrence      *Period         `json:"recurrence"`
	RecurrenceCount *int            `json:"recurrenceCount"`
}

// AmountPlaces is the number of decimal places amounts and balances are
// stored with.
const AmountPlaces = 2

// ValidateAmount rejects amounts that are not positive or that carry more
// than AmountPlaces decimal places.
func ValidateAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if !a.Equal(a.Round(AmountPlaces)) {
		return fmt.Errorf("%w: amount must have at most %d decimal places", ErrValidation, AmountPlaces)
	}
	return nil
}

// Validate checks the input before any mutation begins.
func (n NewTransaction) Validate() error {
	if strings.TrimSpace(n.AccountID) == "" {
		return fmt.Errorf("%w: accountId is required", ErrValidation)
	}
	if err := ValidateAmount(n.Amount); err != nil {
		return err
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: invalid transaction type %q", ErrValidation, n.Type)
	}
	if !n.Date.IsValid() {
		return fmt.Errorf("%w: invalid date", ErrValidation)
	}
	if n.Recurring {
		if n.Recurrence == nil {
			return fmt.Errorf("%w: recurrence is required when recurring", ErrValidation)
		}
		if !n.Recurrence.Valid() {
			return fmt.Errorf("%w: invalid recurrence %q", ErrValidation, *n.Recurrence)
		}
	}
	if n.RecurrenceCount != nil && *n.RecurrenceCount < 1 {
		return fmt.Errorf("%w: recurrenceCount must be at least 1", ErrValidation)
	}
	return nil
}

// Patch lists the fields of an update. Nil fields are left untouched.
// Clearing CategoryID, Recurrence or NextDueDate is done through the
// corresponding Clear flag.
type Patch struct {
	Description *string          `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Type        *Type            `json:"type,omitempty"`
	CategoryID  *string          `json:"categoryId,omitempty"`
	AccountID   *string          `json:"accountId,omitempty"`
	Date        *civil.Date      `json:"date,omitempty"`
	Recurring   *bool            `json:"recurring,omitempty"`
	Recurrence  *Period          `json:"recurrence,omitempty"`
	NextDueDate *civil.Date      `json:"nextDueDate,omitempty"`

	ClearRecurrence  bool `json:"-"`
	ClearNextDueDate bool `json:"-"`
}

// Validate checks the supplied fields.
func (p Patch) Validate() error {
	if p.Amount != nil {
		if err := ValidateAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.Type != nil && !p.Type.Valid() {
		return fmt.Errorf("%w: invalid transaction type %q", ErrValidation, *p.Type)
	}
	if p.AccountID != nil && strings.TrimSpace(*p.AccountID) == "" {
		return fmt.Errorf("%w: accountId cannot be empty", ErrValidation)
	}
	if p.Date != nil && !p.Date.IsValid() {
		return fmt.Errorf("%w: invalid date", ErrValidation)
	}
	if p.Recurrence != nil && !p.Recurrence.Valid() {
		return fmt.Errorf("%w: invalid recurrence %q", ErrValidation, *p.Recurrence)
	}
	if p.NextDueDate != nil && !p.NextDueDate.IsValid() {
		return fmt.Errorf("%w: invalid nextDueDate", ErrValidation)
	}
	return nil
}

// TouchesMoney reports whether the patch changes a field that determines a
// balance effect.
func (p Patch) TouchesMoney() bool {
	return p.Amount != nil || p.Type != nil || p.AccountID != nil
}

// Apply writes the supplied fields onto t.
func (p Patch) Apply(t *Transaction) {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.CategoryID != nil {
		v := *p.CategoryID
		t.CategoryID = &v
	}
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Recurring != nil {
		t.Recurring = *p.Recurring
	}
	if p.ClearRecurrence {
		t.Recurrence = nil
	} else if p.Recurrence != nil {
		v := *p.Recurrence
		t.Recurrence = &v
	}
	if p.ClearNextDueDate {
		t.NextDueDate = nil
	} else if p.NextDueDate != nil {
		v := *p.NextDueDate
		t.NextDueDate = &v
	}
}
