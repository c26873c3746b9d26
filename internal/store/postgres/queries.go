package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const txColumns = `id, user_id, account_id, category_id, description, amount::text, type, date,
	recurring, recurrence, next_due_date, recurrence_count, recurrence_current,
	recurrence_group_id, recurrence_paused`

const accountColumns = `id, user_id, name, opening_balance::text, balance::text`

// reads implements store.Reader over either the pool or an open transaction.
type reads struct {
	db DB
}

func (r reads) GetTransaction(ctx context.Context, id, userID string) (*ledger.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %s: %w", id, err)
	}
	return tx, nil
}

func (r reads) ListTransactions(ctx context.Context, userID string) ([]*ledger.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query: %w", err)
	}
	return collectTransactions(rows)
}

func (r reads) ListChildren(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE recurrence_group_id = $1 AND user_id = $2
		ORDER BY date, created_at`, parentID, userID)
	if err != nil {
		return nil, fmt.Errorf("ListChildren: query: %w", err)
	}
	return collectTransactions(rows)
}

func (r reads) ListDueRecurring(ctx context.Context, asOf civil.Date) ([]*ledger.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE recurring AND NOT recurrence_paused
		  AND recurrence_group_id IS NULL
		  AND next_due_date <= $1::date
		ORDER BY next_due_date, created_at`, asOf.String())
	if err != nil {
		return nil, fmt.Errorf("ListDueRecurring: query: %w", err)
	}
	return collectTransactions(rows)
}

func (r reads) GetAccount(ctx context.Context, id, userID string) (*ledger.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND user_id = $2`, id, userID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %s: %w", id, err)
	}
	return a, nil
}

func (r reads) ListAccounts(ctx context.Context, userID string) ([]*ledger.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: query: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAccounts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAccounts: rows: %w", err)
	}
	return out, nil
}

// unit adds the write operations available inside a transaction.
type unit struct {
	reads
}

func (u *unit) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	_, err := u.db.Exec(ctx, `
		INSERT INTO transactions (`+insertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8::date, $9, $10, $11::date, $12, $13, $14, $15)`,
		transactionArgs(tx)...)
	if err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	return nil
}

const insertColumns = `id, user_id, account_id, category_id, description, amount, type, date,
	recurring, recurrence, next_due_date, recurrence_count, recurrence_current,
	recurrence_group_id, recurrence_paused`

func (u *unit) UpdateTransaction(ctx context.Context, tx *ledger.Transaction) error {
	tag, err := u.db.Exec(ctx, `
		UPDATE transactions SET
			account_id = $3, category_id = $4, description = $5, amount = $6::numeric,
			type = $7, date = $8::date, recurring = $9, recurrence = $10,
			next_due_date = $11::date, recurrence_count = $12, recurrence_current = $13,
			recurrence_group_id = $14, recurrence_paused = $15
		WHERE id = $1 AND user_id = $2`,
		transactionArgs(tx)...)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("UpdateTransaction: %s: %w", tx.ID, ledger.ErrNotFound)
	}
	return nil
}

func (u *unit) DeleteTransaction(ctx context.Context, id, userID string) (*ledger.Transaction, error) {
	row := u.db.QueryRow(ctx, `DELETE FROM transactions WHERE id = $1 AND user_id = $2 RETURNING `+txColumns, id, userID)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("DeleteTransaction: %s: %w", id, err)
	}
	return tx, nil
}

func (u *unit) DeleteChildren(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error) {
	rows, err := u.db.Query(ctx, `
		DELETE FROM transactions
		WHERE recurrence_group_id = $1 AND user_id = $2
		RETURNING `+txColumns, parentID, userID)
	if err != nil {
		return nil, fmt.Errorf("DeleteChildren: %w", err)
	}
	return collectTransactions(rows)
}

func (u *unit) ClaimDue(ctx context.Context, id string, dueDate civil.Date) (*ledger.Transaction, error) {
	row := u.db.QueryRow(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE id = $1 AND recurring AND NOT recurrence_paused AND next_due_date = $2::date
		FOR UPDATE`, id, dueDate.String())
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("ClaimDue: %s due %s: %w", id, dueDate, err)
	}
	return tx, nil
}

func (u *unit) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	tag, err := u.db.Exec(ctx, `UPDATE accounts SET balance = balance + $2::numeric WHERE id = $1`, accountID, delta.String())
	if err != nil {
		return fmt.Errorf("AdjustBalance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("AdjustBalance: account %s: %w", accountID, ledger.ErrNotFound)
	}
	return nil
}

func transactionArgs(tx *ledger.Transaction) []any {
	var recurrence, nextDue *string
	if tx.Recurrence != nil {
		v := string(*tx.Recurrence)
		recurrence = &v
	}
	if tx.NextDueDate != nil {
		v := tx.NextDueDate.String()
		nextDue = &v
	}
	return []any{
		tx.ID, tx.UserID, tx.AccountID, tx.CategoryID, tx.Description,
		tx.Amount.String(), string(tx.Type), tx.Date.String(),
		tx.Recurring, recurrence, nextDue, tx.RecurrenceCount, tx.RecurrenceCurrent,
		tx.RecurrenceGroupID, tx.RecurrencePaused,
	}
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var (
		tx         ledger.Transaction
		amount     string
		typ        string
		date       time.Time
		recurrence *string
		nextDue    *time.Time
		count      *int32
		current    int32
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.AccountID, &tx.CategoryID, &tx.Description, &amount, &typ, &date,
		&tx.Recurring, &recurrence, &nextDue, &count, &current, &tx.RecurrenceGroupID, &tx.RecurrencePaused)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Type = ledger.Type(typ)
	tx.Date = civil.DateOf(date)
	if recurrence != nil {
		p := ledger.Period(*recurrence)
		tx.Recurrence = &p
	}
	if nextDue != nil {
		d := civil.DateOf(*nextDue)
		tx.NextDueDate = &d
	}
	if count != nil {
		n := int(*count)
		tx.RecurrenceCount = &n
	}
	tx.RecurrenceCurrent = int(current)
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]*ledger.Transaction, error) {
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var (
		a                ledger.Account
		opening, balance string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &opening, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if a.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return nil, fmt.Errorf("parse opening balance %q: %w", opening, err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	return &a, nil
}
