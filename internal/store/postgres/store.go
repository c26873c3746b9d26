// Package postgres is the Ledger Store backed by PostgreSQL through a pgx
// connection pool. Each unit is one database transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB is the subset of pgx shared by the pool and an open transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	reads
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("New: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("New: ping: %w", err)
	}
	return NewWithPool(pool, log), nil
}

// NewWithPool wraps an existing pool. Close closes the pool.
func NewWithPool(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{reads: reads{db: pool}, pool: pool, log: log}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinUnit implements store.Store. The deferred rollback runs on every exit
// path, panics included, and is a no-op after a successful commit.
func (s *Store) WithinUnit(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("WithinUnit: begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn().Err(err).Msg("rollback failed")
		}
	}()

	if err := fn(ctx, &unit{reads: reads{db: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("WithinUnit: commit: %w", err)
	}
	return nil
}

// CreateAccount inserts an account with its balance set to the opening balance.
func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, user_id, name, opening_balance, balance)
		VALUES ($1, $2, $3, $4::numeric, $4::numeric)`,
		a.ID, a.UserID, a.Name, a.OpeningBalance.String())
	if err != nil {
		return fmt.Errorf("CreateAccount: insert: %w", err)
	}
	a.Balance = a.OpeningBalance
	return nil
}

// Ensure Store implements store.Store interface.
var _ store.Store = (*Store)(nil)
