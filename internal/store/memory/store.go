// Package memory is an in-memory Ledger Store. Units are serialised and each
// one works on a private copy of the ledger that replaces the committed state
// only when the unit succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/shopspring/decimal"
)

type state struct {
	accounts map[string]*ledger.Account
	txs      map[string]*ledger.Transaction
	seq      map[string]uint64
	next     uint64
}

func newState() *state {
	return &state{
		accounts: make(map[string]*ledger.Account),
		txs:      make(map[string]*ledger.Transaction),
		seq:      make(map[string]uint64),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts: make(map[string]*ledger.Account, len(s.accounts)),
		txs:      make(map[string]*ledger.Transaction, len(s.txs)),
		seq:      make(map[string]uint64, len(s.seq)),
		next:     s.next,
	}
	for id, a := range s.accounts {
		acc := *a
		c.accounts[id] = &acc
	}
	for id, t := range s.txs {
		c.txs[id] = t.Clone()
	}
	for id, n := range s.seq {
		c.seq[id] = n
	}
	return c
}

// Store is an in-memory implementation of store.Store. It is safe for
// concurrent use. Data is lost on restart.
type Store struct {
	unitMu sync.Mutex // serialises units

	mu        sync.RWMutex
	committed *state
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{committed: newState()}
}

// PutAccount creates or replaces an account. Balance is set to the opening
// balance when it is zero.
func (s *Store) PutAccount(a ledger.Account) {
	if a.Balance.IsZero() {
		a.Balance = a.OpeningBalance
	}
	s.unitMu.Lock()
	defer s.unitMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.accounts[a.ID] = &a
}

// WithinUnit implements store.Store.
func (s *Store) WithinUnit(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	s.unitMu.Lock()
	defer s.unitMu.Unlock()

	s.mu.RLock()
	working := s.committed.clone()
	s.mu.RUnlock()

	// A panic in fn unwinds past the swap below and leaves committed untouched.
	if err := fn(ctx, &unit{st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("WithinUnit: commit: %w", err)
	}

	s.mu.Lock()
	s.committed = working
	s.mu.Unlock()
	return nil
}

// GetTransaction implements store.Reader.
func (s *Store) GetTransaction(ctx context.Context, id, userID string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&reader{st: s.committed}).GetTransaction(ctx, id, userID)
}

// ListTransactions implements store.Reader.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&reader{st: s.committed}).ListTransactions(ctx, userID)
}

// ListChildren implements store.Reader.
func (s *Store) ListChildren(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&reader{st: s.committed}).ListChildren(ctx, parentID, userID)
}

// ListDueRecurring implements store.Reader.
func (s *Store) ListDueRecurring(ctx context.Context, asOf civil.Date) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&reader{st: s.committed}).ListDueRecurring(ctx, asOf)
}

// GetAccount implements store.Reader.
func (s *Store) GetAccount(ctx context.Context, id, userID string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&reader{st: s.committed}).GetAccount(ctx, id, userID)
}

// ListAccounts implements store.Reader.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&reader{st: s.committed}).ListAccounts(ctx, userID)
}

// reader answers queries against one state. Callers hold whatever lock
// protects that state.
type reader struct {
	st *state
}

func (r *reader) GetTransaction(_ context.Context, id, userID string) (*ledger.Transaction, error) {
	t, ok := r.st.txs[id]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return t.Clone(), nil
}

func (r *reader) ListTransactions(_ context.Context, userID string) ([]*ledger.Transaction, error) {
	return r.collect(func(t *ledger.Transaction) bool { return t.UserID == userID }, r.newestFirst), nil
}

func (r *reader) ListChildren(_ context.Context, parentID, userID string) ([]*ledger.Transaction, error) {
	return r.collect(func(t *ledger.Transaction) bool {
		return t.UserID == userID && t.RecurrenceGroupID != nil && *t.RecurrenceGroupID == parentID
	}, r.oldestFirst), nil
}

func (r *reader) ListDueRecurring(_ context.Context, asOf civil.Date) ([]*ledger.Transaction, error) {
	due := r.collect(func(t *ledger.Transaction) bool {
		return t.Recurring && !t.RecurrencePaused && !t.IsChild() &&
			t.NextDueDate != nil && !t.NextDueDate.After(asOf)
	}, r.oldestFirst)
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextDueDate.Before(*due[j].NextDueDate)
	})
	return due, nil
}

func (r *reader) GetAccount(_ context.Context, id, userID string) (*ledger.Account, error) {
	a, ok := r.st.accounts[id]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("account %s: %w", id, ledger.ErrNotFound)
	}
	acc := *a
	return &acc, nil
}

func (r *reader) ListAccounts(_ context.Context, userID string) ([]*ledger.Account, error) {
	var out []*ledger.Account
	for _, a := range r.st.accounts {
		if a.UserID == userID {
			acc := *a
			out = append(out, &acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *reader) collect(keep func(*ledger.Transaction) bool, less func(a, b *ledger.Transaction) bool) []*ledger.Transaction {
	var out []*ledger.Transaction
	for _, t := range r.st.txs {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *reader) oldestFirst(a, b *ledger.Transaction) bool {
	if a.Date != b.Date {
		return a.Date.Before(b.Date)
	}
	return r.st.seq[a.ID] < r.st.seq[b.ID]
}

func (r *reader) newestFirst(a, b *ledger.Transaction) bool {
	if a.Date != b.Date {
		return a.Date.After(b.Date)
	}
	return r.st.seq[a.ID] > r.st.seq[b.ID]
}

// unit is an open atomic unit over a working copy.
type unit struct {
	st *state
}

func (u *unit) GetTransaction(ctx context.Context, id, userID string) (*ledger.Transaction, error) {
	return u.r().GetTransaction(ctx, id, userID)
}

func (u *unit) ListTransactions(ctx context.Context, userID string) ([]*ledger.Transaction, error) {
	return u.r().ListTransactions(ctx, userID)
}

func (u *unit) ListChildren(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error) {
	return u.r().ListChildren(ctx, parentID, userID)
}

func (u *unit) ListDueRecurring(ctx context.Context, asOf civil.Date) ([]*ledger.Transaction, error) {
	return u.r().ListDueRecurring(ctx, asOf)
}

func (u *unit) GetAccount(ctx context.Context, id, userID string) (*ledger.Account, error) {
	return u.r().GetAccount(ctx, id, userID)
}

func (u *unit) ListAccounts(ctx context.Context, userID string) ([]*ledger.Account, error) {
	return u.r().ListAccounts(ctx, userID)
}

func (u *unit) r() *reader { return &reader{st: u.st} }

func (u *unit) InsertTransaction(_ context.Context, tx *ledger.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("InsertTransaction: %w: id is required", ledger.ErrValidation)
	}
	if _, exists := u.st.txs[tx.ID]; exists {
		return fmt.Errorf("InsertTransaction: duplicate id %s", tx.ID)
	}
	u.st.next++
	u.st.txs[tx.ID] = tx.Clone()
	u.st.seq[tx.ID] = u.st.next
	return nil
}

func (u *unit) UpdateTransaction(_ context.Context, tx *ledger.Transaction) error {
	cur, ok := u.st.txs[tx.ID]
	if !ok || cur.UserID != tx.UserID {
		return fmt.Errorf("UpdateTransaction: transaction %s: %w", tx.ID, ledger.ErrNotFound)
	}
	u.st.txs[tx.ID] = tx.Clone()
	return nil
}

func (u *unit) DeleteTransaction(_ context.Context, id, userID string) (*ledger.Transaction, error) {
	t, ok := u.st.txs[id]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("DeleteTransaction: transaction %s: %w", id, ledger.ErrNotFound)
	}
	delete(u.st.txs, id)
	delete(u.st.seq, id)
	return t, nil
}

func (u *unit) DeleteChildren(ctx context.Context, parentID, userID string) ([]*ledger.Transaction, error) {
	children, _ := u.r().ListChildren(ctx, parentID, userID)
	for _, c := range children {
		delete(u.st.txs, c.ID)
		delete(u.st.seq, c.ID)
	}
	return children, nil
}

func (u *unit) ClaimDue(_ context.Context, id string, dueDate civil.Date) (*ledger.Transaction, error) {
	t, ok := u.st.txs[id]
	if !ok || !t.Recurring || t.RecurrencePaused || t.NextDueDate == nil || *t.NextDueDate != dueDate {
		return nil, fmt.Errorf("ClaimDue: transaction %s no longer due on %s: %w", id, dueDate, ledger.ErrNotFound)
	}
	return t.Clone(), nil
}

func (u *unit) AdjustBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	a, ok := u.st.accounts[accountID]
	if !ok {
		return fmt.Errorf("AdjustBalance: account %s: %w", accountID, ledger.ErrNotFound)
	}
	a.Balance = a.Balance.Add(delta)
	return nil
}

// Ensure Store implements store.Store interface.
var _ store.Store = (*Store)(nil)
