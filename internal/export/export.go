// Package export writes per-user ledger snapshots to external sinks
// (BigQuery tables, GCS objects) for backup and offline inspection.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Snapshot is everything one user owns at the moment of export.
type Snapshot struct {
	ExportID     string
	UserID       string
	ExportedAt   time.Time
	Accounts     []*ledger.Account
	Transactions []*ledger.Transaction
}

// TotalBalance sums the stored balances of every account in the snapshot.
func (s *Snapshot) TotalBalance() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Accounts {
		total = total.Add(a.Balance)
	}
	return total
}

// accountName returns the name of accountID, or "" when it is not in the snapshot.
func (s *Snapshot) accountName(accountID string) string {
	for _, a := range s.Accounts {
		if a.ID == accountID {
			return a.Name
		}
	}
	return ""
}

// Sink receives snapshots.
type Sink interface {
	// Name identifies the sink on the command line and in jobs.
	Name() string

	// Write persists the snapshot.
	Write(ctx context.Context, snap *Snapshot) error
}

// Result describes a finished export.
type Result struct {
	ExportID     string   `json:"exportId"`
	Transactions int      `json:"transactions"`
	Accounts     int      `json:"accounts"`
	Sinks        []string `json:"sinks"`
}

// Exporter reads a user's ledger and fans it out to sinks.
type Exporter struct {
	reader store.Reader
	sinks  []Sink
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Exporter over the given sinks.
func New(reader store.Reader, log zerolog.Logger, sinks ...Sink) *Exporter {
	return &Exporter{
		reader: reader,
		sinks:  sinks,
		log:    log,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Sinks returns the names of the configured sinks.
func (e *Exporter) Sinks() []string {
	names := make([]string, 0, len(e.sinks))
	for _, s := range e.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Export snapshots userID's ledger and writes it to the named sinks, or to
// every configured sink when names is empty. A sink failure does not stop the
// remaining sinks; all failures are returned joined.
func (e *Exporter) Export(ctx context.Context, userID string, names ...string) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("Export: %w: user id is required", ledger.ErrValidation)
	}

	targets, err := e.selectSinks(names)
	if err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}

	accounts, err := e.reader.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Export: listing accounts: %w", err)
	}
	txs, err := e.reader.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Export: listing transactions: %w", err)
	}

	snap := &Snapshot{
		ExportID:     e.newID(),
		UserID:       userID,
		ExportedAt:   e.now().UTC(),
		Accounts:     accounts,
		Transactions: txs,
	}

	res := &Result{
		ExportID:     snap.ExportID,
		Transactions: len(txs),
		Accounts:     len(accounts),
	}

	log := e.log.With().Str("export_id", snap.ExportID).Str("user_id", userID).Logger()

	var errs []error
	for _, s := range targets {
		if err := s.Write(ctx, snap); err != nil {
			log.Error().Err(err).Str("sink", s.Name()).Msg("export sink failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		res.Sinks = append(res.Sinks, s.Name())
		log.Info().
			Str("sink", s.Name()).
			Int("transactions", res.Transactions).
			Int("accounts", res.Accounts).
			Msg("ledger exported")
	}

	if len(errs) > 0 {
		return res, fmt.Errorf("Export: %w", errors.Join(errs...))
	}
	return res, nil
}

func (e *Exporter) selectSinks(names []string) ([]Sink, error) {
	if len(e.sinks) == 0 {
		return nil, fmt.Errorf("%w: no export sinks configured", ledger.ErrValidation)
	}
	if len(names) == 0 {
		return e.sinks, nil
	}

	var out []Sink
	for _, name := range names {
		found := false
		for _, s := range e.sinks {
			if s.Name() == name {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown export sink %q", ledger.ErrValidation, name)
		}
	}
	return out, nil
}
