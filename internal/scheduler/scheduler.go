// Package scheduler is the Recurrence Scheduler: one batch run spawns the
// child of every due recurring parent and moves the parent forward.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/lock"
	"github.com/dvloznov/finance-ledger/internal/notify"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LockKey guards the batch when a Locker is configured.
const LockKey = "lock:ledger:process-recurrences"

// DefaultCurrency is used to format notification amounts.
const DefaultCurrency = "BRL"

// errNotDue marks a parent that needs no occurrence after all: another run
// advanced it between listing and claiming, or its count is already reached.
var errNotDue = errors.New("no longer due")

// Result summarises one batch run.
type Result struct {
	Processed int  `json:"processed"`
	Skipped   bool `json:"skipped,omitempty"` // another run held the batch lock
}

// Scheduler runs recurrence batches.
type Scheduler struct {
	store    store.Store
	notifier notify.Notifier
	locker   lock.Locker
	log      zerolog.Logger
	currency string
	newID    func() string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocker makes every run take LockKey first.
func WithLocker(l lock.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithCurrency sets the ISO currency used in notification bodies.
func WithCurrency(code string) Option {
	return func(s *Scheduler) {
		if code != "" {
			s.currency = code
		}
	}
}

// WithIDs sets the child transaction id generator.
func WithIDs(newID func() string) Option {
	return func(s *Scheduler) { s.newID = newID }
}

// New creates a scheduler. A nil notifier discards events.
func New(s store.Store, n notify.Notifier, log zerolog.Logger, opts ...Option) *Scheduler {
	if n == nil {
		n = notify.Nop{}
	}
	sch := &Scheduler{
		store:    s,
		notifier: n,
		log:      log,
		currency: DefaultCurrency,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// ProcessRecurrences spawns one child for every recurring, unpaused parent
// due on or before asOf and advances each parent by exactly one period.
//
// Each parent is processed in its own unit; a failure rolls back that parent
// only and is logged. Once started the run ignores cancellation of ctx.
// The returned error is non-nil only when the run could not start.
func (s *Scheduler) ProcessRecurrences(ctx context.Context, asOf civil.Date) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, LockKey)
		if err != nil {
			return Result{}, fmt.Errorf("ProcessRecurrences: lock: %w", err)
		}
		if !ok {
			s.log.Info().Str("as_of", asOf.String()).Msg("another recurrence run is in progress, skipping")
			return Result{Skipped: true}, nil
		}
		defer func() {
			if err := release(ctx); err != nil {
				s.log.Warn().Err(err).Msg("failed to release recurrence lock")
			}
		}()
	}

	due, err := s.store.ListDueRecurring(ctx, asOf)
	if err != nil {
		return Result{}, fmt.Errorf("ProcessRecurrences: list due: %w", err)
	}

	var (
		result Result
		events []notify.Event
	)
	for _, parent := range due {
		log := s.log.With().
			Str("transaction_id", parent.ID).
			Str("account_id", parent.AccountID).
			Str("user_id", parent.UserID).
			Logger()

		event, err := s.processOne(ctx, parent)
		if errors.Is(err, errNotDue) {
			log.Debug().Msg("parent needs no occurrence")
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to process recurrence")
			continue
		}
		result.Processed++
		events = append(events, event)
	}

	if len(events) > 0 {
		if err := s.notifier.Notify(ctx, events); err != nil {
			s.log.Error().Err(err).Int("events", len(events)).Msg("failed to hand off notifications")
		}
	}

	s.log.Info().
		Str("as_of", asOf.String()).
		Int("due", len(due)).
		Int("processed", result.Processed).
		Dur("took", time.Since(start)).
		Msg("recurrence run finished")
	return result, nil
}

// processOne claims parent at the due date it was listed with, inserts the
// child, applies its balance effect and advances or terminates the parent.
func (s *Scheduler) processOne(ctx context.Context, listed *ledger.Transaction) (notify.Event, error) {
	if listed.NextDueDate == nil || listed.Recurrence == nil {
		return notify.Event{}, fmt.Errorf("processOne: %w: parent %s has no due date or period", ledger.ErrValidation, listed.ID)
	}
	dueDate := *listed.NextDueDate

	var (
		parent    *ledger.Transaction
		exhausted bool
	)
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u store.Unit) error {
		p, err := u.ClaimDue(ctx, listed.ID, dueDate)
		if errors.Is(err, ledger.ErrNotFound) {
			return errNotDue
		}
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}

		// A count the parent has already reached, e.g. a count of 1, ends the
		// recurrence without another occurrence.
		if p.RecurrenceCount != nil && p.RecurrenceCurrent >= *p.RecurrenceCount {
			p.Recurring = false
			p.NextDueDate = nil
			exhausted = true
			return u.UpdateTransaction(ctx, p)
		}

		group := p.ID
		child := &ledger.Transaction{
			ID:                s.newID(),
			UserID:            p.UserID,
			AccountID:         p.AccountID,
			CategoryID:        p.CategoryID,
			Description:       p.Description,
			Amount:            p.Amount,
			Type:              p.Type,
			Date:              dueDate,
			RecurrenceGroupID: &group,
		}
		if err := u.InsertTransaction(ctx, child); err != nil {
			return fmt.Errorf("insert child: %w", err)
		}
		if err := u.AdjustBalance(ctx, child.AccountID, child.SignedAmount()); err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}

		p.RecurrenceCurrent++
		if p.RecurrenceCount != nil && p.RecurrenceCurrent >= *p.RecurrenceCount {
			p.Recurring = false
			p.NextDueDate = nil
		} else {
			next := ledger.Advance(dueDate, *p.Recurrence)
			p.NextDueDate = &next
		}
		if err := u.UpdateTransaction(ctx, p); err != nil {
			return fmt.Errorf("advance parent: %w", err)
		}
		parent = p
		return nil
	})
	if err != nil {
		return notify.Event{}, err
	}
	if exhausted {
		return notify.Event{}, errNotDue
	}
	return s.event(parent), nil
}

func (s *Scheduler) event(p *ledger.Transaction) notify.Event {
	title := "Recurring expense processed"
	if p.Type == ledger.TypeIncome {
		title = "Recurring income processed"
	}
	body := fmt.Sprintf("%s: %s", p.Description, notify.FormatAmount(p.Amount, s.currency))
	if p.RecurrenceCount != nil {
		body += fmt.Sprintf(" (%d/%d)", p.RecurrenceCurrent, *p.RecurrenceCount)
	}
	return notify.Event{
		UserID:        p.UserID,
		Title:         title,
		Body:          body,
		CorrelationID: p.ID,
	}
}
