// Package notify is the Notification Port: the scheduler hands it one batch of
// events per run and delivery happens elsewhere.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Event is one processed occurrence to tell a user about.
type Event struct {
	UserID        string `json:"userId"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlationId"`
}

// Notifier delivers a batch of events. Implementations own batching limits,
// tokens and retries.
type Notifier interface {
	Notify(ctx context.Context, events []Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, events []Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, []Event) error { return nil }

// Multi fans a batch out to every notifier. All notifiers are called; their
// errors are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, events []Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes each event to a structured log.
type LogNotifier struct {
	Log zerolog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Log.Info().
			Str("user_id", e.UserID).
			Str("correlation_id", e.CorrelationID).
			Str("title", e.Title).
			Msg(e.Body)
	}
	return nil
}

// FormatAmount renders amount in the given ISO currency, e.g. "$1,234.50".
// Unknown currencies fall back to the plain decimal and code.
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}
