package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/export"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/scheduler"
	"github.com/rs/zerolog"
)

// RecurrenceRunner runs one recurrence batch.
type RecurrenceRunner interface {
	ProcessRecurrences(ctx context.Context, asOf civil.Date) (scheduler.Result, error)
}

// LedgerExporter exports one user's ledger.
type LedgerExporter interface {
	Export(ctx context.Context, userID string, sinks ...string) (*export.Result, error)
}

// Dispatcher routes ledger jobs to the component that runs them.
type Dispatcher struct {
	recurrences RecurrenceRunner
	exporter    LedgerExporter
	log         zerolog.Logger
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher. exporter may be nil when no export
// sink is configured; export_ledger jobs then fail permanently.
func NewDispatcher(recurrences RecurrenceRunner, exporter LedgerExporter, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		recurrences: recurrences,
		exporter:    exporter,
		log:         log,
		now:         time.Now,
	}
}

// Handle implements JobHandler. It records the processed count on the job.
func (d *Dispatcher) Handle(ctx context.Context, job Job) error {
	lj, ok := job.(*LedgerJob)
	if !ok {
		return fmt.Errorf("Handle: %w: unexpected job type %T", ErrPermanent, job)
	}

	log := d.log.With().Str("job_id", lj.JobID).Str("job_type", string(lj.Type)).Logger()
	log.Info().Msg("Processing job")

	var err error
	switch lj.Type {
	case JobTypeProcessRecurrences:
		err = d.processRecurrences(ctx, lj)
	case JobTypeExportLedger:
		err = d.exportLedger(ctx, lj)
	default:
		err = fmt.Errorf("Handle: %w: unknown job type %q", ErrPermanent, lj.Type)
	}
	if err != nil {
		log.Error().Err(err).Msg("Job failed")
		return err
	}

	log.Info().Int("processed", lj.Processed).Msg("Job completed")
	return nil
}

func (d *Dispatcher) processRecurrences(ctx context.Context, lj *LedgerJob) error {
	asOf := civil.DateOf(d.now())
	if lj.AsOf != "" {
		parsed, err := civil.ParseDate(lj.AsOf)
		if err != nil {
			return fmt.Errorf("processRecurrences: %w: invalid as_of %q", ErrPermanent, lj.AsOf)
		}
		asOf = parsed
	}

	res, err := d.recurrences.ProcessRecurrences(ctx, asOf)
	if err != nil {
		return fmt.Errorf("processRecurrences: %w", err)
	}
	lj.Processed = res.Processed
	return nil
}

func (d *Dispatcher) exportLedger(ctx context.Context, lj *LedgerJob) error {
	if d.exporter == nil {
		return fmt.Errorf("exportLedger: %w: no export sinks configured", ErrPermanent)
	}
	if lj.UserID == "" {
		return fmt.Errorf("exportLedger: %w: user id is required", ErrPermanent)
	}

	res, err := d.exporter.Export(ctx, lj.UserID, lj.Sinks...)
	if errors.Is(err, ledger.ErrValidation) {
		return fmt.Errorf("exportLedger: %w: %w", ErrPermanent, err)
	}
	if err != nil {
		return fmt.Errorf("exportLedger: %w", err)
	}
	lj.Processed = res.Transactions
	return nil
}
