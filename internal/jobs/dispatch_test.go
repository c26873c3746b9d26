package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/export"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	ProcessFunc func(ctx context.Context, asOf civil.Date) (scheduler.Result, error)
}

func (m *mockRunner) ProcessRecurrences(ctx context.Context, asOf civil.Date) (scheduler.Result, error) {
	return m.ProcessFunc(ctx, asOf)
}

type mockExporter struct {
	ExportFunc func(ctx context.Context, userID string, sinks ...string) (*export.Result, error)
}

func (m *mockExporter) Export(ctx context.Context, userID string, sinks ...string) (*export.Result, error) {
	return m.ExportFunc(ctx, userID, sinks...)
}

type otherJob struct{}

func (otherJob) GetID() string        { return "x" }
func (otherJob) GetType() JobType     { return "other" }
func (otherJob) GetStatus() JobStatus { return JobStatusPending }

func TestDispatcher_ProcessRecurrences(t *testing.T) {
	var got civil.Date
	runner := &mockRunner{ProcessFunc: func(ctx context.Context, asOf civil.Date) (scheduler.Result, error) {
		got = asOf
		return scheduler.Result{Processed: 3}, nil
	}}
	d := NewDispatcher(runner, nil, zerolog.Nop())
	d.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	job := &LedgerJob{JobID: "j1", Type: JobTypeProcessRecurrences}
	require.NoError(t, d.Handle(context.Background(), job))
	assert.Equal(t, civil.Date{Year: 2025, Month: 6, Day: 1}, got)
	assert.Equal(t, 3, job.Processed)

	job = &LedgerJob{JobID: "j2", Type: JobTypeProcessRecurrences, AsOf: "2025-01-31"}
	require.NoError(t, d.Handle(context.Background(), job))
	assert.Equal(t, civil.Date{Year: 2025, Month: 1, Day: 31}, got)
}

func TestDispatcher_PermanentFailures(t *testing.T) {
	runner := &mockRunner{ProcessFunc: func(ctx context.Context, asOf civil.Date) (scheduler.Result, error) {
		return scheduler.Result{}, nil
	}}
	d := NewDispatcher(runner, nil, zerolog.Nop())

	tests := []struct {
		name string
		job  Job
	}{
		{"bad as_of", &LedgerJob{Type: JobTypeProcessRecurrences, AsOf: "31/01/2025"}},
		{"unknown type", &LedgerJob{Type: "rebuild"}},
		{"foreign job", otherJob{}},
		{"export without exporter", &LedgerJob{Type: JobTypeExportLedger, UserID: "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, d.Handle(context.Background(), tt.job), ErrPermanent)
		})
	}
}

func TestDispatcher_ExportLedger(t *testing.T) {
	exp := &mockExporter{ExportFunc: func(ctx context.Context, userID string, sinks ...string) (*export.Result, error) {
		assert.Equal(t, "u1", userID)
		assert.Equal(t, []string{"gcs"}, sinks)
		return &export.Result{Transactions: 7}, nil
	}}
	d := NewDispatcher(nil, exp, zerolog.Nop())

	job := &LedgerJob{Type: JobTypeExportLedger, UserID: "u1", Sinks: []string{"gcs"}}
	require.NoError(t, d.Handle(context.Background(), job))
	assert.Equal(t, 7, job.Processed)

	err := d.Handle(context.Background(), &LedgerJob{Type: JobTypeExportLedger})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestDispatcher_ExportErrors(t *testing.T) {
	transient := errors.New("bigquery: backend error")
	var next error
	exp := &mockExporter{ExportFunc: func(ctx context.Context, userID string, sinks ...string) (*export.Result, error) {
		return nil, next
	}}
	d := NewDispatcher(nil, exp, zerolog.Nop())
	job := &LedgerJob{Type: JobTypeExportLedger, UserID: "u1"}

	next = transient
	err := d.Handle(context.Background(), job)
	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, ErrPermanent)

	next = ledger.ErrValidation
	err = d.Handle(context.Background(), job)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestLedgerJob_Clone(t *testing.T) {
	now := time.Now()
	j := &LedgerJob{JobID: "j", Sinks: []string{"gcs"}, StartedAt: &now}
	c := j.Clone()
	c.Sinks[0] = "bigquery"
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, "gcs", j.Sinks[0])
	assert.Equal(t, now, *j.StartedAt)
}
