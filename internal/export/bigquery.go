package export

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"google.golang.org/api/iterator"
)

const (
	transactionsTable = "ledger_transactions"
	exportsTable      = "ledger_exports"
)

// TransactionRow is one exported transaction in ledger_transactions.
type TransactionRow struct {
	ExportID   string    `bigquery:"export_id"`
	ExportedAt time.Time `bigquery:"exported_at"`
	UserID     string    `bigquery:"user_id"`

	TransactionID string              `bigquery:"transaction_id"`
	AccountID     string              `bigquery:"account_id"`
	AccountName   bigquery.NullString `bigquery:"account_name"`
	CategoryID    bigquery.NullString `bigquery:"category_id"`
	Description   bigquery.NullString `bigquery:"description"`

	Amount       *big.Rat `bigquery:"amount"`        // NUMERIC, always positive
	SignedAmount *big.Rat `bigquery:"signed_amount"` // NUMERIC, negative for expenses
	Type         string   `bigquery:"type"`

	Date civil.Date `bigquery:"date"`

	Recurring         bool                `bigquery:"recurring"`
	Recurrence        bigquery.NullString `bigquery:"recurrence"`
	NextDueDate       bigquery.NullDate   `bigquery:"next_due_date"`
	RecurrenceCount   bigquery.NullInt64  `bigquery:"recurrence_count"`
	RecurrenceCurrent int64               `bigquery:"recurrence_current"`
	RecurrenceGroupID bigquery.NullString `bigquery:"recurrence_group_id"`
	RecurrencePaused  bool                `bigquery:"recurrence_paused"`
}

// ExportRow records one export in ledger_exports.
type ExportRow struct {
	ExportID         string    `bigquery:"export_id" json:"exportId"`
	UserID           string    `bigquery:"user_id" json:"userId"`
	ExportedAt       time.Time `bigquery:"exported_at" json:"exportedAt"`
	TransactionCount int64     `bigquery:"transaction_count" json:"transactionCount"`
	AccountCount     int64     `bigquery:"account_count" json:"accountCount"`
	TotalBalance     *big.Rat  `bigquery:"total_balance" json:"-"`
}

// BigQuerySink streams snapshots into the ledger_transactions and
// ledger_exports tables.
type BigQuerySink struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewBigQuerySink creates a sink writing to projectID.datasetID with a shared client.
func NewBigQuerySink(client *bigquery.Client, projectID, datasetID string) *BigQuerySink {
	return &BigQuerySink{client: client, projectID: projectID, datasetID: datasetID}
}

// Name implements Sink.
func (s *BigQuerySink) Name() string { return "bigquery" }

// Write implements Sink. The transaction rows are inserted before the export
// row so a listed export always has its rows.
func (s *BigQuerySink) Write(ctx context.Context, snap *Snapshot) error {
	dataset := s.client.DatasetInProject(s.projectID, s.datasetID)

	if rows := TransactionRows(snap); len(rows) > 0 {
		if err := dataset.Table(transactionsTable).Inserter().Put(ctx, rows); err != nil {
			return fmt.Errorf("BigQuerySink.Write: inserting transactions: %w", err)
		}
	}

	if err := dataset.Table(exportsTable).Inserter().Put(ctx, SummaryRow(snap)); err != nil {
		return fmt.Errorf("BigQuerySink.Write: inserting export row: %w", err)
	}
	return nil
}

// History lists past exports, newest first. An empty userID lists every user.
func (s *BigQuerySink) History(ctx context.Context, userID string, limit int) ([]*ExportRow, error) {
	if limit <= 0 {
		limit = 20
	}

	q := s.client.Query(fmt.Sprintf(`
		SELECT export_id, user_id, exported_at, transaction_count, account_count, total_balance
		FROM `+"`%s.%s.%s`"+`
		WHERE @user_id = '' OR user_id = @user_id
		ORDER BY exported_at DESC
		LIMIT @limit
	`, s.projectID, s.datasetID, exportsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("BigQuerySink.History: query read: %w", err)
	}

	var rows []*ExportRow
	for {
		var r ExportRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("BigQuerySink.History: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

// TransactionRows maps a snapshot to ledger_transactions rows.
func TransactionRows(snap *Snapshot) []*TransactionRow {
	rows := make([]*TransactionRow, 0, len(snap.Transactions))
	for _, tx := range snap.Transactions {
		rows = append(rows, transactionRow(snap, tx))
	}
	return rows
}

// SummaryRow maps a snapshot to its ledger_exports row.
func SummaryRow(snap *Snapshot) *ExportRow {
	return &ExportRow{
		ExportID:         snap.ExportID,
		UserID:           snap.UserID,
		ExportedAt:       snap.ExportedAt,
		TransactionCount: int64(len(snap.Transactions)),
		AccountCount:     int64(len(snap.Accounts)),
		TotalBalance:     snap.TotalBalance().Rat(),
	}
}

func transactionRow(snap *Snapshot, tx *ledger.Transaction) *TransactionRow {
	row := &TransactionRow{
		ExportID:          snap.ExportID,
		ExportedAt:        snap.ExportedAt,
		UserID:            snap.UserID,
		TransactionID:     tx.ID,
		AccountID:         tx.AccountID,
		AccountName:       nullString(snap.accountName(tx.AccountID)),
		Description:       nullString(tx.Description),
		Amount:            tx.Amount.Rat(),
		SignedAmount:      tx.SignedAmount().Rat(),
		Type:              string(tx.Type),
		Date:              tx.Date,
		Recurring:         tx.Recurring,
		RecurrencePaused:  tx.RecurrencePaused,
		RecurrenceCurrent: int64(tx.RecurrenceCurrent),
	}
	if tx.CategoryID != nil {
		row.CategoryID = nullString(*tx.CategoryID)
	}
	if tx.Recurrence != nil {
		row.Recurrence = nullString(string(*tx.Recurrence))
	}
	if tx.NextDueDate != nil {
		row.NextDueDate = bigquery.NullDate{Date: *tx.NextDueDate, Valid: true}
	}
	if tx.RecurrenceCount != nil {
		row.RecurrenceCount = bigquery.NullInt64{Int64: int64(*tx.RecurrenceCount), Valid: true}
	}
	if tx.RecurrenceGroupID != nil {
		row.RecurrenceGroupID = nullString(*tx.RecurrenceGroupID)
	}
	return row
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
