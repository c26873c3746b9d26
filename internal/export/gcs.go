package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-ledger/internal/ledger"
)

// Record is one JSON line of a GCS snapshot. Exactly one of Account and
// Transaction is set.
type Record struct {
	Kind        string              `json:"kind"`
	ExportID    string              `json:"exportId"`
	ExportedAt  time.Time           `json:"exportedAt"`
	Account     *ledger.Account     `json:"account,omitempty"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

// GCSSink writes snapshots as JSON-lines objects under exports/<user>/<date>.jsonl.
type GCSSink struct {
	client *storage.Client
	bucket string
}

// NewGCSSink creates a sink writing to bucket with a shared client.
func NewGCSSink(client *storage.Client, bucket string) *GCSSink {
	return &GCSSink{client: client, bucket: bucket}
}

// Name implements Sink.
func (s *GCSSink) Name() string { return "gcs" }

// Write implements Sink. A second export on the same day replaces the object.
func (s *GCSSink) Write(ctx context.Context, snap *Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	objectName := ObjectName(snap.UserID, snap.ExportedAt)
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.Metadata = map[string]string{"export_id": snap.ExportID}

	if err := WriteJSONL(w, snap); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSSink.Write: writing %s: %w", objectName, err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSSink.Write: finalize upload %s: %w", objectName, err)
	}
	return nil
}

// Fetch downloads the snapshot object written for userID on the given day.
func (s *GCSSink) Fetch(ctx context.Context, userID string, day time.Time) ([]byte, error) {
	objectName := ObjectName(userID, day)
	r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("GCSSink.Fetch: open %s: %w", objectName, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("GCSSink.Fetch: read %s: %w", objectName, err)
	}
	return data, nil
}

// ObjectName returns the object path of a user's snapshot for a day.
func ObjectName(userID string, day time.Time) string {
	return path.Join("exports", userID, day.UTC().Format("2006-01-02")+".jsonl")
}

// WriteJSONL encodes the snapshot to w: accounts first, then transactions,
// one record per line.
func WriteJSONL(w io.Writer, snap *Snapshot) error {
	enc := json.NewEncoder(w)
	for _, a := range snap.Accounts {
		if err := enc.Encode(Record{Kind: "account", ExportID: snap.ExportID, ExportedAt: snap.ExportedAt, Account: a}); err != nil {
			return fmt.Errorf("encode account %s: %w", a.ID, err)
		}
	}
	for _, tx := range snap.Transactions {
		if err := enc.Encode(Record{Kind: "transaction", ExportID: snap.ExportID, ExportedAt: snap.ExportedAt, Transaction: tx}); err != nil {
			return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
		}
	}
	return nil
}
