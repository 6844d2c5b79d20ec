package auditlog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
)

type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// auditRows is the slice of *sql.Rows the export loop needs.
type auditRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Archiver exports audit rows to object storage as JSONL batches, one
// object per export window. The archive is a secondary copy; export
// failures are retried on the next tick and never affect decisions.
type Archiver struct {
	logger *slog.Logger
	db     Queryer
	store  ObjectPutter
	bucket string

	lastExported time.Time
}

func NewArchiver(logger *slog.Logger, db Queryer, store ObjectPutter, bucket string) (*Archiver, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{
		logger:       logger,
		db:           db,
		store:        store,
		bucket:       bucket,
		lastExported: time.Now().UTC(),
	}, nil
}

// Run exports on every tick until the context is cancelled. The window
// advances to the newest exported occurred_at, never to wall-clock time,
// so rows committed while an export runs are picked up on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, newest, err := a.ExportSince(ctx, a.lastExported)
			if err != nil {
				if a.logger != nil {
					a.logger.Error("audit archive export failed", "error", err)
				}
				continue
			}
			if count > 0 {
				a.lastExported = newest
				if a.logger != nil {
					a.logger.Info("audit archive exported", "records", count)
				}
			}
		}
	}
}

// ExportSince writes every audit row at or after since into one JSONL
// object. Returns the number of exported records and the newest
// occurred_at among them; a boundary row may repeat in the next batch,
// and consumers dedupe on event_id.
func (a *Archiver) ExportSince(ctx context.Context, since time.Time) (int, time.Time, error) {
	rows, err := a.db.QueryContext(
		ctx,
		`SELECT event_id, occurred_at, actor, action, resource_type, resource_id, correlation_id, decision, payload, integrity_sha256
		 FROM audit_events
		 WHERE occurred_at >= $1
		 ORDER BY event_id`,
		since.UTC(),
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return a.exportRows(ctx, rows)
}

func (a *Archiver) exportRows(ctx context.Context, rows auditRows) (int, time.Time, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	var newest time.Time
	for rows.Next() {
		var (
			eventID       int64
			occurredAt    time.Time
			actor         string
			action        string
			resourceType  string
			resourceID    string
			correlationID sql.NullString
			decision      sql.NullString
			payload       []byte
			integrity     string
		)
		if err := rows.Scan(&eventID, &occurredAt, &actor, &action, &resourceType, &resourceID, &correlationID, &decision, &payload, &integrity); err != nil {
			return 0, time.Time{}, fmt.Errorf("scan audit event: %w", err)
		}
		if occurredAt.After(newest) {
			newest = occurredAt
		}
		entry := map[string]any{
			"event_id":         eventID,
			"occurred_at":      occurredAt.UTC(),
			"actor":            actor,
			"action":           action,
			"resource_type":    resourceType,
			"resource_id":      resourceID,
			"integrity_sha256": integrity,
			"payload":          json.RawMessage(payload),
		}
		if correlationID.Valid {
			entry["correlation_id"] = correlationID.String
		}
		if decision.Valid {
			entry["decision"] = decision.String
		}
		if err := enc.Encode(entry); err != nil {
			return 0, time.Time{}, fmt.Errorf("encode audit event: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, time.Time{}, fmt.Errorf("iterate audit events: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	key := fmt.Sprintf("audit/%s/batch-%d.jsonl", time.Now().UTC().Format("2006-01-02"), time.Now().UTC().UnixNano())
	_, err := a.store.PutObject(
		ctx,
		a.bucket,
		key,
		bytes.NewReader(buf.Bytes()),
		int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"},
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("put audit batch: %w", err)
	}
	return count, newest.UTC(), nil
}
