package auditlog

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

type fakeAuditRows struct {
	eventIDs []int64
	times    []time.Time
	idx      int
}

func (f *fakeAuditRows) Next() bool {
	if f.idx >= len(f.eventIDs) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeAuditRows) Scan(dest ...any) error {
	i := f.idx - 1
	*(dest[0].(*int64)) = f.eventIDs[i]
	*(dest[1].(*time.Time)) = f.times[i]
	*(dest[2].(*string)) = "reviewer-bot"
	*(dest[3].(*string)) = "governance.action.evaluate"
	*(dest[4].(*string)) = "proposed_action"
	*(dest[5].(*string)) = "r1"
	*(dest[6].(*sql.NullString)) = sql.NullString{}
	*(dest[7].(*sql.NullString)) = sql.NullString{}
	*(dest[8].(*[]byte)) = []byte(`{}`)
	*(dest[9].(*string)) = "deadbeef"
	return nil
}

func (f *fakeAuditRows) Err() error { return nil }

type recordingPutter struct {
	calls int
	body  []byte
}

func (p *recordingPutter) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	p.calls++
	p.body, _ = io.ReadAll(r)
	return minio.UploadInfo{}, nil
}

func TestArchiver_ExportReportsNewestRowTime(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	newest := base.Add(2 * time.Minute)
	// Rows arrive ordered by event_id; the newest occurred_at is not the
	// last row, so the window must track the max, not the final row.
	rows := &fakeAuditRows{
		eventIDs: []int64{1, 2, 3},
		times:    []time.Time{base, newest, base.Add(time.Minute)},
	}
	putter := &recordingPutter{}
	a := &Archiver{logger: slog.Default(), store: putter, bucket: "audit"}

	count, got, err := a.exportRows(context.Background(), rows)
	if err != nil {
		t.Fatalf("exportRows() err=%v", err)
	}
	if count != 3 {
		t.Fatalf("count=%d, want 3", count)
	}
	if !got.Equal(newest) {
		t.Fatalf("newest=%v, want %v", got, newest)
	}
	if putter.calls != 1 {
		t.Fatalf("PutObject calls=%d, want 1", putter.calls)
	}
	if lines := bytes.Count(putter.body, []byte("\n")); lines != 3 {
		t.Fatalf("batch lines=%d, want 3", lines)
	}
}

func TestArchiver_EmptyWindowSkipsPut(t *testing.T) {
	putter := &recordingPutter{}
	a := &Archiver{logger: slog.Default(), store: putter, bucket: "audit"}

	count, newest, err := a.exportRows(context.Background(), &fakeAuditRows{})
	if err != nil {
		t.Fatalf("exportRows() err=%v", err)
	}
	if count != 0 || !newest.IsZero() {
		t.Fatalf("count=%d newest=%v, want empty result", count, newest)
	}
	if putter.calls != 0 {
		t.Fatalf("PutObject calls=%d, want 0 for empty window", putter.calls)
	}
}
