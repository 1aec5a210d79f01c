package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantale/polyarb/internal/domain"
)

// archivePageSize bounds how many runs are read per store page while
// archiving.
const archivePageSize = 1000

// ArchiveImpl implements domain.Archiver by paging aged projection runs out
// of the run store, serializing them to JSONL partitioned by day, uploading
// each partition to S3, and deleting the archived rows afterwards. The
// archival event is recorded in the audit log.
type ArchiveImpl struct {
	writer domain.BlobWriter
	runs   domain.RunStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, runs domain.RunStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		runs:   runs,
		audit:  audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveRuns uploads projection runs created before the cutoff to S3 as
// day-partitioned JSONL files under archive/runs/, deletes the archived rows,
// and returns how many runs were archived. Work proceeds one page at a time,
// oldest first, and each page is deleted only after its partitions uploaded
// successfully, so a failed upload leaves the remaining rows in place for the
// next cycle.
func (a *ArchiveImpl) ArchiveRuns(ctx context.Context, before time.Time) (int, error) {
	total := 0

	for {
		page, err := a.runs.ListBefore(ctx, before, archivePageSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive runs query: %w", err)
		}
		if len(page) == 0 {
			break
		}

		partitions := make(map[string][]domain.ProjectionRun)
		for _, run := range page {
			day := run.CreatedAt.UTC().Format("2006-01-02")
			partitions[day] = append(partitions[day], run)
		}

		for day, runs := range partitions {
			buf, err := marshalJSONL(runs)
			if err != nil {
				return total, fmt.Errorf("s3blob: archive runs marshal %s: %w", day, err)
			}
			// A day can span pages, so every partition file gets a unique
			// suffix instead of overwriting archive/runs/<day>.jsonl.
			path := fmt.Sprintf("archive/runs/%s/%s.jsonl", day, runs[0].ID)
			if err := a.upload(ctx, path, buf); err != nil {
				return total, fmt.Errorf("s3blob: archive runs upload %s: %w", path, err)
			}
		}

		// Delete exactly the page that was uploaded. The page is oldest-first,
		// so everything strictly before the last run's timestamp plus a
		// nanosecond is covered by the partitions above.
		cutoff := page[len(page)-1].CreatedAt.Add(time.Nanosecond)
		if cutoff.After(before) {
			cutoff = before
		}
		if _, err := a.runs.DeleteBefore(ctx, cutoff); err != nil {
			return total, fmt.Errorf("s3blob: archive runs delete: %w", err)
		}

		total += len(page)
		if len(page) < archivePageSize {
			break
		}
	}

	if total == 0 {
		return 0, nil
	}

	if err := a.audit.Log(ctx, "archive.runs", map[string]any{
		"count":  total,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return total, fmt.Errorf("s3blob: archive runs audit log: %w", err)
	}

	return total, nil
}

// upload picks the transfer path by partition size: single PutObject for the
// common case, the multipart manager once a day's batch crosses the S3
// minimum part size.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
