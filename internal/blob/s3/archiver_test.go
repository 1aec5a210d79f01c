package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/domain"
)

// recordingWriter captures uploads and which transfer path each one took.
type recordingWriter struct {
	puts       map[string][]byte
	multiparts map[string][]byte
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		puts:       make(map[string][]byte),
		multiparts: make(map[string][]byte),
	}
}

func (w *recordingWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts[path] = buf
	return nil
}

func (w *recordingWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.multiparts[path] = buf
	return nil
}

type stubRunStore struct {
	domain.RunStore
	runs    []domain.ProjectionRun
	deleted []time.Time
}

func (s *stubRunStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.ProjectionRun, error) {
	var out []domain.ProjectionRun
	for _, r := range s.runs {
		if r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubRunStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.deleted = append(s.deleted, cutoff)
	var kept []domain.ProjectionRun
	var n int64
	for _, r := range s.runs {
		if r.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.runs = kept
	return n, nil
}

type stubAudit struct {
	events []string
}

func (s *stubAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveRuns_PartitionsByDayAndPrunes(t *testing.T) {
	day1 := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 11, 9, 0, 0, 0, time.UTC)
	store := &stubRunStore{runs: []domain.ProjectionRun{
		{ID: "run-1", GroupID: "g1", CreatedAt: day1},
		{ID: "run-2", GroupID: "g1", CreatedAt: day1.Add(time.Hour)},
		{ID: "run-3", GroupID: "g2", CreatedAt: day2},
	}}
	writer := newRecordingWriter()
	audit := &stubAudit{}
	a := NewArchiver(writer, store, audit)

	n, err := a.ArchiveRuns(context.Background(), day2.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// One object per day partition, keyed by the partition's first run ID.
	require.Len(t, writer.puts, 2)
	assert.Contains(t, writer.puts, "archive/runs/2026-08-10/run-1.jsonl")
	assert.Contains(t, writer.puts, "archive/runs/2026-08-11/run-3.jsonl")

	// The day-1 partition holds both runs as JSONL lines.
	lines := strings.Split(strings.TrimSpace(string(writer.puts["archive/runs/2026-08-10/run-1.jsonl"])), "\n")
	assert.Len(t, lines, 2)

	// Archived rows were pruned and the event audited.
	assert.Empty(t, store.runs)
	assert.Equal(t, []string{"archive.runs"}, audit.events)
}

func TestArchiveRuns_NothingToArchive(t *testing.T) {
	store := &stubRunStore{}
	audit := &stubAudit{}
	a := NewArchiver(newRecordingWriter(), store, audit)

	n, err := a.ArchiveRuns(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	// No audit entry when nothing moved.
	assert.Empty(t, audit.events)
}

func TestArchiverUpload_LargePartitionGoesMultipart(t *testing.T) {
	writer := newRecordingWriter()
	a := NewArchiver(writer, &stubRunStore{}, &stubAudit{})

	small := bytes.Repeat([]byte("x"), 1024)
	require.NoError(t, a.upload(context.Background(), "small.jsonl", small))
	assert.Contains(t, writer.puts, "small.jsonl")
	assert.Empty(t, writer.multiparts)

	large := bytes.Repeat([]byte("x"), int(minPartSize))
	require.NoError(t, a.upload(context.Background(), "large.jsonl", large))
	assert.Contains(t, writer.multiparts, "large.jsonl")
}
