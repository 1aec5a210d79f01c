package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantale/polyarb/internal/domain"
)

type scriptedScanner struct {
	err     error
	scanned []string
}

func (s *scriptedScanner) ScanGroup(_ context.Context, groupID string) error {
	s.scanned = append(s.scanned, groupID)
	return s.err
}

func triggerScan(t *testing.T, scanner GroupScanner, groupID string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewScanHandler(scanner, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/groups/{id}/scan", h.TriggerScan)

	req := httptest.NewRequest(http.MethodPost, "/api/groups/"+groupID+"/scan", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTriggerScan_OK(t *testing.T) {
	scanner := &scriptedScanner{}
	rec := triggerScan(t, scanner, "g1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"g1"}, scanner.scanned)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "g1", body["group_id"])
	assert.Equal(t, "scanned", body["status"])
	assert.Contains(t, body, "duration_ms")
}

func TestTriggerScan_Conflict(t *testing.T) {
	scanner := &scriptedScanner{err: fmt.Errorf("scan: %w", domain.ErrLockHeld)}
	rec := triggerScan(t, scanner, "g1")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerScan_NotFound(t *testing.T) {
	scanner := &scriptedScanner{err: fmt.Errorf("scan: %w", domain.ErrNotFound)}
	rec := triggerScan(t, scanner, "ghost")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerScan_InternalError(t *testing.T) {
	scanner := &scriptedScanner{err: errors.New("database on fire")}
	rec := triggerScan(t, scanner, "g1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "database on fire")
}
