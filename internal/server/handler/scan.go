package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantale/polyarb/internal/domain"
)

// scanTimeout bounds a synchronous scan triggered over the API.
const scanTimeout = 60 * time.Second

// GroupScanner runs one projection cycle for a group.
type GroupScanner interface {
	ScanGroup(ctx context.Context, groupID string) error
}

// ScanHandler serves the manual scan trigger endpoint.
type ScanHandler struct {
	scanner GroupScanner
	logger  *slog.Logger
}

// NewScanHandler creates a ScanHandler.
func NewScanHandler(scanner GroupScanner, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scanner: scanner, logger: logHandler(logger, "scan")}
}

// TriggerScan runs one projection cycle for the given group synchronously
// and reports the outcome. A concurrent scan of the same group returns 409.
// POST /api/groups/{id}/scan
func (h *ScanHandler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	groupID := pathParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), scanTimeout)
	defer cancel()

	start := time.Now()
	err := h.scanner.ScanGroup(ctx, groupID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"group_id":    groupID,
			"status":      "scanned",
			"duration_ms": time.Since(start).Milliseconds(),
		})
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "scan already in progress for this group")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "group not found or prices unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "manual scan failed",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
