package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quantale/polyarb/internal/service"
)

// StatusHandler reports the process mode and group roster size.
type StatusHandler struct {
	groups    *service.GroupService
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(groups *service.GroupService, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		groups:    groups,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus responds with the current process mode, uptime, and the number
// of tracked groups.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	total, err := h.groups.Count(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "count groups failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"groups":         total,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
