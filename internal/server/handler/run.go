package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantale/polyarb/internal/domain"
	"github.com/quantale/polyarb/internal/service"
)

// RunHandler serves projection run endpoints.
type RunHandler struct {
	svc    *service.ReportService
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(svc *service.ReportService, logger *slog.Logger) *RunHandler {
	return &RunHandler{svc: svc, logger: logHandler(logger, "run")}
}

// ListRecent returns the most recent runs across all groups.
// GET /api/runs
func (h *RunHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	runs, err := h.svc.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": opts.Limit})
}

// GetRun returns one projection run by ID.
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get run failed",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListByGroup returns a group's runs, newest first.
// GET /api/groups/{id}/runs
func (h *RunHandler) ListByGroup(w http.ResponseWriter, r *http.Request) {
	groupID := pathParam(r, "id")
	opts := parseListOpts(r)
	runs, err := h.svc.ListByGroup(r.Context(), groupID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list group runs failed",
			slog.String("group_id", groupID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": groupID,
		"runs":     runs,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}
