package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/quantale/polyarb/internal/domain"
	"github.com/quantale/polyarb/internal/service"
)

// maxImportBody bounds the size of an uploaded rule file.
const maxImportBody = 1 << 20

// GroupHandler serves condition group endpoints.
type GroupHandler struct {
	svc    *service.GroupService
	logger *slog.Logger
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(svc *service.GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{svc: svc, logger: logHandler(logger, "group")}
}

// ListGroups returns stored groups, newest first.
// GET /api/groups
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	groups, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list groups failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	total, err := h.svc.Count(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "count groups failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"groups": groups,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetGroup returns one group by ID.
// GET /api/groups/{id}
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	group, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get group failed",
			slog.String("group_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// ListRules returns a group's dependency rules.
// GET /api/groups/{id}/rules
func (h *GroupHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	rules, err := h.svc.Rules(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list rules failed",
			slog.String("group_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group_id": id, "rules": rules})
}

// ImportGroup creates or replaces a group from an uploaded YAML rule file.
// POST /api/groups/import
func (h *GroupHandler) ImportGroup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty rule file")
		return
	}

	group, err := h.svc.ImportFile(r.Context(), body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "import failed", slog.String("error", err.Error()))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "group imported",
		slog.String("group_id", group.ID),
		slog.Int("conditions", len(group.Conditions)),
	)
	writeJSON(w, http.StatusCreated, group)
}

// SyncGroups runs one Gamma discovery pass.
// POST /api/groups/sync
func (h *GroupHandler) SyncGroups(w http.ResponseWriter, r *http.Request) {
	synced, err := h.svc.SyncFromGamma(r.Context(), 1)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "gamma sync failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "gamma sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": synced})
}
