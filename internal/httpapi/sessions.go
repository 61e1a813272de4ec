package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/geo"
	"aed_map/core-go/internal/selection"
	"aed_map/core-go/internal/session"
	"aed_map/core-go/internal/viewport"
)

type sessionCreate struct {
	Filter string `json:"filter,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type filterUpdate struct {
	Filter string `json:"filter"`
}

type selectRequest struct {
	DeviceID string `json:"device_id"`
}

type panRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

type zoomRequest struct {
	Zoom *float64 `json:"zoom"`
}

type sizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (h *Handler) ensureSessions(w http.ResponseWriter) bool {
	if h.sessions == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sessions_unavailable", "map sessions not configured", nil)
		return false
	}
	return true
}

// lookupSession writes a 404 when the session does not exist.
func (h *Handler) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if !h.ensureSessions(w) {
		return nil, false
	}
	id := chi.URLParam(r, "id")
	s, ok := h.sessions.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found", map[string]any{"id": id})
		return nil, false
	}
	return s, true
}

func (h *Handler) decodeOrReject(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSONStrict(r, dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

// writeSessionError maps session and viewport errors onto the API envelope.
func (h *Handler) writeSessionError(w http.ResponseWriter, s *session.Session, err error) {
	var coordErr *geo.CoordinateParseError
	switch {
	case errors.As(err, &coordErr):
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_coordinates", "device coordinates cannot be placed on the map", map[string]any{
			"field": coordErr.Field,
			"value": coordErr.Value,
			"state": s.State(),
		})
	case errors.Is(err, selection.ErrUnknownDevice):
		h.writeError(w, http.StatusNotFound, "not_found", "device not in the session's catalog", nil)
	case errors.Is(err, viewport.ErrUnboundViewport), errors.Is(err, session.ErrClosed):
		h.writeError(w, http.StatusConflict, "not_mounted", "session is not mounted", map[string]any{"id": s.ID()})
	case errors.Is(err, viewport.ErrInvalidSize), errors.Is(err, viewport.ErrInvalidZoom):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	default:
		h.log.Error().Err(err).Str("session_id", s.ID()).Msg("session operation failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "session operation failed", nil)
	}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionCreate
	if err := decodeJSONOptional(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	f, err := catalog.ParseFilter(req.Filter)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid filter", map[string]any{"filter": req.Filter})
		return
	}
	if !h.ensureSessions(w) {
		return
	}

	s, err := h.sessions.Create(f, geo.Size{Width: req.Width, Height: req.Height})
	if err != nil {
		if errors.Is(err, viewport.ErrInvalidSize) {
			h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
			return
		}
		h.log.Error().Err(err).Msg("create session failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to mount session", nil)
		return
	}

	w.Header().Set("Location", "/api/v1/sessions/"+s.ID())
	h.writeJSON(w, http.StatusCreated, s.State())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.ensureSessions(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.sessions.Delete(id); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found", map[string]any{"id": id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterUpdate
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	f, err := catalog.ParseFilter(req.Filter)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid filter", map[string]any{"filter": req.Filter})
		return
	}
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.SetFilter(f); err != nil {
		h.writeSessionError(w, s, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "device_id is required", nil)
		return
	}
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if _, err := s.Select(req.DeviceID); err != nil {
		h.writeSessionError(w, s, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleClosePanel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.ClosePanel(); err != nil {
		h.writeSessionError(w, s, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleRecenter(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.Recenter(); err != nil {
		h.writeSessionError(w, s, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handlePan(w http.ResponseWriter, r *http.Request) {
	var req panRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.Pan(req.DX, req.DY); err != nil {
		h.writeSessionError(w, s, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleSetZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	if req.Zoom == nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "zoom is required", nil)
		return
	}
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.SetZoom(*req.Zoom); err != nil {
		h.writeSessionError(w, s, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}

func (h *Handler) handleResize(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	if !h.decodeOrReject(w, r, &req) {
		return
	}
	s, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if err := s.Resize(geo.Size{Width: req.Width, Height: req.Height}); err != nil {
		h.writeSessionError(w, s, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s.State())
}
