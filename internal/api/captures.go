package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/akolesov/promptdeck/internal/domain"
	"github.com/akolesov/promptdeck/internal/store"
)

// CaptureHandler exposes read and curation operations over captures.
type CaptureHandler struct {
	repo store.Repository
}

// NewCaptureHandler creates a capture handler.
func NewCaptureHandler(repo store.Repository) *CaptureHandler {
	return &CaptureHandler{repo: repo}
}

// RegisterRoutes registers capture routes.
func (h *CaptureHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/captures", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/search", h.Search)
		r.Get("/{id}", h.Get)
		r.Put("/{id}/tags", h.UpdateTags)
		r.Put("/{id}/notes", h.UpdateNotes)
		r.Put("/{id}/archive", h.SetArchived)
		r.Put("/{id}/message-type", h.UpdateMessageType)
		r.Put("/{id}/topic", h.UpdateTopic)
		r.Delete("/{id}", h.Delete)
	})
	r.Get("/api/tags", h.AllTags)
	r.Get("/api/stats", h.Stats)
}

// filterFromQuery builds a CaptureFilter from request query parameters.
func filterFromQuery(r *http.Request) store.CaptureFilter {
	q := r.URL.Query()
	f := store.CaptureFilter{
		SessionID:      q.Get("session_id"),
		Provider:       domain.Provider(q.Get("provider")),
		MessageType:    domain.MessageType(q.Get("message_type")),
		Topic:          q.Get("topic"),
		ConversationID: q.Get("conversation_id"),
	}
	if v := q.Get("archived"); v != "" {
		archived := v == "true"
		f.Archived = &archived
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			f.Limit = limit
		}
	}
	return f
}

// List returns captures matching the query filters, newest first.
func (h *CaptureHandler) List(w http.ResponseWriter, r *http.Request) {
	captures, err := h.repo.ListCaptures(r.Context(), filterFromQuery(r))
	if err != nil {
		slog.Error("Failed to list captures", "error", err)
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, captures)
}

// Search runs a ranked full-text query intersected with the filters.
func (h *CaptureHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		Error(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	captures, err := h.repo.SearchCaptures(r.Context(), query, filterFromQuery(r))
	if err != nil {
		slog.Error("Search failed", "query", query, "error", err)
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, captures)
}

// Get returns a single capture.
func (h *CaptureHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	capture, err := h.repo.GetCapture(r.Context(), id)
	if err != nil {
		StoreError(w, err)
		return
	}
	if capture == nil {
		Error(w, http.StatusNotFound, "capture not found")
		return
	}
	JSON(w, http.StatusOK, capture)
}

// UpdateTags replaces a capture's tag list.
func (h *CaptureHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.repo.UpdateTags(r.Context(), id, body.Tags); err != nil {
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// UpdateNotes replaces a capture's notes.
func (h *CaptureHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.repo.UpdateNotes(r.Context(), id, body.Notes); err != nil {
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetArchived toggles the "hide but keep" flag.
func (h *CaptureHandler) SetArchived(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Archived bool `json:"archived"`
	}
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.repo.SetArchived(r.Context(), id, body.Archived); err != nil {
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// UpdateMessageType reclassifies a capture.
func (h *CaptureHandler) UpdateMessageType(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		MessageType domain.MessageType `json:"messageType"`
	}
	if err := decode(r, &body); err != nil || !body.MessageType.Valid() {
		Error(w, http.StatusBadRequest, "valid messageType is required")
		return
	}
	if err := h.repo.UpdateMessageType(r.Context(), id, body.MessageType); err != nil {
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// UpdateTopic changes a capture's free-text topic.
func (h *CaptureHandler) UpdateTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Topic string `json:"topic"`
	}
	if err := decode(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.repo.UpdateTopic(r.Context(), id, body.Topic); err != nil {
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Delete permanently removes a capture.
func (h *CaptureHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteCapture(r.Context(), id); err != nil {
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AllTags returns the deduplicated, sorted tags of non-archived captures.
func (h *CaptureHandler) AllTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.repo.GetAllTags(r.Context())
	if err != nil {
		slog.Error("Failed to aggregate tags", "error", err)
		StoreError(w, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	JSON(w, http.StatusOK, tags)
}

// Stats returns store usage counters and the on-disk size.
func (h *CaptureHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.GetStats(r.Context())
	if err != nil {
		slog.Error("Failed to read stats", "error", err)
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}
