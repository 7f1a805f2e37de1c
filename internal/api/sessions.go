package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akolesov/promptdeck/internal/orchestrator"
	"github.com/akolesov/promptdeck/internal/shared"
	"github.com/akolesov/promptdeck/internal/store"
)

// SessionHandler exposes session lifecycle operations.
type SessionHandler struct {
	orch *orchestrator.Orchestrator
	repo store.Repository
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(orch *orchestrator.Orchestrator, repo store.Repository) *SessionHandler {
	return &SessionHandler{orch: orch, repo: repo}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/active", h.Active)
		r.Post("/{id}/activate", h.Activate)
		r.Post("/{id}/state", h.SaveState)
		r.Post("/{id}/capture", h.Capture)
		r.Put("/{id}/name", h.Rename)
		r.Delete("/{id}", h.Delete)
	})
}

// Create makes a provider session, or returns the existing one for the
// provider unchanged.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg orchestrator.CreateConfig
	if err := decode(r, &cfg); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.orch.CreateSession(r.Context(), cfg)
	if err != nil {
		// A navigation rejection still leaves a usable blank session.
		if shared.IsCode(err, shared.ErrLoad) && sess != nil {
			slog.Warn("Session created with failed initial load", "session_id", sess.ID, "error", err)
			JSON(w, http.StatusCreated, sess)
			return
		}
		slog.Error("Failed to create session", "provider", cfg.Provider, "error", err)
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

// List returns sessions most-recently-active first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	sessions, err := h.orch.ListSessions(r.Context(), includeInactive)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, sessions)
}

// Active returns the foregrounded provider session id, or null.
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	id := h.orch.GetActiveSessionID()
	var payload any
	if id != "" {
		payload = id
	}
	JSON(w, http.StatusOK, map[string]any{"activeSessionId": payload})
}

// Activate foregrounds a session.
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.orch.ActivateSession(r.Context(), id) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// SaveState snapshots the session's current URL into its metadata.
func (h *SessionHandler) SaveState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.SaveSessionState(r.Context(), id); err != nil {
		slog.Warn("Failed to save session state", "session_id", id, "error", err)
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Capture extracts and persists the session's current exchange on demand.
func (h *SessionHandler) Capture(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	capture, err := h.orch.CaptureSession(r.Context(), id)
	if err != nil {
		slog.Warn("Manual capture failed", "session_id", id, "error", err)
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusCreated, capture)
}

// Rename changes a session's display label.
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(r, &body); err != nil || body.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.repo.UpdateSessionName(r.Context(), id, body.Name); err != nil {
		StoreError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

// Delete tears a session down, cascading to its captures.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.orch.DeleteSession(r.Context(), id) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
