package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/akolesov/promptdeck/internal/domain"
	"github.com/akolesov/promptdeck/internal/events"
	"github.com/akolesov/promptdeck/internal/orchestrator"
	"github.com/akolesov/promptdeck/internal/store"
	"github.com/akolesov/promptdeck/internal/surface"
)

// stubSurface fulfils the surface contract without a browser.
type stubSurface struct {
	loadCh chan error
	url    string
	notes  chan surface.Notification
}

func newStubSurface() *stubSurface {
	return &stubSurface{notes: make(chan surface.Notification, 1)}
}

func (s *stubSurface) WatchLoad() <-chan error {
	s.loadCh = make(chan error, 1)
	return s.loadCh
}

func (s *stubSurface) Navigate(_ context.Context, url string) error {
	s.url = url
	s.loadCh <- nil
	return nil
}

func (s *stubSurface) CurrentURL(context.Context) (string, error) { return s.url, nil }

func (s *stubSurface) Evaluate(context.Context, string) (string, error) {
	return `{"prompt":"q","response":"a","model":"m"}`, nil
}

func (s *stubSurface) SetVisible(context.Context, bool) error { return nil }

func (s *stubSurface) Notifications() <-chan surface.Notification { return s.notes }

func (s *stubSurface) Close() error { return nil }

type stubHost struct{}

func (stubHost) Provision(context.Context, string) (surface.Surface, error) {
	return newStubSurface(), nil
}
func (stubHost) Release(context.Context, string, bool) error    { return nil }
func (stubHost) EnsureNetwork(context.Context) (string, error) { return "net", nil }

func newTestRouter(t *testing.T) (chi.Router, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	orch := orchestrator.New(repo, stubHost{}, events.NewHub(), time.Millisecond)

	r := chi.NewRouter()
	NewSessionHandler(orch, repo).RegisterRoutes(r)
	NewCaptureHandler(repo).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)
	return r, repo
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope from %s %s: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec, envelope
}

func envelopeSuccess(t *testing.T, envelope map[string]json.RawMessage) bool {
	t.Helper()
	var ok bool
	if err := json.Unmarshal(envelope["success"], &ok); err != nil {
		t.Fatalf("decode success flag: %v", err)
	}
	return ok
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, envelope := doJSON(t, r, http.MethodPost, "/api/sessions", map[string]string{"provider": "claude"})
	if rec.Code != http.StatusCreated || !envelopeSuccess(t, envelope) {
		t.Fatalf("create: code %d body %s", rec.Code, rec.Body.String())
	}
	var sess domain.Session
	if err := json.Unmarshal(envelope["data"], &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	// Idempotent: the same provider returns the same session.
	_, envelope = doJSON(t, r, http.MethodPost, "/api/sessions", map[string]string{"provider": "claude"})
	var again domain.Session
	if err := json.Unmarshal(envelope["data"], &again); err != nil {
		t.Fatalf("decode second session: %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("expected same session, got %s and %s", sess.ID, again.ID)
	}

	rec, _ = doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.ID+"/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: %d", rec.Code)
	}

	_, envelope = doJSON(t, r, http.MethodGet, "/api/sessions/active", nil)
	var active struct {
		ActiveSessionID string `json:"activeSessionId"`
	}
	if err := json.Unmarshal(envelope["data"], &active); err != nil {
		t.Fatalf("decode active: %v", err)
	}
	if active.ActiveSessionID != sess.ID {
		t.Errorf("active = %q, want %q", active.ActiveSessionID, sess.ID)
	}

	rec, _ = doJSON(t, r, http.MethodPut, "/api/sessions/"+sess.ID+"/name", map[string]string{"name": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename: %d", rec.Code)
	}

	_, envelope = doJSON(t, r, http.MethodGet, "/api/sessions", nil)
	var sessions []domain.Session
	if err := json.Unmarshal(envelope["data"], &sessions); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "Renamed" {
		t.Errorf("list = %+v", sessions)
	}

	rec, _ = doJSON(t, r, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec, envelope = doJSON(t, r, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusNotFound || envelopeSuccess(t, envelope) {
		t.Errorf("second delete: code %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateSessionRejectsUnknownProvider(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, envelope := doJSON(t, r, http.MethodPost, "/api/sessions", map[string]string{"provider": "frontier"})
	if rec.Code == http.StatusCreated || envelopeSuccess(t, envelope) {
		t.Errorf("expected failure, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestManualCaptureEndpoint(t *testing.T) {
	r, repo := newTestRouter(t)

	_, envelope := doJSON(t, r, http.MethodPost, "/api/sessions", map[string]string{"provider": "openai"})
	var sess domain.Session
	if err := json.Unmarshal(envelope["data"], &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	rec, envelope := doJSON(t, r, http.MethodPost, "/api/sessions/"+sess.ID+"/capture", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("capture: %d %s", rec.Code, rec.Body.String())
	}
	var capture domain.Capture
	if err := json.Unmarshal(envelope["data"], &capture); err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if capture.Prompt != "q" || capture.Response != "a" {
		t.Errorf("capture = %+v", capture)
	}

	row, err := repo.GetCapture(context.Background(), capture.ID)
	if err != nil || row == nil {
		t.Fatalf("capture row missing: %v", err)
	}
}

func TestCaptureCurationEndpoints(t *testing.T) {
	r, repo := newTestRouter(t)
	ctx := context.Background()

	now := time.Now()
	if err := repo.CreateSession(ctx, &domain.Session{
		ID: "s1", Kind: domain.KindProvider, Provider: domain.ProviderClaude,
		Name: "claude", StorageScope: "scope-1", Active: true,
		CreatedAt: now, LastActiveAt: now,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := repo.CreateCapture(ctx, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "explain generics", Response: "type parameters", Timestamp: now,
	}); err != nil {
		t.Fatalf("seed capture: %v", err)
	}

	rec, _ := doJSON(t, r, http.MethodPut, "/api/captures/c1/tags", map[string][]string{"tags": {"go", "generics"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("tags: %d", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodPut, "/api/captures/c1/notes", map[string]string{"notes": "good answer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("notes: %d", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodPut, "/api/captures/c1/message-type", map[string]string{"messageType": "code"})
	if rec.Code != http.StatusOK {
		t.Fatalf("message-type: %d", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodPut, "/api/captures/c1/message-type", map[string]string{"messageType": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus message-type accepted: %d", rec.Code)
	}
	rec, _ = doJSON(t, r, http.MethodPut, "/api/captures/c1/archive", map[string]bool{"archived": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("archive: %d", rec.Code)
	}

	_, envelope := doJSON(t, r, http.MethodGet, "/api/captures/c1", nil)
	var capture domain.Capture
	if err := json.Unmarshal(envelope["data"], &capture); err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if !capture.Archived || capture.Notes != "good answer" || capture.MessageType != domain.MessageCode {
		t.Errorf("capture = %+v", capture)
	}

	// Archived captures drop out of the tag aggregate.
	_, envelope = doJSON(t, r, http.MethodGet, "/api/tags", nil)
	var tags []string
	if err := json.Unmarshal(envelope["data"], &tags); err != nil {
		t.Fatalf("decode tags: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v", tags)
	}

	rec, _ = doJSON(t, r, http.MethodPut, "/api/captures/missing/notes", map[string]string{"notes": "x"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing capture: %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	r, repo := newTestRouter(t)
	ctx := context.Background()

	now := time.Now()
	if err := repo.CreateSession(ctx, &domain.Session{
		ID: "s1", Kind: domain.KindProvider, Provider: domain.ProviderClaude,
		Name: "claude", StorageScope: "scope-1", Active: true,
		CreatedAt: now, LastActiveAt: now,
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := repo.CreateCapture(ctx, &domain.Capture{
		ID: "c1", SessionID: "s1", Provider: domain.ProviderClaude,
		Prompt: "types", Response: "TypeScript adds static types", Timestamp: now,
	}); err != nil {
		t.Fatalf("seed capture: %v", err)
	}

	_, envelope := doJSON(t, r, http.MethodGet, "/api/captures/search?q=TypeScript", nil)
	var results []domain.Capture
	if err := json.Unmarshal(envelope["data"], &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Errorf("results = %+v", results)
	}

	_, envelope = doJSON(t, r, http.MethodGet, "/api/captures/search?q=TypeScript&provider=openai", nil)
	results = nil
	if raw, ok := envelope["data"]; ok {
		if err := json.Unmarshal(raw, &results); err != nil {
			t.Fatalf("decode filtered results: %v", err)
		}
	}
	if len(results) != 0 {
		t.Errorf("filtered results = %+v", results)
	}

	rec, _ := doJSON(t, r, http.MethodGet, "/api/captures/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing query accepted: %d", rec.Code)
	}
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, envelope := doJSON(t, r, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK || !envelopeSuccess(t, envelope) {
		t.Fatalf("stats: %d %s", rec.Code, rec.Body.String())
	}
	var stats store.Stats
	if err := json.Unmarshal(envelope["data"], &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.DiskSizeBytes <= 0 {
		t.Errorf("disk size = %d", stats.DiskSizeBytes)
	}

	rec, envelope = doJSON(t, r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || !envelopeSuccess(t, envelope) {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}
}
