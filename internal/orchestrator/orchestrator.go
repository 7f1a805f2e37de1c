// Package orchestrator owns the lifecycle of every session: creation,
// exclusive activation, persistence, restoration and teardown. It is the
// only writer of session rows and the single consumer of observer capture
// events.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/akolesov/promptdeck/internal/domain"
	"github.com/akolesov/promptdeck/internal/events"
	"github.com/akolesov/promptdeck/internal/observer"
	"github.com/akolesov/promptdeck/internal/shared"
	"github.com/akolesov/promptdeck/internal/store"
	"github.com/akolesov/promptdeck/internal/surface"
)

// CreateConfig describes a session to create.
type CreateConfig struct {
	Provider domain.Provider `json:"provider"`
	Name     string          `json:"name"`
	URL      string          `json:"url,omitempty"`
}

// Orchestrator mediates between the store, the surface host and the
// observers. All lifecycle operations are serialized through one mutex;
// surface provisioning runs outside it so parallel creates for distinct
// providers proceed concurrently.
type Orchestrator struct {
	repo        store.Repository
	host        surface.Host
	broadcaster events.Broadcaster
	settleDelay time.Duration

	mu  sync.Mutex
	reg *registry

	wg sync.WaitGroup
}

// New builds an orchestrator with a fresh, empty registry.
func New(repo store.Repository, host surface.Host, broadcaster events.Broadcaster, settleDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		host:        host,
		broadcaster: broadcaster,
		settleDelay: settleDelay,
		reg:         newRegistry(),
	}
}

// CreateSession creates a provider session, or returns the existing one
// unchanged when the provider already has a session. A navigation rejection
// yields a LoadError but leaves the row and the blank surface in place.
func (o *Orchestrator) CreateSession(ctx context.Context, cfg CreateConfig) (*domain.Session, error) {
	if !cfg.Provider.Valid() {
		return nil, shared.NewStoreError("create session", fmt.Errorf("unknown provider %q", cfg.Provider))
	}

	existing, err := o.repo.GetProviderSession(ctx, cfg.Provider)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Info("Session already exists for provider", "provider", cfg.Provider, "session_id", existing.ID)
		return existing, nil
	}

	name := cfg.Name
	if name == "" {
		name = string(cfg.Provider)
	}
	url := cfg.URL
	if url == "" {
		url = cfg.Provider.DefaultURL()
	}

	now := time.Now()
	sess := &domain.Session{
		ID:           uuid.NewString(),
		Kind:         domain.KindProvider,
		Provider:     cfg.Provider,
		Name:         name,
		StorageScope: uuid.NewString(),
		URL:          url,
		Active:       true,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	if err := o.repo.CreateSession(ctx, sess); err != nil {
		// A concurrent create for the same provider hits the unique index;
		// collapse onto whichever row won.
		if winner, getErr := o.repo.GetProviderSession(ctx, cfg.Provider); getErr == nil && winner != nil {
			slog.Info("Concurrent create collapsed", "provider", cfg.Provider, "session_id", winner.ID)
			return winner, nil
		}
		return nil, err
	}

	if err := o.attachSurface(ctx, sess, url); err != nil {
		return sess, err
	}

	o.broadcaster.Publish(domain.Event{Type: domain.EventSessionCreated, SessionID: sess.ID})
	slog.Info("Session created", "session_id", sess.ID, "provider", cfg.Provider)
	return sess, nil
}

// attachSurface provisions, navigates and wires the observer for a provider
// session. The load waiter is registered strictly before navigation so the
// signal cannot be missed.
func (o *Orchestrator) attachSurface(ctx context.Context, sess *domain.Session, url string) error {
	surf, err := o.host.Provision(ctx, sess.StorageScope)
	if err != nil {
		return fmt.Errorf("provision surface for %s: %w", sess.ID, err)
	}

	obs := observer.New(surf, sess.ID, sess.Provider, o.settleDelay)

	o.mu.Lock()
	o.reg.bind(sess.ID, sess.StorageScope, surf, obs)
	o.mu.Unlock()

	loaded := surf.WatchLoad()

	if err := surf.Navigate(ctx, url); err != nil {
		return shared.NewLoadError(url, err)
	}
	select {
	case err := <-loaded:
		if err != nil {
			return shared.NewLoadError(url, err)
		}
	case <-ctx.Done():
		return shared.NewLoadError(url, ctx.Err())
	}

	if err := obs.Enable(ctx); err != nil {
		slog.Error("Observer enable failed", "session_id", sess.ID, "error", err)
	} else {
		o.wg.Add(1)
		go o.consumeCaptureEvents(obs)
	}
	return nil
}

// ActivateSession foregrounds a session. Capture sessions only get their
// lastActiveAt touched. Returns false for unknown ids; never errors out.
func (o *Orchestrator) ActivateSession(ctx context.Context, id string) bool {
	sess, err := o.repo.GetSession(ctx, id)
	if err != nil || sess == nil {
		return false
	}

	if sess.Kind == domain.KindCapture {
		if err := o.repo.UpdateLastActive(ctx, id); err != nil {
			slog.Warn("Failed to touch capture session", "session_id", id, "error", err)
		}
		return true
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	surf, ok := o.reg.surfaces[id]
	if !ok {
		return false
	}

	// Hide the current surface before showing the target; at most one
	// surface is ever visible.
	if current := o.reg.activeID; current != "" && current != id {
		if prev, ok := o.reg.surfaces[current]; ok {
			if err := prev.SetVisible(ctx, false); err != nil {
				slog.Warn("Failed to hide surface", "session_id", current, "error", err)
			}
		}
	}
	if err := surf.SetVisible(ctx, true); err != nil {
		slog.Warn("Failed to show surface", "session_id", id, "error", err)
	}
	o.reg.activeID = id

	if err := o.repo.UpdateLastActive(ctx, id); err != nil {
		slog.Warn("Failed to touch session", "session_id", id, "error", err)
	}
	return true
}

// DeleteSession tears a session down. Observer failures are swallowed;
// deletion always proceeds to the row (captures cascade away). Returns
// false, after a best-effort row delete, when the session holds no live
// resources and no capture row backs it.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) bool {
	sess, err := o.repo.GetSession(ctx, id)
	if err != nil {
		slog.Warn("Failed to read session before delete", "session_id", id, "error", err)
	}

	if sess != nil && sess.Kind == domain.KindCapture {
		if err := o.repo.DeleteSession(ctx, id); err != nil {
			slog.Warn("Failed to delete capture session row", "session_id", id, "error", err)
			return false
		}
		o.broadcaster.Publish(domain.Event{Type: domain.EventSessionDeleted, SessionID: id})
		return true
	}

	o.mu.Lock()
	known := o.reg.known(id)
	var surf surface.Surface
	var obs *observer.Observer
	var scope string
	if known {
		surf = o.reg.surfaces[id]
		obs = o.reg.observers[id]
		scope = o.reg.scopes[id]
		if o.reg.activeID == id {
			if err := surf.SetVisible(ctx, false); err != nil {
				slog.Warn("Failed to hide surface before delete", "session_id", id, "error", err)
			}
		}
		o.reg.unbind(id)
	}
	o.mu.Unlock()

	if known {
		if err := obs.Disable(ctx); err != nil {
			slog.Warn("Observer disable failed during delete", "session_id", id, "error", err)
		}
		if err := surf.Close(); err != nil {
			slog.Warn("Surface close failed during delete", "session_id", id, "error", err)
		}
		// Scopes are never reused after deletion; purge the partition.
		if err := o.host.Release(ctx, scope, true); err != nil {
			slog.Warn("Surface release failed during delete", "session_id", id, "error", err)
		}
	}

	if err := o.repo.DeleteSession(ctx, id); err != nil {
		if !shared.IsCode(err, shared.ErrNotFound) {
			slog.Warn("Failed to delete session row", "session_id", id, "error", err)
		}
	}
	o.broadcaster.Publish(domain.Event{Type: domain.EventSessionDeleted, SessionID: id})

	if !known {
		slog.Warn("Delete for session without live resources", "session_id", id)
		return false
	}
	slog.Info("Session deleted", "session_id", id)
	return true
}

// ListSessions is a pass-through read, most-recently-active first.
func (o *Orchestrator) ListSessions(ctx context.Context, includeInactive bool) ([]*domain.Session, error) {
	return o.repo.ListSessions(ctx, includeInactive)
}

// GetActiveSessionID returns the foregrounded provider session id, or "".
func (o *Orchestrator) GetActiveSessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reg.activeID
}

// SaveSessionState reads the surface's current URL and merges it into the
// session's metadata under lastUrl, preserving other keys.
func (o *Orchestrator) SaveSessionState(ctx context.Context, id string) error {
	o.mu.Lock()
	surf, ok := o.reg.surfaces[id]
	o.mu.Unlock()
	if !ok {
		return shared.NewNotFound("session", id)
	}

	url, err := surf.CurrentURL(ctx)
	if err != nil {
		return shared.NewObserverError("read current url", err)
	}

	sess, err := o.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return shared.NewNotFound("session", id)
	}

	sess.MergeMetadata(domain.MetadataKeyLastURL, url)
	return o.repo.UpdateSessionMetadata(ctx, id, sess.Metadata)
}

// CaptureSession extracts the current exchange on demand and persists it.
func (o *Orchestrator) CaptureSession(ctx context.Context, id string) (*domain.Capture, error) {
	o.mu.Lock()
	obs, ok := o.reg.observers[id]
	o.mu.Unlock()
	if !ok {
		return nil, shared.NewNotFound("session", id)
	}

	ev, err := obs.CaptureNow(ctx)
	if err != nil {
		return nil, err
	}
	return o.persistCapture(ctx, ev, domain.MessageChat)
}

// LoadPersistedSessions reprovisions a surface for every active provider
// session using its original storage scope, so stored cookies and logins
// survive restarts. Per-session failures are logged and skipped.
func (o *Orchestrator) LoadPersistedSessions(ctx context.Context) error {
	sessions, err := o.repo.ListSessions(ctx, false)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if sess.Kind != domain.KindProvider {
			continue
		}
		url := sess.LastURL()
		if url == "" {
			url = sess.URL
		}
		if url == "" {
			url = sess.Provider.DefaultURL()
		}
		if err := o.attachSurface(ctx, sess, url); err != nil {
			slog.Error("Failed to restore session", "session_id", sess.ID, "provider", sess.Provider, "error", err)
			continue
		}
		slog.Info("Session restored", "session_id", sess.ID, "provider", sess.Provider)
	}
	return nil
}

// Destroy saves state and releases every live surface. Best-effort: every
// step runs even when earlier ones fail. Storage partitions are kept for
// the next startup.
func (o *Orchestrator) Destroy(ctx context.Context) {
	o.mu.Lock()
	ids := o.reg.ids()
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.SaveSessionState(ctx, id); err != nil {
			slog.Warn("Failed to save session state during shutdown", "session_id", id, "error", err)
		}

		o.mu.Lock()
		surf := o.reg.surfaces[id]
		obs := o.reg.observers[id]
		scope := o.reg.scopes[id]
		o.reg.unbind(id)
		o.mu.Unlock()

		if obs != nil {
			if err := obs.Disable(ctx); err != nil {
				slog.Warn("Observer disable failed during shutdown", "session_id", id, "error", err)
			}
		}
		if surf != nil {
			if err := surf.Close(); err != nil {
				slog.Warn("Surface close failed during shutdown", "session_id", id, "error", err)
			}
		}
		if err := o.host.Release(ctx, scope, false); err != nil {
			slog.Warn("Surface release failed during shutdown", "session_id", id, "error", err)
		}
	}

	o.wg.Wait()
	slog.Info("Orchestrator destroyed", "released", len(ids))
}

// consumeCaptureEvents drains one observer's event stream for its lifetime.
func (o *Orchestrator) consumeCaptureEvents(obs *observer.Observer) {
	defer o.wg.Done()
	for ev := range obs.Events() {
		o.handleAutoCapture(ev)
	}
}

// handleAutoCapture persists an observer-triggered capture. Events for
// session ids no longer in the registry are dropped so a half-disabled
// observer cannot write orphaned rows. Never propagates errors.
func (o *Orchestrator) handleAutoCapture(ev observer.CaptureEvent) {
	o.mu.Lock()
	known := o.reg.known(ev.SessionID)
	o.mu.Unlock()
	if !known {
		slog.Debug("Dropping capture event for removed session", "session_id", ev.SessionID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	capture, err := o.persistCapture(ctx, ev, domain.MessageDeepResearch)
	if err != nil {
		slog.Error("Auto-capture persist failed", "session_id", ev.SessionID, "error", err)
		return
	}
	slog.Info("Auto-capture created", "capture_id", capture.ID, "session_id", ev.SessionID)
}

func (o *Orchestrator) persistCapture(ctx context.Context, ev observer.CaptureEvent, mt domain.MessageType) (*domain.Capture, error) {
	capture := &domain.Capture{
		ID:          ulid.Make().String(),
		SessionID:   ev.SessionID,
		Provider:    ev.Provider,
		Prompt:      ev.Prompt,
		Response:    ev.Response,
		Model:       ev.Model,
		Timestamp:   time.Now(),
		TokenCount:  estimateTokens(ev.Prompt) + estimateTokens(ev.Response),
		MessageType: mt,
	}
	if err := o.repo.CreateCapture(ctx, capture); err != nil {
		return nil, err
	}

	if mt == domain.MessageDeepResearch {
		o.broadcaster.Publish(domain.Event{
			Type:      domain.EventCaptureAutoCreated,
			SessionID: ev.SessionID,
			CaptureID: capture.ID,
		})
	}
	return capture, nil
}

// estimateTokens approximates the token count at four characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}
