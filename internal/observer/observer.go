// Package observer watches a provider session's browsing surface and turns
// finished exchanges into capture events. Detection rides on host
// notifications filtered through a pure heuristic; extraction runs
// per-provider scripts inside the page.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/akolesov/promptdeck/internal/domain"
	"github.com/akolesov/promptdeck/internal/shared"
	"github.com/akolesov/promptdeck/internal/surface"
)

// CaptureEvent is one extracted prompt/response pair, ready to persist.
type CaptureEvent struct {
	SessionID string
	Provider  domain.Provider
	Prompt    string
	Response  string
	Model     string
}

// extracted mirrors the JSON shape the in-page scripts return.
type extracted struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Model    string `json:"model"`
}

// extractionScripts pull the latest exchange out of each provider's DOM.
// Each returns a JSON string {prompt, response, model}; missing fields
// come back empty. The fallback script covers custom providers.
var extractionScripts = map[domain.Provider]string{
	domain.ProviderClaude: `JSON.stringify({
		prompt: (document.querySelectorAll('[data-testid="user-message"]').length ? Array.from(document.querySelectorAll('[data-testid="user-message"]')).pop().innerText : ""),
		response: (document.querySelectorAll('.font-claude-message').length ? Array.from(document.querySelectorAll('.font-claude-message')).pop().innerText : ""),
		model: (document.querySelector('[data-testid="model-selector"]') || {innerText: ""}).innerText
	})`,
	domain.ProviderOpenAI: `JSON.stringify({
		prompt: (document.querySelectorAll('[data-message-author-role="user"]').length ? Array.from(document.querySelectorAll('[data-message-author-role="user"]')).pop().innerText : ""),
		response: (document.querySelectorAll('[data-message-author-role="assistant"]').length ? Array.from(document.querySelectorAll('[data-message-author-role="assistant"]')).pop().innerText : ""),
		model: (document.querySelector('[data-testid="model-switcher-dropdown-button"]') || {innerText: ""}).innerText
	})`,
	domain.ProviderGemini: `JSON.stringify({
		prompt: (document.querySelectorAll('user-query').length ? Array.from(document.querySelectorAll('user-query')).pop().innerText : ""),
		response: (document.querySelectorAll('model-response').length ? Array.from(document.querySelectorAll('model-response')).pop().innerText : ""),
		model: ""
	})`,
}

const fallbackScript = `JSON.stringify({
	prompt: "",
	response: document.body ? document.body.innerText.slice(-20000) : "",
	model: ""
})`

// Observer binds one surface to the auto-capture pipeline. Construct with
// New, call Enable to start consuming notifications, Disable to stop.
// Extraction failures are logged and swallowed; nothing crosses the event
// boundary as a panic or error.
type Observer struct {
	surf        surface.Surface
	sessionID   string
	provider    domain.Provider
	settleDelay time.Duration

	mu      sync.Mutex
	enabled bool
	stopped bool
	cancel  context.CancelFunc

	events chan CaptureEvent
}

// New builds an observer for a provider session's surface.
func New(surf surface.Surface, sessionID string, provider domain.Provider, settleDelay time.Duration) *Observer {
	return &Observer{
		surf:        surf,
		sessionID:   sessionID,
		provider:    provider,
		settleDelay: settleDelay,
		events:      make(chan CaptureEvent, 8),
	}
}

// Events streams capture events produced by notifications or CaptureNow.
func (o *Observer) Events() <-chan CaptureEvent {
	return o.events
}

// Enable starts consuming the surface's notification stream.
func (o *Observer) Enable(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enabled || o.stopped {
		return nil
	}

	notifications := o.surf.Notifications()
	if notifications == nil {
		return shared.NewObserverError("enable", errors.New("surface has no notification stream"))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.enabled = true
	go o.watch(watchCtx, notifications)

	slog.Info("Observer enabled", "session_id", o.sessionID, "provider", o.provider)
	return nil
}

// Disable stops the notification watcher and closes the event stream.
// Terminal: a disabled observer is not re-enabled. Safe to call repeatedly.
func (o *Observer) Disable(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.enabled {
		return nil
	}
	o.cancel()
	o.cancel = nil
	o.enabled = false
	o.stopped = true

	slog.Info("Observer disabled", "session_id", o.sessionID)
	return nil
}

// watch filters notifications through the heuristic and schedules a capture
// after the settle delay, letting trailing UI updates land first. The events
// channel closes when the watcher exits, ending downstream consumers.
func (o *Observer) watch(ctx context.Context, notifications <-chan surface.Notification) {
	defer close(o.events)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if !IsResearchComplete(n.Title, n.Body, o.provider) {
				continue
			}
			slog.Info("Research completion detected",
				"session_id", o.sessionID,
				"title", n.Title,
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(o.settleDelay):
			}

			ev, err := o.extract(ctx)
			if err != nil {
				slog.Error("Auto-capture extraction failed", "session_id", o.sessionID, "error", err)
				continue
			}
			o.emit(ev)
		}
	}
}

// CaptureNow extracts the current exchange immediately, bypassing the
// heuristic and the settle delay. Used for explicit user capture.
func (o *Observer) CaptureNow(ctx context.Context) (CaptureEvent, error) {
	ev, err := o.extract(ctx)
	if err != nil {
		return CaptureEvent{}, shared.NewObserverError("capture", err)
	}
	return ev, nil
}

func (o *Observer) extract(ctx context.Context) (CaptureEvent, error) {
	script, ok := extractionScripts[o.provider]
	if !ok {
		script = fallbackScript
	}

	raw, err := o.surf.Evaluate(ctx, script)
	if err != nil {
		return CaptureEvent{}, err
	}

	var ex extracted
	if err := json.Unmarshal([]byte(raw), &ex); err != nil {
		return CaptureEvent{}, err
	}

	return CaptureEvent{
		SessionID: o.sessionID,
		Provider:  o.provider,
		Prompt:    strings.TrimSpace(ex.Prompt),
		Response:  strings.TrimSpace(ex.Response),
		Model:     strings.TrimSpace(ex.Model),
	}, nil
}

func (o *Observer) emit(ev CaptureEvent) {
	select {
	case o.events <- ev:
	default:
		slog.Warn("Dropping capture event, buffer full", "session_id", o.sessionID)
	}
}
