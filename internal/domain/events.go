package domain

// Broadcast event types fanned out to all presentation surfaces.
const (
	EventSessionCreated     = "session-created"
	EventSessionDeleted     = "session-deleted"
	EventCaptureAutoCreated = "capture-auto-created"
)

// Event is a lifecycle broadcast. Payloads carry identifiers only; the
// presentation layer re-reads whatever detail it needs.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	CaptureID string `json:"captureId,omitempty"`
}
