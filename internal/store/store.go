// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/akolesov/promptdeck/internal/domain"
)

// CaptureFilter narrows capture listings and search results. Zero values
// mean "no constraint".
type CaptureFilter struct {
	SessionID      string
	Provider       domain.Provider
	MessageType    domain.MessageType
	Topic          string
	ConversationID string
	Archived       *bool
	Limit          int
}

// Stats summarizes store usage for the presentation layer.
type Stats struct {
	TotalSessions    int   `json:"totalSessions"`
	ActiveSessions   int   `json:"activeSessions"`
	TotalCaptures    int   `json:"totalCaptures"`
	ArchivedCaptures int   `json:"archivedCaptures"`
	DiskSizeBytes    int64 `json:"diskSizeBytes"`
}

// Repository defines the interface for persisting sessions and captures.
type Repository interface {
	// CreateSession writes a new session row.
	CreateSession(ctx context.Context, s *domain.Session) error

	// GetSession retrieves a session by id, or nil if absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// GetProviderSession retrieves the provider-kind session for a provider,
	// or nil if none exists. At most one such row exists per provider.
	GetProviderSession(ctx context.Context, p domain.Provider) (*domain.Session, error)

	// ListSessions returns sessions most-recently-active first. Inactive
	// sessions are excluded unless includeInactive is set.
	ListSessions(ctx context.Context, includeInactive bool) ([]*domain.Session, error)

	// UpdateSessionName changes a session's display label.
	UpdateSessionName(ctx context.Context, id, name string) error

	// UpdateLastActive touches a session's last_active_at timestamp.
	UpdateLastActive(ctx context.Context, id string) error

	// UpdateSessionMetadata replaces a session's metadata blob.
	UpdateSessionMetadata(ctx context.Context, id string, metadata map[string]string) error

	// DeleteSession removes a session row; its captures cascade away.
	DeleteSession(ctx context.Context, id string) error

	// CreateCapture writes a new capture row.
	CreateCapture(ctx context.Context, c *domain.Capture) error

	// GetCapture retrieves a capture by id, or nil if absent.
	GetCapture(ctx context.Context, id string) (*domain.Capture, error)

	// ListCaptures returns captures matching the filter, newest first.
	ListCaptures(ctx context.Context, f CaptureFilter) ([]*domain.Capture, error)

	// SearchCaptures runs a ranked full-text query over capture text fields,
	// intersected with the filter's equality constraints.
	SearchCaptures(ctx context.Context, query string, f CaptureFilter) ([]*domain.Capture, error)

	// UpdateTags replaces a capture's ordered tag list.
	UpdateTags(ctx context.Context, id string, tags []string) error

	// UpdateNotes replaces a capture's notes.
	UpdateNotes(ctx context.Context, id, notes string) error

	// SetArchived toggles the "hide but keep" flag.
	SetArchived(ctx context.Context, id string, archived bool) error

	// UpdateMessageType reclassifies a capture.
	UpdateMessageType(ctx context.Context, id string, t domain.MessageType) error

	// UpdateTopic changes a capture's free-text topic.
	UpdateTopic(ctx context.Context, id, topic string) error

	// UpdateCaptureMetadata replaces a capture's metadata blob.
	UpdateCaptureMetadata(ctx context.Context, id string, metadata map[string]string) error

	// DeleteCapture permanently removes a capture. A capture-kind session
	// referencing it cascades away.
	DeleteCapture(ctx context.Context, id string) error

	// GetAllTags returns the deduplicated, sorted tags of all non-archived
	// captures. Malformed tag blobs are skipped, not fatal.
	GetAllTags(ctx context.Context) ([]string, error)

	// GetStats returns session/capture counts and the on-disk store size.
	GetStats(ctx context.Context) (*Stats, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
