package domain

import (
	"encoding/json"
	"time"
)

// SessionKind distinguishes live provider contexts from capture pointers.
type SessionKind string

const (
	// KindProvider is a session backed by a live browsing surface.
	KindProvider SessionKind = "provider"
	// KindCapture is a UI-only session pointing at a single capture.
	KindCapture SessionKind = "capture"
)

// MetadataKeyLastURL is the session metadata key holding the last saved
// navigation target, used to restore the surface after a restart.
const MetadataKeyLastURL = "lastUrl"

// Session is either a live provider context or a pointer to a capture.
type Session struct {
	ID           string            `json:"id"`
	Kind         SessionKind       `json:"kind"`
	Provider     Provider          `json:"provider,omitempty"`
	Name         string            `json:"name"`
	StorageScope string            `json:"storageScope,omitempty"`
	CaptureRef   string            `json:"captureRef,omitempty"`
	URL          string            `json:"url,omitempty"`
	Active       bool              `json:"active"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActiveAt time.Time         `json:"lastActiveAt"`
}

// LastURL returns the saved navigation target, or empty if none was saved.
func (s *Session) LastURL() string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[MetadataKeyLastURL]
}

// MergeMetadata sets key to value, preserving all other metadata keys.
func (s *Session) MergeMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string, 1)
	}
	s.Metadata[key] = value
}

// EncodeMetadata serializes metadata for storage. Empty maps encode to "{}"
// so the stored shape stays predictable for the presentation layer.
func EncodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DecodeMetadata parses a stored metadata blob. Malformed blobs decode to an
// empty map rather than failing the surrounding read.
func DecodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
