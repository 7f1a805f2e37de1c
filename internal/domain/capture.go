package domain

import "time"

// MessageType classifies what kind of exchange a capture records.
type MessageType string

const (
	MessageChat         MessageType = "chat"
	MessageDeepResearch MessageType = "deep_research"
	MessageImage        MessageType = "image"
	MessageCode         MessageType = "code"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageChat, MessageDeepResearch, MessageImage, MessageCode:
		return true
	}
	return false
}

// Capture is a durable record of one prompt/response exchange.
type Capture struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"sessionId"`
	Provider       Provider          `json:"provider"`
	Prompt         string            `json:"prompt"`
	Response       string            `json:"response"`
	ResponseFormat string            `json:"responseFormat"`
	Model          string            `json:"model,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	TokenCount     int               `json:"tokenCount"`
	Tags           []string          `json:"tags,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	Archived       bool              `json:"archived"`
	MessageType    MessageType       `json:"messageType"`
	Topic          string            `json:"topic,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
}
