package types

import (
	"encoding/json"
	"time"
)

// Envelope is the wire unit exchanged over a connection: a type tag plus the
// payload fields that tag uses. Unknown fields are ignored on decode so
// clients can extend payloads without breaking older servers.
type Envelope struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId,omitempty"`

	// Channel messaging (join, message, typing, fetchHistory)
	Team    string `json:"team,omitempty"`
	Channel string `json:"channel,omitempty"`
	Content string `json:"content,omitempty"`

	// Direct messaging (directMessage, joinDirectMessage)
	To string `json:"to,omitempty"`

	// Message acknowledgement (messageAck)
	MessageID string `json:"messageId,omitempty"`

	// Presence (setStatus carries a presence status, messageAck a delivery
	// status; the two sets never overlap)
	Status    string   `json:"status,omitempty"`
	Usernames []string `json:"usernames,omitempty"`

	// Edit locks and file updates
	ResourceID  string `json:"resourceId,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileContent string `json:"fileContent,omitempty"`

	// History pagination
	BeforeID string `json:"beforeId,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// DecodeEnvelope parses one inbound text frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// ErrorEnvelope is sent to the originating connection only, never broadcast.
type ErrorEnvelope struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId,omitempty"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

// Error codes carried in error envelopes.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnknownType  = "unknown_message_type"
	ErrCodeInvalidFrame = "invalid_frame"
	ErrCodeInternal     = "internal_error"
)

// NewErrorEnvelope builds an error envelope correlated to the inbound frame
// that caused it. correlationID may be empty.
func NewErrorEnvelope(correlationID, code, message string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Type:          MessageTypeError,
		CorrelationID: correlationID,
		Code:          code,
		Message:       message,
	}
}

// StatusUpdateEnvelope announces a presence change to team co-members.
type StatusUpdateEnvelope struct {
	Type     string    `json:"type"`
	Username string    `json:"username"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// MessageEnvelope carries a delivered chat message (channel or direct).
type MessageEnvelope struct {
	Type           string    `json:"type"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	MessageID      string    `json:"messageId"`
	Team           string    `json:"team,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	From           string    `json:"from"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// LockEnvelope carries edit-lock grant/denial/release events. Granted is
// meaningful on direct responses; broadcast events set Event instead.
type LockEnvelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId,omitempty"`
	ResourceID    string    `json:"resourceId"`
	Granted       bool      `json:"granted"`
	Event         string    `json:"event,omitempty"`
	LockedBy      string    `json:"lockedBy,omitempty"`
	AcquiredAt    time.Time `json:"acquiredAt,omitempty"`
}

// Lock broadcast events.
const (
	LockEventGranted  = "granted"
	LockEventReleased = "released"
	LockEventExpired  = "expired"
)

// HistoryResponseEnvelope returns one page of persisted messages to the
// requesting connection only.
type HistoryResponseEnvelope struct {
	Type          string         `json:"type"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Messages      []*ChatMessage `json:"messages"`
	HasMore       bool           `json:"hasMore"`
}

// FileEditEnvelope fans out a persisted file-content update to resource
// viewers.
type FileEditEnvelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId,omitempty"`
	ResourceID    string    `json:"resourceId"`
	FileName      string    `json:"fileName"`
	EditedBy      string    `json:"editedBy"`
	Timestamp     time.Time `json:"timestamp"`
}

// TypingEnvelope fans out a transient typing indicator; never persisted.
type TypingEnvelope struct {
	Type           string `json:"type"`
	Team           string `json:"team,omitempty"`
	Channel        string `json:"channel,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Username       string `json:"username"`
}

// AckEnvelope confirms an operation back to the sender.
type AckEnvelope struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId,omitempty"`
	OK            bool   `json:"ok"`
	MessageID     string `json:"messageId,omitempty"`
	Status        string `json:"status,omitempty"`
}

// PongEnvelope answers an application-level ping.
type PongEnvelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
