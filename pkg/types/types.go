package types

import (
	"time"
)

// Inbound envelope type tags. The router rejects anything outside this set.
const (
	MessageTypeJoin                  = "join"
	MessageTypeMessage               = "message"
	MessageTypeDirectMessage         = "directMessage"
	MessageTypeJoinDirectMessage     = "joinDirectMessage"
	MessageTypePing                  = "ping"
	MessageTypeSubscribeOnlineStatus = "subscribeOnlineStatus"
	MessageTypeSetStatus             = "setStatus"
	MessageTypeTyping                = "typing"
	MessageTypeMessageAck            = "messageAck"
	MessageTypeFetchHistory          = "fetchHistory"
	MessageTypeRequestEditLock       = "requestEditLock"
	MessageTypeReleaseEditLock       = "releaseEditLock"
	MessageTypeUpdateFileContent     = "updateFileContent"
)

// Outbound-only envelope type tags.
const (
	MessageTypeStatusUpdate    = "statusUpdate"
	MessageTypeError           = "error"
	MessageTypePong            = "pong"
	MessageTypeFileEditHistory = "fileEditHistory"
	MessageTypeHistoryResponse = "historyResponse"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// User roles carried in the signed token.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the authenticated principal attached to a connection after
// token verification. Immutable once set; never populated from client fields.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Team groups users; team membership drives presence fan-out.
type Team struct {
	ID      string   `json:"id" db:"id"`
	Name    string   `json:"name" db:"name"`
	Members []string `json:"members" db:"members"`
}

// Channel is a named channel within a team.
type Channel struct {
	ID      string   `json:"id" db:"id"`
	TeamID  string   `json:"team_id" db:"team_id"`
	Name    string   `json:"name" db:"name"`
	Members []string `json:"members" db:"members"`
}

// Conversation is a direct-message conversation between two users in a team.
type Conversation struct {
	ID           string   `json:"id" db:"id"`
	TeamID       string   `json:"team_id" db:"team_id"`
	Participants []string `json:"participants" db:"participants"`
}

// ChatMessage is a persisted message. Exactly one of ChannelID and
// ConversationID is set.
type ChatMessage struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	FromUser       string    `json:"from_user"`
	Content        string    `json:"content"`
	FileName       string    `json:"file_name,omitempty"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// Message delivery statuses reported through messageAck.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// PresenceRecord is the cached presence state for one username.
type PresenceRecord struct {
	Username    string    `json:"username"`
	Status      string    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	Connections int       `json:"-"`
}

// LockStatus reports the state of an edit lock on a shared file resource.
type LockStatus struct {
	ResourceID string    `json:"resource_id"`
	Locked     bool      `json:"locked"`
	Holder     string    `json:"holder,omitempty"`
	AcquiredAt time.Time `json:"acquired_at,omitempty"`
}

// HistoryCriteria selects a page of persisted messages.
type HistoryCriteria struct {
	ChannelID      string
	ConversationID string
	BeforeID       string
	Limit          int
}
