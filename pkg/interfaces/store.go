// Package interfaces defines the collaborator contracts the messaging core
// consumes. Persistence, file storage and token verification live behind
// these interfaces; the core treats every call as fallible, I/O-bound work.
package interfaces

import (
	"context"

	"teamchat/pkg/types"
)

// TokenVerifier verifies a signed bearer token and returns the embedded
// identity. Verification failures map to ErrInvalidToken or ErrTokenExpired.
type TokenVerifier interface {
	VerifyToken(token string) (*types.Identity, error)
}

// ChatStore is the persistence collaborator for teams, channels,
// conversations and messages.
type ChatStore interface {
	// FindTeamAndChannel resolves a team/channel pair and checks the
	// identity's membership. Returns ErrNotFound when either is missing and
	// ErrNotMember when the identity cannot post there.
	FindTeamAndChannel(ctx context.Context, teamName, channelName string, identity *types.Identity) (*types.Team, *types.Channel, error)

	// FindOrCreateDirectConversation returns the conversation between the
	// identity and peerUsername within a team, creating it on first use.
	FindOrCreateDirectConversation(ctx context.Context, identity *types.Identity, teamName, peerUsername string) (*types.Conversation, error)

	// TeamsOf returns the names of teams the username belongs to.
	TeamsOf(ctx context.Context, username string) ([]string, error)

	// MembersOf returns the usernames of all members of the named team.
	MembersOf(ctx context.Context, teamName string) ([]string, error)

	// ChannelMembers returns the usernames entitled to a channel's traffic.
	ChannelMembers(ctx context.Context, teamName, channelName string) ([]string, error)

	// ChannelMembersByID is ChannelMembers keyed by channel id, for callers
	// holding a persisted message rather than a join context.
	ChannelMembersByID(ctx context.Context, channelID string) ([]string, error)

	// GetConversation fetches a direct conversation by id.
	GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error)

	SendChannelMessage(ctx context.Context, msg *types.ChatMessage) error
	SendDirectMessage(ctx context.Context, msg *types.ChatMessage) error
	UpdateMessageStatus(ctx context.Context, messageID, status string) error
	GetMessagesByCriteria(ctx context.Context, criteria *types.HistoryCriteria) ([]*types.ChatMessage, error)

	// GetMessage fetches one persisted message by id.
	GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// FileStore is the attachment storage collaborator.
type FileStore interface {
	SaveFile(ctx context.Context, name string, content []byte) error
	GetFilePath(ctx context.Context, name string) (string, error)
}
