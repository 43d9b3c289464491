package router

import "errors"

// Router error values. Dispatch maps these (and the collaborator errors they
// wrap) onto wire-level error envelopes.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrNotAuthorized      = errors.New("not authorized for this resource")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrMissingTeam        = errors.New("team is required")
	ErrMissingChannel     = errors.New("channel is required")
	ErrMissingRecipient   = errors.New("recipient is required")
	ErrMissingMessageID   = errors.New("message id is required")
	ErrMissingResource    = errors.New("resource id is required")
	ErrNoChannelContext   = errors.New("no channel or conversation joined")
	ErrLockRequired       = errors.New("edit lock required to update file content")
)
