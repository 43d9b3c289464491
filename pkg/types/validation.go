package types

import (
	"regexp"
)

// Compiled once; validation runs on every inbound frame.
var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	resourceRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const maxContentBytes = 65536 // 64KB

// IsValidUsername checks a username against format requirements.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	return usernameRegex.MatchString(username)
}

// IsValidResourceID checks an edit-lock resource identifier.
func IsValidResourceID(resourceID string) bool {
	if len(resourceID) < 1 || len(resourceID) > 64 {
		return false
	}
	return resourceRegex.MatchString(resourceID)
}

// IsValidPresenceStatus checks a client-settable presence status. Clients may
// set away and busy; online and offline are derived from connection count.
func IsValidPresenceStatus(status string) bool {
	switch status {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	default:
		return false
	}
}

// IsInboundType reports whether the type tag is one the router dispatches.
func IsInboundType(msgType string) bool {
	switch msgType {
	case MessageTypeJoin,
		MessageTypeMessage,
		MessageTypeDirectMessage,
		MessageTypeJoinDirectMessage,
		MessageTypePing,
		MessageTypeSubscribeOnlineStatus,
		MessageTypeSetStatus,
		MessageTypeTyping,
		MessageTypeMessageAck,
		MessageTypeFetchHistory,
		MessageTypeRequestEditLock,
		MessageTypeReleaseEditLock,
		MessageTypeUpdateFileContent:
		return true
	default:
		return false
	}
}

// ValidateContent enforces the non-empty, bounded-size rule for message and
// file payloads.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > maxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}
