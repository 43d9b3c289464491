package interfaces

import "errors"

// Collaborator error values. Handlers map these onto the wire-level error
// taxonomy; anything else is treated as an internal failure.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNotFound     = errors.New("not found")
	ErrNotMember    = errors.New("user is not a member of this resource")
)
