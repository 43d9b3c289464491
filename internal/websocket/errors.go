package websocket

import "errors"

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry errors.
var (
	ErrNilConnection      = errors.New("connection cannot be nil")
	ErrNotAuthenticated   = errors.New("connection must be authenticated before registration")
	ErrTooManyConnections = errors.New("too many concurrent connections for this user")
)

// Close codes sent with a reason string. 1000 covers normal close and the
// missing-token case; 3000/4000 are the custom policy codes clients know.
const (
	CloseCodeNormal        = 1000
	CloseCodeUnauthorized  = 3000
	CloseCodeTooManyConns  = 4000
)
