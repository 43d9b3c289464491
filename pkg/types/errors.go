package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidEnvelope   = errors.New("invalid JSON envelope")
	ErrMissingType       = errors.New("envelope missing type tag")
	ErrInvalidUsername   = errors.New("username must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidStatus     = errors.New("status must be one of online, away, busy, offline")
	ErrContentTooLarge   = errors.New("message content exceeds 64KB limit")
	ErrEmptyContent      = errors.New("message content cannot be empty")
	ErrInvalidResourceID = errors.New("resource ID must be 1-64 characters, alphanumeric + underscore/hyphen")
)
