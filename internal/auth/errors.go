package auth

import "errors"

var (
	ErrNoSecret       = errors.New("jwt secret not configured")
	ErrMissingSubject = errors.New("identity user id required")
)
