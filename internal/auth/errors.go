package auth

import "errors"

// ErrInvalidToken is returned when a presented access token is malformed, expired, or fails signature verification.
var ErrInvalidToken = errors.New("invalid or expired token")
