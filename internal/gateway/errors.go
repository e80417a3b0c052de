// Package gateway implements the real-time connection core: the WebSocket adapter (C2), heartbeat controller (C3),
// handshake coordinator (C4), session task (C5), connected-users registry (C6), fan-out dispatcher (C7), and
// resumable-session eviction loop (C8).
package gateway

import "errors"

// Sentinel errors for gateway failure modes not otherwise carried as a *CloseError.
var (
	ErrUserNotConnected  = errors.New("user has no live sessions")
	ErrSessionNotFound   = errors.New("session not found in registry")
	ErrAdapterClosed     = errors.New("connection adapter is closed")
	ErrHandshakeTimeout  = errors.New("handshake: no frame received within the timeout")
	ErrHandshakeRejected = errors.New("handshake: client sent an opcode other than heartbeat, identify, or resume")
)

// CloseError pairs a WebSocket close code with a human-readable reason. The handshake and session tasks do not
// construct it: they write close frames directly through Conn.WriteClose.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return e.Reason
}

func newCloseError(code int, reason string) *CloseError {
	return &CloseError{Code: code, Reason: reason}
}
