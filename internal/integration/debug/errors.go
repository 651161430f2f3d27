package debug

import "errors"

// Sentinel errors for the debug package.
var (
	// ErrSessionStarted is returned when Start is called more than once.
	ErrSessionStarted = errors.New("debug session already started")

	// ErrSessionStopped is returned when Start is called after Stop.
	ErrSessionStopped = errors.New("debug session stopped")

	// ErrBootstrap is returned when the launcher's port announcement is
	// malformed.
	ErrBootstrap = errors.New("invalid debugger bootstrap line")

	// ErrMalformedMessage is returned for control lines that cannot be
	// decoded.
	ErrMalformedMessage = errors.New("malformed control message")
)
