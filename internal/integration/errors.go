package integration

import "errors"

// Sentinel errors for the integration package.
var (
	// ErrRunnerClosed is returned when actions are attempted after Shutdown.
	ErrRunnerClosed = errors.New("runner is shut down")

	// ErrNoFile is returned when Run or Step has no saved file to work on.
	ErrNoFile = errors.New("no saved file")

	// ErrNoInterpreter is returned when no interpreter command is available.
	ErrNoInterpreter = errors.New("no interpreter available")
)
