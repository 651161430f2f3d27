package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrQuit signals that the user asked to leave the console.
	ErrQuit = errors.New("quit requested")

	// ErrAlreadyRunning indicates the console loop is already running.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrShutdown indicates the application has been shut down.
	ErrShutdown = errors.New("application shut down")

	// ErrInitialization indicates an initialization failure.
	ErrInitialization = errors.New("initialization failed")

	// ErrUnknownMode indicates a console mode that does not exist.
	ErrUnknownMode = errors.New("unknown mode")
)

// ComponentError represents an error from a specific component.
type ComponentError struct {
	Component string // Component name (e.g., "config", "lang", "runner")
	Action    string // Action being performed
	Err       error  // Underlying error
}

// NewComponentError creates a new ComponentError.
func NewComponentError(component, action string, err error) *ComponentError {
	return &ComponentError{
		Component: component,
		Action:    action,
		Err:       err,
	}
}

func (e *ComponentError) Error() string {
	if e == nil {
		return ""
	}

	if e.Action != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Component, e.Action, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Component, e.Action)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}

	return e.Component
}

func (e *ComponentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// initError reports a failed startup step. It matches ErrInitialization
// and the underlying cause.
func initError(component, action string, err error) error {
	return fmt.Errorf("%w: %w", ErrInitialization, NewComponentError(component, action, err))
}
