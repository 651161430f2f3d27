// Package interp picks the Python interpreter sessions run with.
package interp

import (
	"errors"
	"fmt"
	"os/exec"
)

// DefaultCandidates are tried in order when no command is configured.
var DefaultCandidates = []string{"python3", "python", "python2"}

// ErrNoInterpreter is returned when no candidate is installed.
var ErrNoInterpreter = errors.New("no python interpreter found")

// Interpreter is an installed interpreter command.
type Interpreter struct {
	// Name is the command as configured, such as "python3".
	Name string

	// Path is the resolved executable.
	Path string
}

// LookPathFunc resolves a command name to an executable path.
type LookPathFunc func(file string) (string, error)

// Chooser resolves the interpreter command.
type Chooser struct {
	command    string
	candidates []string
	lookPath   LookPathFunc
}

// Option configures a Chooser.
type Option func(*Chooser)

// WithCommand sets an explicit interpreter. It wins over the candidates.
func WithCommand(command string) Option {
	return func(c *Chooser) {
		c.command = command
	}
}

// WithCandidates replaces the candidate list, highest priority first.
func WithCandidates(candidates []string) Option {
	return func(c *Chooser) {
		if len(candidates) > 0 {
			c.candidates = append([]string(nil), candidates...)
		}
	}
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn LookPathFunc) Option {
	return func(c *Chooser) {
		if fn != nil {
			c.lookPath = fn
		}
	}
}

// NewChooser creates a Chooser.
func NewChooser(opts ...Option) *Chooser {
	c := &Chooser{
		candidates: DefaultCandidates,
		lookPath:   exec.LookPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available returns the installed candidates in priority order.
func (c *Chooser) Available() []Interpreter {
	var found []Interpreter
	for _, name := range c.candidates {
		if path, err := c.lookPath(name); err == nil {
			found = append(found, Interpreter{Name: name, Path: path})
		}
	}
	return found
}

// Resolve returns the interpreter to use: the configured command if set,
// otherwise the highest-priority installed candidate.
func (c *Chooser) Resolve() (Interpreter, error) {
	if c.command != "" {
		path, err := c.lookPath(c.command)
		if err != nil {
			return Interpreter{}, fmt.Errorf("%w: %s: %w", ErrNoInterpreter, c.command, err)
		}
		return Interpreter{Name: c.command, Path: path}, nil
	}

	available := c.Available()
	if len(available) == 0 {
		return Interpreter{}, ErrNoInterpreter
	}
	return available[0], nil
}
