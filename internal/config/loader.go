package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is the prefix of all keystep environment variables.
const EnvPrefix = "KEYSTEP_"

// defaultEnvMapping maps environment variables to setting paths.
func defaultEnvMapping() map[string]string {
	return map[string]string{
		"KEYSTEP_INTERPRETER":            "interpreter.command",
		"KEYSTEP_INTERPRETER_CANDIDATES": "interpreter.candidates",
		"KEYSTEP_DEBUG_SCRIPT":           "debug.script",
		"KEYSTEP_DEBUG_HOST":             "debug.host",
		"KEYSTEP_DEBUG_RETRY_INTERVAL":   "debug.retry_interval",
		"KEYSTEP_STOP_TIMEOUT":           "session.stop_timeout",
		"KEYSTEP_KILL_GRACE":             "session.kill_grace",
		"KEYSTEP_LANG":                   "ui.language",
		"KEYSTEP_LANG_DIR":               "ui.lang_dir",
		"KEYSTEP_LOG_LEVEL":              "logging.level",
		"KEYSTEP_LOG_FILE":               "logging.file",
	}
}

// Loader builds a Config from defaults, a TOML file and the environment.
type Loader struct {
	path     string
	readFile func(string) ([]byte, error)
	lookup   func(string) (string, bool)
	mapping  map[string]string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) LoaderOption {
	return func(l *Loader) {
		if fn != nil {
			l.lookup = fn
		}
	}
}

// WithReadFile replaces os.ReadFile.
func WithReadFile(fn func(string) ([]byte, error)) LoaderOption {
	return func(l *Loader) {
		if fn != nil {
			l.readFile = fn
		}
	}
}

// NewLoader creates a loader for the file at path. An empty path skips
// the file layer.
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{
		path:     path,
		readFile: os.ReadFile,
		lookup:   os.LookupEnv,
		mapping:  defaultEnvMapping(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads all layers and validates the result. A missing file is not
// an error.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, err
		}
	}

	if err := l.loadEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func (l *Loader) loadFile(cfg *Config) error {
	data, err := l.readFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", l.path, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return l.parseError(err)
	}
	return nil
}

func (l *Loader) parseError(err error) error {
	pe := &ParseError{Path: l.path, Message: err.Error(), Err: err}

	var decodeErr *toml.DecodeError
	var strictErr *toml.StrictMissingError
	switch {
	case errors.As(err, &decodeErr):
		pe.Line, pe.Column = decodeErr.Position()
	case errors.As(err, &strictErr):
		if len(strictErr.Errors) > 0 {
			pe.Line, pe.Column = strictErr.Errors[0].Position()
		}
		pe.Message = "unknown setting: " + err.Error()
	}
	return pe
}

func (l *Loader) loadEnv(cfg *Config) error {
	names := make([]string, 0, len(l.mapping))
	for name := range l.mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, ok := l.lookup(name)
		if !ok {
			continue
		}
		if err := cfg.Set(l.mapping[name], value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
