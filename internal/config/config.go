package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Duration is a time.Duration written as "500ms" or "2s" in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete keystep configuration.
type Config struct {
	Interpreter InterpreterConfig `toml:"interpreter"`
	Debug       DebugConfig       `toml:"debug"`
	Session     SessionConfig     `toml:"session"`
	UI          UIConfig          `toml:"ui"`
	Logging     LoggingConfig     `toml:"logging"`
}

// InterpreterConfig selects the Python interpreter.
type InterpreterConfig struct {
	// Command is an explicit interpreter. Empty means pick from Candidates.
	Command string `toml:"command"`
	// Candidates are tried in order, highest priority first.
	Candidates []string `toml:"candidates"`
}

// DebugConfig configures step sessions.
type DebugConfig struct {
	// Script is a launcher script to use instead of the built-in one.
	Script string `toml:"script"`
	// Host is the launcher's control address.
	Host string `toml:"host"`
	// RetryInterval is the fixed delay between connection attempts.
	RetryInterval Duration `toml:"retry_interval"`
}

// SessionConfig configures process teardown.
type SessionConfig struct {
	// StopTimeout bounds how long a replaced session may take to exit.
	StopTimeout Duration `toml:"stop_timeout"`
	// KillGrace is the delay between SIGTERM and SIGKILL.
	KillGrace Duration `toml:"kill_grace"`
}

// UIConfig configures user-facing text.
type UIConfig struct {
	// Language is a locale such as "de" or "en_US". Empty means $LANG.
	Language string `toml:"language"`
	// LangDir holds *.lang files overriding the built-in catalogs.
	LangDir string `toml:"lang_dir"`
}

// LoggingConfig configures the diagnostic log.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// File receives the log. Empty means stderr.
	File string `toml:"file"`
}

// LogLevels are the accepted logging levels.
var LogLevels = []string{"debug", "info", "warn", "error"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Interpreter: InterpreterConfig{
			Candidates: []string{"python3", "python", "python2"},
		},
		Debug: DebugConfig{
			Host:          "127.0.0.1",
			RetryInterval: Duration(500 * time.Millisecond),
		},
		Session: SessionConfig{
			StopTimeout: Duration(3 * time.Second),
			KillGrace:   Duration(2 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// DefaultPath returns the user's config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "keystep", "config.toml"), nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	if len(c.Interpreter.Candidates) == 0 && c.Interpreter.Command == "" {
		return fmt.Errorf("%w: interpreter.candidates is empty", ErrInvalidValue)
	}
	if c.Debug.Host == "" {
		return fmt.Errorf("%w: debug.host is empty", ErrInvalidValue)
	}
	for name, d := range map[string]Duration{
		"debug.retry_interval": c.Debug.RetryInterval,
		"session.stop_timeout": c.Session.StopTimeout,
		"session.kill_grace":   c.Session.KillGrace,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, name)
		}
	}
	if !slices.Contains(LogLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("%w: logging.level %q", ErrInvalidValue, c.Logging.Level)
	}
	return nil
}

// Set assigns a setting by its dotted path, such as "debug.host".
func (c *Config) Set(path, value string) error {
	switch path {
	case "interpreter.command":
		c.Interpreter.Command = value
	case "interpreter.candidates":
		c.Interpreter.Candidates = splitList(value)
	case "debug.script":
		c.Debug.Script = value
	case "debug.host":
		c.Debug.Host = value
	case "debug.retry_interval":
		return c.Debug.RetryInterval.UnmarshalText([]byte(value))
	case "session.stop_timeout":
		return c.Session.StopTimeout.UnmarshalText([]byte(value))
	case "session.kill_grace":
		return c.Session.KillGrace.UnmarshalText([]byte(value))
	case "ui.language":
		c.UI.Language = value
	case "ui.lang_dir":
		c.UI.LangDir = value
	case "logging.level":
		c.Logging.Level = strings.ToLower(value)
	case "logging.file":
		c.Logging.File = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSetting, path)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Interpreter.Candidates = slices.Clone(c.Interpreter.Candidates)
	return &out
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
