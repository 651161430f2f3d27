package debug

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

// ScriptName is the file name of the materialized launcher script.
const ScriptName = "json_debugger.py"

//go:embed scripts/json_debugger.py
var launcherScript []byte

// LauncherScript returns the embedded launcher source.
func LauncherScript() []byte {
	return bytes.Clone(launcherScript)
}

// DefaultScriptDir returns the per-user cache directory the launcher is
// written to.
func DefaultScriptDir() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache dir: %w", err)
	}
	return filepath.Join(cache, "keystep"), nil
}

// MaterializeScript writes the embedded launcher into dir and returns its
// path. An identical existing copy is left alone; a stale one is replaced
// atomically.
func MaterializeScript(dir string) (string, error) {
	path := filepath.Join(dir, ScriptName)

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, launcherScript) {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ScriptName+".*")
	if err != nil {
		return "", fmt.Errorf("create script: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(launcherScript); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("install script: %w", err)
	}
	return path, nil
}
