package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))

	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "keystep dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestRunRequiresFile(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)

	_, err = execute(t, "step", "a.py", "b.py")
	assert.Error(t, err)
}

func TestInterpretersNoneFound(t *testing.T) {
	path := writeConfig(t, `
[interpreter]
candidates = ["keystep-no-such-python"]
`)

	out, err := execute(t, "interpreters", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no interpreters found")
}

func TestInterpretersMarksSelected(t *testing.T) {
	path := writeConfig(t, `
[interpreter]
candidates = ["keystep-no-such-python", "sh"]
`)

	out, err := execute(t, "interpreters", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "* sh")
	assert.NotContains(t, out, "keystep-no-such-python")
}

func TestInvalidLogLevelFlag(t *testing.T) {
	path := writeConfig(t, "")

	_, err := execute(t, "interpreters", "--config", path, "--log-level", "loud")
	assert.Error(t, err)
}
