package terminal

import (
	"fmt"
	"os/exec"

	"github.com/dshills/keystep/internal/integration/process"
)

// Launcher spawns processes through a Supervisor and wraps them as
// Controllables.
type Launcher struct {
	supervisor *process.Supervisor
	opts       []Option
}

// NewLauncher creates a Launcher. opts are applied to every process it
// wraps.
func NewLauncher(supervisor *process.Supervisor, opts ...Option) *Launcher {
	return &Launcher{supervisor: supervisor, opts: opts}
}

// Spawn starts command with args under name and returns it as a
// Controllable.
func (l *Launcher) Spawn(name, command string, args ...string) (Controllable, error) {
	cmd := exec.Command(command, args...)
	proc, err := l.supervisor.Start(name, cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}
	opts := append([]Option{withSupervisor(l.supervisor)}, l.opts...)
	return FromProcess(proc, opts...), nil
}
