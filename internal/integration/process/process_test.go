package process

import (
	"io"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestNewProcess(t *testing.T) {
	cmd := exec.Command("echo", "hello")
	proc := NewProcess("test-id", "test-process", cmd)

	if proc.ID != "test-id" {
		t.Errorf("expected ID 'test-id', got %q", proc.ID)
	}

	if proc.State() != StateCreated {
		t.Errorf("expected state StateCreated, got %v", proc.State())
	}

	if proc.ExitCode() != -1 {
		t.Errorf("expected exit code -1, got %d", proc.ExitCode())
	}

	if proc.PID() != -1 {
		t.Errorf("expected PID -1 before start, got %d", proc.PID())
	}

	if proc.IsRunning() || proc.HasExited() {
		t.Error("expected a created process to be neither running nor exited")
	}
}

func TestProcess_StartTwice(t *testing.T) {
	proc := NewProcess("test-id", "test", exec.Command("true"))

	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	defer func() { <-proc.Done() }()

	if err := proc.start(); err != ErrProcessAlreadyStarted {
		t.Errorf("expected ErrProcessAlreadyStarted, got %v", err)
	}
}

func TestProcess_ExitCode(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *exec.Cmd
		wantCode int
	}{
		{"success", exec.Command("true"), 0},
		{"failure", exec.Command("false"), 1},
		{"exit 42", exec.Command("sh", "-c", "exit 42"), 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := NewProcess("test-id", tt.name, tt.cmd)
			if err := proc.start(); err != nil {
				t.Fatalf("failed to start process: %v", err)
			}

			<-proc.Done()

			if proc.ExitCode() != tt.wantCode {
				t.Errorf("expected exit code %d, got %d", tt.wantCode, proc.ExitCode())
			}
			if proc.State() != StateExited {
				t.Errorf("expected state StateExited, got %v", proc.State())
			}
		})
	}
}

func TestProcess_Stop(t *testing.T) {
	proc := NewProcess("test-id", "sleep", exec.Command("sleep", "10"))
	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	done := make(chan struct{})
	go func() {
		proc.Stop(time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	if proc.State() != StateKilled {
		t.Errorf("expected state StateKilled, got %v", proc.State())
	}

	// Second stop is a no-op.
	proc.Stop(time.Second)
}

func TestProcess_StopEscalatesToKill(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 10")
	proc := NewProcess("test-id", "stubborn", cmd)
	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	proc.Stop(100 * time.Millisecond)

	if !proc.HasExited() {
		t.Fatal("expected process to have exited")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("stop took too long: %v", elapsed)
	}
}

func TestProcess_SignalBeforeStart(t *testing.T) {
	proc := NewProcess("test-id", "test", exec.Command("echo", "hello"))

	if err := proc.Signal(syscall.SIGTERM); err == nil {
		t.Error("expected error when signaling non-started process")
	}

	// Stop before start returns immediately.
	proc.Stop(time.Second)
}

func TestProcess_State_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcess_CloseTwice(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Start("echo", exec.Command("echo", "hi"))
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	_, _ = io.ReadAll(proc.Stdout)
	<-proc.Done()

	if err := proc.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := proc.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
