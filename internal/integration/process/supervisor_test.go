package process

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewSupervisor(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	if s.Count() != 0 {
		t.Errorf("expected 0 processes, got %d", s.Count())
	}
}

func TestSupervisor_StartPipesOutput(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Start("echo", exec.Command("sh", "-c", "echo out; echo err >&2"))
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	stdout, err := io.ReadAll(proc.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	stderr, err := io.ReadAll(proc.Stderr)
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	<-proc.Done()

	if strings.TrimSpace(string(stdout)) != "out" {
		t.Errorf("stdout = %q", stdout)
	}
	if strings.TrimSpace(string(stderr)) != "err" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestSupervisor_WithMaxProcesses(t *testing.T) {
	s := NewSupervisor(WithMaxProcesses(1))
	defer s.Shutdown(time.Second)

	proc1, err := s.Start("proc1", exec.Command("sleep", "10"))
	if err != nil {
		t.Fatalf("failed to start proc1: %v", err)
	}

	_, err = s.Start("proc2", exec.Command("sleep", "10"))
	if !errors.Is(err, ErrProcessLimit) {
		t.Fatalf("expected ErrProcessLimit, got %v", err)
	}

	if err := s.Stop(proc1.ID, time.Second); err != nil {
		t.Fatalf("stop proc1: %v", err)
	}

	// The slot is free as soon as Stop returns.
	proc2, err := s.Start("proc2", exec.Command("sleep", "10"))
	if err != nil {
		t.Fatalf("failed to start proc2 after stop: %v", err)
	}
	_ = s.Stop(proc2.ID, time.Second)
}

func TestSupervisor_ExitFreesSlotBeforeDone(t *testing.T) {
	s := NewSupervisor(WithMaxProcesses(1))
	defer s.Shutdown(time.Second)

	for i := 0; i < 5; i++ {
		proc, err := s.Start("quick", exec.Command("true"))
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		<-proc.Done()

		if s.Get(proc.ID) != nil {
			t.Fatalf("start %d: process still tracked after Done", i)
		}
		if s.Count() != 0 {
			t.Fatalf("start %d: count = %d after Done", i, s.Count())
		}
	}
}

func TestSupervisor_WithProcessExitCallback(t *testing.T) {
	exited := make(chan *Process, 1)

	s := NewSupervisor(WithProcessExitCallback(func(p *Process) {
		exited <- p
	}))
	defer s.Shutdown(time.Second)

	proc, err := s.Start("test", exec.Command("true"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	select {
	case p := <-exited:
		if p.ID != proc.ID {
			t.Error("callback received wrong process")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exit callback was not called")
	}
}

func TestSupervisor_CallbackPanicIsContained(t *testing.T) {
	var calls atomic.Int32
	s := NewSupervisor(WithProcessExitCallback(func(*Process) {
		calls.Add(1)
		panic("boom")
	}))
	defer s.Shutdown(time.Second)

	proc, err := s.Start("test", exec.Command("true"))
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	<-proc.Done()

	deadline := time.Now().Add(2 * time.Second)
	for s.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Count() != 0 {
		t.Error("process should be untracked after exit")
	}
	if calls.Load() != 1 {
		t.Errorf("callback calls = %d, want 1", calls.Load())
	}
}

func TestSupervisor_StopUnknown(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	if err := s.Stop("missing", time.Second); !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestSupervisor_StartFailure(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	_, err := s.Start("missing", exec.Command("/definitely/not/a/binary"))
	if err == nil {
		t.Fatal("expected start error")
	}
	if s.Count() != 0 {
		t.Errorf("failed start must not be tracked, count=%d", s.Count())
	}
}

func TestSupervisor_Shutdown(t *testing.T) {
	s := NewSupervisor()

	for i := 0; i < 3; i++ {
		if _, err := s.Start("sleep", exec.Command("sleep", "10")); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	s.Shutdown(time.Second)

	if s.Count() != 0 {
		t.Errorf("expected 0 processes after shutdown, got %d", s.Count())
	}

	if _, err := s.Start("late", exec.Command("true")); !errors.Is(err, ErrSupervisorShutdown) {
		t.Errorf("expected ErrSupervisorShutdown, got %v", err)
	}

	// Second shutdown is a no-op.
	s.Shutdown(time.Second)
}
