// Package process starts and tracks the interpreter child processes behind
// shells, program runs and debug sessions.
//
// # Supervisor
//
// The Supervisor starts processes with piped standard I/O and tracks them
// until they exit:
//
//	supervisor := process.NewSupervisor(process.WithMaxProcesses(2))
//	defer supervisor.Shutdown(2 * time.Second)
//
//	proc, err := supervisor.Start("run #1", exec.Command("python3", "-u", "main.py"))
//	if err != nil {
//	    return err
//	}
//	<-proc.Done()
//
// Stdout and stderr are OS pipes owned by the Process rather than pipes
// returned by exec.Cmd, so a reader can drain them to EOF without racing
// exec.Cmd.Wait.
//
// # Stopping
//
// Process.Stop and Supervisor.Stop send SIGTERM, wait for a grace period
// and then SIGKILL. Both are no-ops for a process that already exited.
//
// # Thread Safety
//
// Both Supervisor and Process are safe for concurrent use.
package process
