// Package integration runs the user's Python code for keystep.
//
// The Runner owns at most one running thing at a time: an interactive
// shell, a program run, or a step session. Each is a terminal.Controllable
// attached to the Runner's Model, which the console renders.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                           Runner                            │
//	│  - one action at a time, previous one torn down first       │
//	│  - file save check, interpreter resolution                  │
//	│  - launch counter, highlighted line                         │
//	└─────────────────────────────────────────────────────────────┘
//	             │                               │
//	             ▼                               ▼
//	  ┌─────────────────────┐        ┌─────────────────────────┐
//	  │  terminal.Launcher  │        │      debug.Session      │
//	  │  (shell, run #N)    │        │  launcher + control     │
//	  └─────────────────────┘        │  socket, step protocol  │
//	             │                   └─────────────────────────┘
//	             ▼                               │
//	  ┌─────────────────────┐                    │
//	  │ process.Supervisor  │◀───────────────────┘
//	  └─────────────────────┘
//
// # Subpackages
//
//   - lines: reassembles byte chunks into lines
//   - process: starts and supervises child processes
//   - terminal: the Controllable abstraction over processes and sockets,
//     and the Model holding the current one
//   - debug: the step debugger session and its wire protocol
//   - interp: picks the Python interpreter
//   - observe: observable values such as the breakpoint line
//
// # Thread Safety
//
// Runner, Model, Session and Supervisor are safe for concurrent use.
// Model handlers run on the Model's delivery goroutines.
package integration
