// Package debug steps through a program line by line over a small JSON
// control protocol.
//
// A Session spawns the interpreter on an embedded launcher script. The
// launcher prints {"port": N} as its first stdout line and waits for one
// client on that port. The Session connects, retrying at a fixed interval
// while the launcher is still starting, and sends {"type":"clientinit"}.
// From then on the launcher halts before every new line of the program and
// reports it:
//
//	{"type":"break","linenumber":12}   halted before line 12
//	{"type":"block","cause":"..."}     the program raised; stepping is blocked
//	{"type":"finish"}                  the program completed
//
// and the client resumes it with {"type":"continue"}.
//
// After finish, or when the launcher closes the socket, the Session closes
// its end and stops stepping, but keeps forwarding the launcher's output
// until the process exits. Output and control messages travel on separate
// streams, so the program's last lines may arrive after finish.
//
// A Session is itself a terminal.Controllable: the program's output and
// the session's own informational lines arrive on Events, and program input
// goes through SendLine. The halted line is published on BreakpointLine,
// 0 meaning none.
package debug
