// Package terminal turns interpreter processes and sockets into line
// oriented, controllable streams.
//
// A Controllable accepts input lines and reports what it printed as a
// stream of events: complete stdout and stderr lines, the unterminated
// tail of the output (so a ">>> " prompt is visible before its newline),
// and a single exit event.
//
//	launcher := terminal.NewLauncher(supervisor)
//	shell, err := launcher.Spawn("shell", "python3", "-i", "-u")
//	if err != nil {
//	    return err
//	}
//	for ev := range shell.Events() {
//	    fmt.Println(ev.Kind, ev.Text)
//	}
//
// FromConn wraps a socket the same way; it is the transport of the
// debugger control channel.
//
// Model holds the Controllable currently attached to the console and
// forwards its events to subscribers, dropping anything a replaced
// Controllable still emits.
package terminal
