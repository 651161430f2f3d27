package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/dshills/keystep/internal/integration"
	"github.com/dshills/keystep/internal/integration/debug"
	"github.com/dshills/keystep/internal/integration/terminal"
)

// Catalog keys used by the console.
const (
	KeyHaltedAt     = "halted-at"
	KeySessionEnded = "session-ended"
)

// Console commands. Any other input line goes to the running program.
const (
	CommandNext = ":n"
	CommandQuit = ":q"
)

// Mode selects what the console runs.
type Mode int

const (
	// ModeShell runs an interactive interpreter.
	ModeShell Mode = iota
	// ModeRun runs a file.
	ModeRun
	// ModeStep steps through a file line by line.
	ModeStep
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeShell:
		return "shell"
	case ModeRun:
		return "run"
	case ModeStep:
		return "step"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Controls are the actions console input can trigger.
type Controls struct {
	// Step advances a step session. Nil outside step mode.
	Step func() error

	// Stop ends whatever is running.
	Stop func()

	// SendLine forwards a line to the running program.
	SendLine func(line string)
}

type consoleStyles struct {
	info   lipgloss.Style
	err    lipgloss.Style
	notice lipgloss.Style
	marker lipgloss.Style
	source lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		info:   r.NewStyle().Foreground(lipgloss.Color("3")),
		err:    r.NewStyle().Foreground(lipgloss.Color("1")),
		notice: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		marker: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		source: r.NewStyle().Reverse(true),
	}
}

// Console renders a Runner's Model as plain lines and turns input lines
// into Runner actions.
//
// Output is styled with lipgloss; colors are dropped automatically when
// out is not a terminal. Console is safe for concurrent use.
type Console struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	styles      consoleStyles

	mu       sync.Mutex
	messages debug.Messages
	source   string
	lines    []string
	loaded   bool
	pending  string

	ended chan struct{}
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithInteractive overrides terminal detection on the input. An
// interactive console stops the session at end of input; otherwise the
// session runs on after piped input is exhausted.
func WithInteractive(interactive bool) ConsoleOption {
	return func(c *Console) {
		c.interactive = interactive
	}
}

// WithConsoleMessages sets the catalog for console texts.
func WithConsoleMessages(m debug.Messages) ConsoleOption {
	return func(c *Console) {
		c.messages = m
	}
}

// NewConsole creates a Console reading commands from in and writing to out.
func NewConsole(in io.Reader, out io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		in:          in,
		out:         out,
		interactive: isTerminal(in),
		styles:      newConsoleStyles(lipgloss.NewRenderer(out)),
		ended:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// isTerminal reports whether r is a terminal device.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetSource sets the file whose lines are shown when a step session halts.
func (c *Console) SetSource(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = path
	c.lines = nil
	c.loaded = false
}

// Attach subscribes the console to r's Model and highlighted line.
// The returned function detaches it.
func (c *Console) Attach(r *integration.Runner) (detach func()) {
	sub := r.Model().Subscribe(terminal.ModelHandlers{
		OnChange: c.onChange,
		OnEvent:  c.onEvent,
	})
	unlisten := r.HighlightedLine().Listen(c.onHalt)

	return func() {
		unlisten()
		sub.Unsubscribe()
	}
}

// Notify prints a user notification.
func (c *Console) Notify(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(c.styles.notice.Render("!! " + text))
}

// Loop reads input lines until the running session ends, the user quits,
// or ctx is canceled. Quitting returns ErrQuit.
func (c *Console) Loop(ctx context.Context, ctl Controls) error {
	input := make(chan string)
	quit := make(chan struct{})
	defer close(quit)

	go c.read(input, quit)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.ended:
			return nil

		case line, ok := <-input:
			if !ok {
				input = nil
				if c.interactive {
					ctl.Stop()
				}
				continue
			}
			if err := c.handle(line, ctl); err != nil {
				return err
			}
		}
	}
}

func (c *Console) handle(line string, ctl Controls) error {
	switch cmd := strings.TrimSpace(line); {
	case cmd == CommandQuit:
		ctl.Stop()
		return ErrQuit

	case ctl.Step != nil && (cmd == "" || cmd == CommandNext):
		// Launch failures are already reported through Notify.
		_ = ctl.Step()

	default:
		ctl.SendLine(line)
	}
	return nil
}

func (c *Console) read(input chan<- string, quit <-chan struct{}) {
	defer close(input)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case input <- scanner.Text():
		case <-quit:
			return
		}
	}
}

func (c *Console) onChange(current terminal.Controllable) {
	if current != nil {
		return
	}
	select {
	case c.ended <- struct{}{}:
	default:
	}
}

func (c *Console) onEvent(ev terminal.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case terminal.EventOutput:
		c.println(c.continueLine(ev.Text))
	case terminal.EventError:
		c.println(c.styles.err.Render(c.continueLine(ev.Text)))
	case terminal.EventPartial:
		fmt.Fprint(c.out, c.continueLine(ev.Text))
		c.pending = ev.Text
	case terminal.EventInfo:
		c.println(c.styles.info.Render(ev.Text))
	case terminal.EventExit:
		text := ">> " + c.text(KeySessionEnded)
		if ev.Err != nil {
			text += ": " + ev.Err.Error()
		}
		c.println(c.styles.info.Render(text))
	}
}

// continueLine returns the part of text not yet printed as a partial line,
// and ends the partial line if text does not continue it.
func (c *Console) continueLine(text string) string {
	pending := c.pending
	c.pending = ""
	if pending == "" {
		return text
	}
	if rest, ok := strings.CutPrefix(text, pending); ok {
		return rest
	}
	fmt.Fprintln(c.out)
	return text
}

func (c *Console) onHalt(line int) {
	if line <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	marker := c.styles.marker.Render(fmt.Sprintf("▶ %s %d", c.text(KeyHaltedAt), line))
	if src, ok := c.sourceLine(line); ok {
		c.println(marker + "  " + c.styles.source.Render(src))
		return
	}
	c.println(marker)
}

// sourceLine returns line n (1-based) of the source file. Caller holds mu.
func (c *Console) sourceLine(n int) (string, bool) {
	if !c.loaded && c.source != "" {
		c.loaded = true
		if data, err := os.ReadFile(c.source); err == nil {
			c.lines = strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
		}
	}
	if n > len(c.lines) {
		return "", false
	}
	return c.lines[n-1], true
}

func (c *Console) text(key string) string {
	if c.messages != nil {
		return c.messages.Get(key)
	}
	return key
}

// println writes one line. Caller holds mu.
func (c *Console) println(s string) {
	if c.pending != "" {
		c.pending = ""
		fmt.Fprintln(c.out)
	}
	fmt.Fprintln(c.out, s)
}

