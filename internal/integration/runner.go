package integration

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/keystep/internal/integration/debug"
	"github.com/dshills/keystep/internal/integration/observe"
	"github.com/dshills/keystep/internal/integration/process"
	"github.com/dshills/keystep/internal/integration/terminal"
)

// Catalog keys used by the Runner.
const (
	KeyProgramLaunch = "program-launch"
	KeyPleaseSave    = "please-save-your-file"
	KeyLaunchFailed  = "launch-failed"
)

// FileSource is the editor's view of the file being worked on.
type FileSource interface {
	// CurrentPath returns the file's path, or false if it was never saved.
	CurrentPath() (string, bool)

	// Unsaved reports whether the buffer has edits not yet on disk.
	Unsaved() bool

	// Save writes the buffer to CurrentPath.
	Save() error
}

// FixedFile is a FileSource for a file edited elsewhere.
type FixedFile string

// CurrentPath implements FileSource.
func (f FixedFile) CurrentPath() (string, bool) { return string(f), f != "" }

// Unsaved implements FileSource.
func (f FixedFile) Unsaved() bool { return false }

// Save implements FileSource.
func (f FixedFile) Save() error { return nil }

// InterpreterResolver returns the interpreter command to launch.
type InterpreterResolver func() (string, error)

// NotificationHandler receives short localized messages for the user.
type NotificationHandler func(text string)

// Settings are the Runner parameters that may change while it runs.
type Settings struct {
	// Script is the debugger launcher. Empty means the embedded one,
	// written to the user cache directory on first use.
	Script string

	// DebugHost is the launcher's control address.
	DebugHost string

	// RetryInterval is the fixed delay between debugger connection attempts.
	RetryInterval time.Duration

	// StopTimeout bounds the wait for a replaced session to exit.
	StopTimeout time.Duration

	// KillGrace is the delay between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// DefaultSettings returns the built-in Runner settings.
func DefaultSettings() Settings {
	return Settings{
		DebugHost:     debug.DefaultHost,
		RetryInterval: debug.DefaultRetryInterval,
		StopTimeout:   3 * time.Second,
		KillGrace:     2 * time.Second,
	}
}

// RunnerOption configures a Runner instance.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	logger       *zap.Logger
	files        FileSource
	interpreter  InterpreterResolver
	messages     debug.Messages
	notify       NotificationHandler
	settings     Settings
	supervisor   *process.Supervisor
	maxProcesses int
	spawner      debug.Spawner
	dialer       debug.Dialer
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(o *runnerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFileSource sets the file collaborator.
func WithFileSource(files FileSource) RunnerOption {
	return func(o *runnerOptions) {
		o.files = files
	}
}

// WithInterpreter sets how the interpreter command is resolved.
func WithInterpreter(resolve InterpreterResolver) RunnerOption {
	return func(o *runnerOptions) {
		o.interpreter = resolve
	}
}

// WithMessages sets the catalog for user-facing lines.
func WithMessages(m debug.Messages) RunnerOption {
	return func(o *runnerOptions) {
		o.messages = m
	}
}

// WithNotificationHandler sets the receiver of user notifications.
func WithNotificationHandler(fn NotificationHandler) RunnerOption {
	return func(o *runnerOptions) {
		o.notify = fn
	}
}

// WithSettings replaces the default settings.
func WithSettings(s Settings) RunnerOption {
	return func(o *runnerOptions) {
		o.settings = s
	}
}

// WithSupervisor sets the process supervisor. By default the Runner owns
// one.
func WithSupervisor(s *process.Supervisor) RunnerOption {
	return func(o *runnerOptions) {
		o.supervisor = s
	}
}

// WithMaxProcesses limits concurrent child processes of the Runner's own
// supervisor (0 = unlimited).
func WithMaxProcesses(max int) RunnerOption {
	return func(o *runnerOptions) {
		o.maxProcesses = max
	}
}

// WithSpawner replaces process spawning, for tests and embedding.
func WithSpawner(spawn debug.Spawner) RunnerOption {
	return func(o *runnerOptions) {
		o.spawner = spawn
	}
}

// WithDialer replaces the debugger control dialer.
func WithDialer(dial debug.Dialer) RunnerOption {
	return func(o *runnerOptions) {
		o.dialer = dial
	}
}

// Runner runs the user's program, an interactive shell, or a step session,
// one at a time.
//
// Starting anything tears down whatever ran before: it is terminated and
// awaited, up to the stop timeout, before the new Controllable is attached
// to the Model. Runner is safe for concurrent use.
type Runner struct {
	// mu serializes actions and guards the fields below it.
	mu       sync.Mutex
	active   terminal.Controllable
	session  *debug.Session
	unlisten func()
	tracking *atomic.Bool
	launches int
	script   string

	model *terminal.Model

	// highlightMu orders breakpoint updates against the reset done when a
	// session is dropped.
	highlightMu sync.Mutex
	highlighted *observe.Value[int]
	supervisor  *process.Supervisor
	spawner     debug.Spawner
	dialer      debug.Dialer
	files       FileSource
	logger      *zap.Logger

	cfgMu       sync.RWMutex
	settings    Settings
	interpreter InterpreterResolver
	messages    debug.Messages
	notify      NotificationHandler

	closed atomic.Bool
}

// NewRunner creates a Runner with an empty Model.
func NewRunner(opts ...RunnerOption) *Runner {
	options := &runnerOptions{
		logger:   zap.NewNop(),
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(options)
	}

	supervisor := options.supervisor
	if supervisor == nil {
		logger := options.logger.With(zap.String("component", "supervisor"))
		supervisor = process.NewSupervisor(
			process.WithMaxProcesses(options.maxProcesses),
			process.WithLogger(logger),
			process.WithProcessExitCallback(func(p *process.Process) {
				logChildExit(logger, p)
			}),
		)
	}

	r := &Runner{
		model:       terminal.NewModel(),
		highlighted: observe.NewValue(0),
		supervisor:  supervisor,
		dialer:      options.dialer,
		files:       options.files,
		logger:      options.logger,
		settings:    options.settings,
		interpreter: options.interpreter,
		messages:    options.messages,
		notify:      options.notify,
	}

	r.spawner = options.spawner
	if r.spawner == nil {
		r.spawner = r.spawnProcess
	}

	return r
}

// Model returns the Model holding the running Controllable.
func (r *Runner) Model() *terminal.Model {
	return r.model
}

// HighlightedLine is the line a step session is halted before, 0 if none.
func (r *Runner) HighlightedLine() *observe.Value[int] {
	return r.highlighted
}

// Launches returns how many times Run has launched the program.
func (r *Runner) Launches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

// Stepping reports whether a step session is attached.
func (r *Runner) Stepping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// UpdateSettings replaces the settings used by later actions.
func (r *Runner) UpdateSettings(s Settings) {
	r.cfgMu.Lock()
	r.settings = s
	r.cfgMu.Unlock()

	r.mu.Lock()
	r.script = ""
	r.mu.Unlock()
}

// SetInterpreter replaces the interpreter resolver.
func (r *Runner) SetInterpreter(resolve InterpreterResolver) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.interpreter = resolve
}

// RunShell starts an interactive interpreter.
func (r *Runner) RunShell(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrRunnerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	command, err := r.resolveInterpreter()
	if err != nil {
		return err
	}

	r.teardownLocked()

	c, err := r.spawner("shell", command, "-i", "-u")
	if err != nil {
		return r.launchFailed(err)
	}
	r.attachLocked(c)
	return nil
}

// Run saves the current file and runs it, announcing the launch number.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrRunnerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := r.prepareFile()
	if err != nil {
		return err
	}
	command, err := r.resolveInterpreter()
	if err != nil {
		return err
	}

	r.launches++
	n := r.launches

	r.teardownLocked()
	r.model.Info(">> " + r.text(KeyProgramLaunch) + " #" + strconv.Itoa(n))

	c, err := r.spawner("run #"+strconv.Itoa(n), command, path)
	if err != nil {
		return r.launchFailed(err)
	}
	r.attachLocked(c)
	return nil
}

// Step advances the running step session by one line, or starts a new
// one on the current file. The session stops when ctx is canceled.
func (r *Runner) Step(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return ErrRunnerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.session != nil {
		r.session.Next()
		return nil
	}

	path, err := r.prepareFile()
	if err != nil {
		return err
	}
	command, err := r.resolveInterpreter()
	if err != nil {
		return err
	}
	script, err := r.launcherScript()
	if err != nil {
		return r.launchFailed(err)
	}

	r.teardownLocked()

	settings := r.currentSettings()
	opts := []debug.Option{
		debug.WithLogger(r.logger.With(zap.String("component", "debug"))),
		debug.WithMessages(r.messageSource()),
		debug.WithHandlers(debug.SessionHandlers{
			OnNotification: r.publish,
		}),
	}
	if r.dialer != nil {
		opts = append(opts, debug.WithDialer(r.dialer))
	}

	session := debug.NewSession(debug.Config{
		Command:       command,
		Script:        script,
		Program:       path,
		Host:          settings.DebugHost,
		RetryInterval: settings.RetryInterval,
		ExitGrace:     settings.KillGrace,
	}, r.spawner, opts...)

	tracking := &atomic.Bool{}
	tracking.Store(true)
	r.session = session
	r.tracking = tracking
	r.unlisten = session.BreakpointLine().Listen(r.highlightWhile(tracking))
	r.attachLocked(session)
	go r.forgetSession(session)

	if err := session.Start(ctx); err != nil {
		session.Stop()
		return r.launchFailed(err)
	}
	return nil
}

// Stop tears down whatever is running and empties the Model.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardownLocked()
	r.model.Set(nil)
}

// SendLine forwards a line of console input to the running Controllable.
func (r *Runner) SendLine(line string) {
	r.model.SendLine(line)
}

// Shutdown stops the running session and every remaining child process.
// Later actions return ErrRunnerClosed. It is safe to call more than once.
func (r *Runner) Shutdown(timeout time.Duration) {
	if r.closed.Swap(true) {
		return
	}
	r.Stop()
	if n := r.supervisor.Count(); n > 0 {
		r.logger.Debug("stopping remaining child processes", zap.Int("count", n))
	}
	r.supervisor.Shutdown(timeout)
}

// logChildExit reports children that did not exit cleanly.
func logChildExit(logger *zap.Logger, p *process.Process) {
	switch {
	case p.State() == process.StateKilled:
		logger.Info("child process killed",
			zap.String("name", p.Name),
			zap.Duration("uptime", time.Since(p.Started)))
	case p.ExitCode() != 0:
		logger.Info("child process failed",
			zap.String("name", p.Name),
			zap.Int("code", p.ExitCode()))
	}
}

// attachLocked makes c the Runner's and the Model's current Controllable.
func (r *Runner) attachLocked(c terminal.Controllable) {
	r.active = c
	r.model.Set(c)
}

// teardownLocked terminates the active Controllable and waits for it.
func (r *Runner) teardownLocked() {
	if r.session != nil {
		r.dropSessionLocked()
	}

	c := r.active
	if c == nil {
		return
	}
	r.active = nil

	c.Terminate()

	timeout := r.currentSettings().StopTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.Done():
	case <-timer.C:
		r.logger.Warn("previous session did not exit in time", zap.Duration("timeout", timeout))
	}
}

// dropSessionLocked detaches the step session's breakpoint from the
// highlighted line.
func (r *Runner) dropSessionLocked() {
	if r.unlisten != nil {
		r.unlisten()
		r.unlisten = nil
	}
	r.session = nil

	r.highlightMu.Lock()
	defer r.highlightMu.Unlock()
	if r.tracking != nil {
		r.tracking.Store(false)
		r.tracking = nil
	}
	r.highlighted.Set(0)
}

// highlightWhile mirrors a session's breakpoint line until tracking is
// cleared. A break delivered after the session was dropped is ignored.
func (r *Runner) highlightWhile(tracking *atomic.Bool) observe.Listener[int] {
	return func(line int) {
		r.highlightMu.Lock()
		defer r.highlightMu.Unlock()
		if tracking.Load() {
			r.highlighted.Set(line)
		}
	}
}

// forgetSession clears the step session once it ends by itself.
func (r *Runner) forgetSession(s *debug.Session) {
	<-s.Done()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == s {
		r.dropSessionLocked()
	}
}

func (r *Runner) prepareFile() (string, error) {
	var (
		path string
		ok   bool
	)
	if r.files != nil {
		path, ok = r.files.CurrentPath()
	}
	if !ok {
		r.publish(r.text(KeyPleaseSave))
		return "", ErrNoFile
	}

	if r.files.Unsaved() {
		if err := r.files.Save(); err != nil {
			r.publish(r.text(KeyPleaseSave))
			return "", fmt.Errorf("save %s: %w", path, err)
		}
	}
	return path, nil
}

func (r *Runner) resolveInterpreter() (string, error) {
	r.cfgMu.RLock()
	resolve := r.interpreter
	r.cfgMu.RUnlock()

	if resolve == nil {
		return "", r.launchFailed(ErrNoInterpreter)
	}
	command, err := resolve()
	if err != nil {
		return "", r.launchFailed(fmt.Errorf("%w: %w", ErrNoInterpreter, err))
	}
	return command, nil
}

// launcherScript returns the configured launcher, or materializes the
// embedded one once.
func (r *Runner) launcherScript() (string, error) {
	if s := r.currentSettings().Script; s != "" {
		return s, nil
	}
	if r.script != "" {
		return r.script, nil
	}

	dir, err := debug.DefaultScriptDir()
	if err != nil {
		return "", err
	}
	path, err := debug.MaterializeScript(dir)
	if err != nil {
		return "", err
	}
	r.script = path
	return path, nil
}

func (r *Runner) spawnProcess(name, command string, args ...string) (terminal.Controllable, error) {
	launcher := terminal.NewLauncher(r.supervisor,
		terminal.WithLogger(r.logger.With(zap.String("component", "terminal"))),
		terminal.WithKillGrace(r.currentSettings().KillGrace),
	)
	return launcher.Spawn(name, command, args...)
}

func (r *Runner) launchFailed(err error) error {
	r.logger.Warn("launch failed", zap.Error(err))

	r.publish(r.text(KeyLaunchFailed))
	return err
}

func (r *Runner) currentSettings() Settings {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.settings
}

func (r *Runner) messageSource() debug.Messages {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.messages
}

func (r *Runner) text(key string) string {
	if m := r.messageSource(); m != nil {
		return m.Get(key)
	}
	return key
}

func (r *Runner) publish(text string) {
	r.cfgMu.RLock()
	notify := r.notify
	r.cfgMu.RUnlock()

	if notify != nil {
		notify(text)
	}
}
