// Package app wires configuration, localization, interpreter selection
// and the Runner into the keystep console application.
package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/keystep/internal/config"
	"github.com/dshills/keystep/internal/config/watcher"
	"github.com/dshills/keystep/internal/integration"
	"github.com/dshills/keystep/internal/integration/interp"
	"github.com/dshills/keystep/internal/lang"
)

// Options configures the application.
type Options struct {
	// ConfigPath is the path to the configuration file. Empty means the
	// user's default location.
	ConfigPath string

	// LogLevel overrides the configured logging level.
	LogLevel string

	// Interpreter overrides the configured interpreter command.
	Interpreter string

	// Language overrides the configured UI language.
	Language string

	// Watch enables live reload of the configuration file.
	Watch bool

	// Stdin, Stdout and Stderr default to the process's streams. Stderr
	// receives the log when no log file is configured.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// LookPath finds interpreter executables. Nil means exec.LookPath.
	LookPath interp.LookPathFunc

	// ConsoleOptions and RunnerOptions are appended to the defaults.
	ConsoleOptions []ConsoleOption
	RunnerOptions  []integration.RunnerOption
}

// Application is the keystep console application.
type Application struct {
	opts   Options
	loader *config.Loader

	mu  sync.RWMutex
	cfg *config.Config

	logger   *zap.Logger
	closeLog func()
	catalog  *liveCatalog
	file     *currentFile
	runner   *integration.Runner
	console  *Console
	watcher  *watcher.Watcher

	running atomic.Bool
	closed  atomic.Bool
}

// New creates an Application: it loads the configuration, the message
// catalog and the logger, and builds the Runner and Console.
func New(opts Options) (*Application, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, initError("config", "locate", err)
		}
		path = p
	}

	app := &Application{
		opts:    opts,
		loader:  config.NewLoader(path),
		catalog: &liveCatalog{},
		file:    &currentFile{},
	}

	cfg, err := app.loadConfig()
	if err != nil {
		return nil, initError("config", "load", err)
	}
	app.cfg = cfg

	logger, closeLog, err := NewLogger(LoggerConfig{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Output: opts.Stderr,
	})
	if err != nil {
		return nil, initError("logging", "open", err)
	}
	app.logger = logger
	app.closeLog = closeLog

	catalog, err := lang.Load(cfg.UI.Language, cfg.UI.LangDir)
	if err != nil {
		closeLog()
		return nil, initError("lang", "load", err)
	}
	app.catalog.Store(catalog)

	consoleOpts := append([]ConsoleOption{WithConsoleMessages(app.catalog)}, opts.ConsoleOptions...)
	app.console = NewConsole(opts.Stdin, opts.Stdout, consoleOpts...)

	runnerOpts := append([]integration.RunnerOption{
		integration.WithLogger(WithComponent(logger, "runner")),
		integration.WithFileSource(app.file),
		integration.WithMessages(app.catalog),
		integration.WithNotificationHandler(app.console.Notify),
		integration.WithSettings(runnerSettings(cfg)),
		integration.WithInterpreter(app.resolverFor(cfg)),
	}, opts.RunnerOptions...)
	app.runner = integration.NewRunner(runnerOpts...)

	if opts.Watch {
		app.startWatcher()
	}

	logger.Debug("application initialized",
		zap.String("config", app.loader.Path()),
		zap.Stringer("language", catalog.Tag()))

	return app, nil
}

// Config returns a copy of the active configuration.
func (a *Application) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Clone()
}

// Catalog returns the active message catalog.
func (a *Application) Catalog() *lang.Catalog {
	return a.catalog.Load()
}

// Runner returns the application's Runner.
func (a *Application) Runner() *integration.Runner {
	return a.runner
}

// Logger returns the application logger.
func (a *Application) Logger() *zap.Logger {
	return a.logger
}

// Interpreters returns the installed interpreter candidates in priority
// order.
func (a *Application) Interpreters() []interp.Interpreter {
	return a.chooser(a.Config()).Available()
}

// ResolveInterpreter returns the interpreter a launch would use.
func (a *Application) ResolveInterpreter() (interp.Interpreter, error) {
	return a.chooser(a.Config()).Resolve()
}

// Run starts mode on file and drives the console until the session ends,
// the user quits or ctx is canceled. file is ignored in ModeShell.
//
// A quit command returns ErrQuit.
func (a *Application) Run(ctx context.Context, mode Mode, file string) error {
	if a.closed.Load() {
		return ErrShutdown
	}
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	if mode != ModeShell {
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		a.file.Set(abs)
		a.console.SetSource(abs)
	}

	detach := a.console.Attach(a.runner)
	defer detach()

	ctl := Controls{
		Stop:     a.runner.Stop,
		SendLine: a.runner.SendLine,
	}

	var err error
	switch mode {
	case ModeShell:
		err = a.runner.RunShell(ctx)
	case ModeRun:
		err = a.runner.Run(ctx)
	case ModeStep:
		err = a.runner.Step(ctx)
		ctl.Step = func() error { return a.runner.Step(ctx) }
	default:
		return ErrUnknownMode
	}
	if err != nil {
		return err
	}

	a.logger.Debug("console started", zap.Stringer("mode", mode), zap.String("file", file))
	return a.console.Loop(ctx, ctl)
}

// Shutdown stops the watcher, the running session and every child
// process. It is safe to call more than once.
func (a *Application) Shutdown() {
	if a.closed.Swap(true) {
		return
	}

	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn("close config watcher", zap.Error(err))
		}
	}

	a.runner.Shutdown(a.Config().Session.StopTimeout.Std())
	a.logger.Debug("application shut down")
	a.closeLog()
}

// loadConfig loads the layered configuration and applies command-line
// overrides on top.
func (a *Application) loadConfig() (*config.Config, error) {
	cfg, err := a.loader.Load()
	if err != nil {
		return nil, err
	}

	if a.opts.LogLevel != "" {
		cfg.Logging.Level = a.opts.LogLevel
	}
	if a.opts.Interpreter != "" {
		cfg.Interpreter.Command = a.opts.Interpreter
	}
	if a.opts.Language != "" {
		cfg.UI.Language = a.opts.Language
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *Application) startWatcher() {
	w, err := watcher.New(a.onConfigChange, watcher.WithLogger(WithComponent(a.logger, "watcher")))
	if err != nil {
		a.logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	if err := w.Watch(a.loader.Path()); err != nil {
		a.logger.Warn("config not watched", zap.String("path", a.loader.Path()), zap.Error(err))
		_ = w.Close()
		return
	}
	a.watcher = w
}

// onConfigChange re-applies interpreter, debug, session and UI settings.
// Logging settings take effect on the next start.
func (a *Application) onConfigChange(ev watcher.Event) {
	if ev.Op == watcher.OpRemove || ev.Op == watcher.OpRename {
		a.logger.Info("config file removed; keeping current settings", zap.String("path", ev.Path))
		return
	}

	cfg, err := a.loadConfig()
	if err != nil {
		a.logger.Warn("config reload failed", zap.Error(err))
		return
	}

	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	a.runner.UpdateSettings(runnerSettings(cfg))
	a.runner.SetInterpreter(a.resolverFor(cfg))

	if cfg.UI.Language != prev.UI.Language || cfg.UI.LangDir != prev.UI.LangDir {
		catalog, err := lang.Load(cfg.UI.Language, cfg.UI.LangDir)
		if err != nil {
			a.logger.Warn("catalog reload failed", zap.Error(err))
		} else {
			a.catalog.Store(catalog)
		}
	}

	a.logger.Info("config reloaded", zap.String("path", ev.Path))
}

func (a *Application) chooser(cfg *config.Config) *interp.Chooser {
	opts := []interp.Option{
		interp.WithCommand(cfg.Interpreter.Command),
		interp.WithCandidates(cfg.Interpreter.Candidates),
	}
	if a.opts.LookPath != nil {
		opts = append(opts, interp.WithLookPath(a.opts.LookPath))
	}
	return interp.NewChooser(opts...)
}

func (a *Application) resolverFor(cfg *config.Config) integration.InterpreterResolver {
	chooser := a.chooser(cfg)
	return func() (string, error) {
		in, err := chooser.Resolve()
		if err != nil {
			return "", err
		}
		a.logger.Debug("interpreter resolved", zap.String("name", in.Name), zap.String("path", in.Path))
		return in.Path, nil
	}
}

func runnerSettings(cfg *config.Config) integration.Settings {
	return integration.Settings{
		Script:        cfg.Debug.Script,
		DebugHost:     cfg.Debug.Host,
		RetryInterval: cfg.Debug.RetryInterval.Std(),
		StopTimeout:   cfg.Session.StopTimeout.Std(),
		KillGrace:     cfg.Session.KillGrace.Std(),
	}
}

// liveCatalog is the catalog currently in effect. A reload swaps it for
// every holder at once.
type liveCatalog struct {
	p atomic.Pointer[lang.Catalog]
}

func (l *liveCatalog) Store(c *lang.Catalog) { l.p.Store(c) }

func (l *liveCatalog) Load() *lang.Catalog { return l.p.Load() }

// Get implements debug.Messages.
func (l *liveCatalog) Get(key string) string {
	if c := l.p.Load(); c != nil {
		return c.Get(key)
	}
	return key
}

// currentFile is the file named on the command line. It is edited
// outside keystep, so there is never anything to save.
type currentFile struct {
	mu   sync.Mutex
	path string
}

func (f *currentFile) Set(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = path
}

// CurrentPath implements integration.FileSource.
func (f *currentFile) CurrentPath() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return "", false
	}
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return "", false
	}
	return f.path, true
}

// Unsaved implements integration.FileSource.
func (f *currentFile) Unsaved() bool { return false }

// Save implements integration.FileSource.
func (f *currentFile) Save() error { return nil }
