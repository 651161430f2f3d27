// Package main is the entry point for keystep.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/keystep/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	logLevel    string
	interpreter string
	language    string
	noWatch     bool
}

func (f *globalFlags) options(cmd *cobra.Command) app.Options {
	return app.Options{
		ConfigPath:  f.configPath,
		LogLevel:    f.logLevel,
		Interpreter: f.interpreter,
		Language:    f.language,
		Watch:       !f.noWatch,
		Stdin:       cmd.InOrStdin(),
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "keystep",
		Short: "Run, step through and play with Python programs",
		Long: `keystep runs Python programs, steps through them line by line, and
opens an interactive interpreter.

In a step session press Enter (or type :n) to advance one line and :q to
stop. Any other input line is passed to the program.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.interpreter, "interpreter", "", "Python interpreter to use")
	pf.StringVar(&flags.language, "lang", "", "language for messages, such as en or de")
	pf.BoolVar(&flags.noWatch, "no-watch", false, "do not reload the configuration file on change")

	root.AddCommand(
		newModeCommand(flags, app.ModeShell, "shell", "Start an interactive interpreter", cobra.NoArgs),
		newModeCommand(flags, app.ModeRun, "run FILE", "Run a Python file", cobra.ExactArgs(1)),
		newModeCommand(flags, app.ModeStep, "step FILE", "Step through a Python file line by line", cobra.ExactArgs(1)),
		newInterpretersCommand(flags),
		newVersionCommand(),
	)

	return root
}

func newModeCommand(flags *globalFlags, mode app.Mode, use, short string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(flags.options(cmd))
			if err != nil {
				return err
			}
			defer application.Shutdown()

			var file string
			if len(args) > 0 {
				file = args[0]
			}

			err = application.Run(cmd.Context(), mode, file)
			if errors.Is(err, app.ErrQuit) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newInterpretersCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "interpreters",
		Short: "List installed Python interpreters in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options(cmd)
			opts.Watch = false

			application, err := app.New(opts)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			return printInterpreters(cmd.OutOrStdout(), application)
		},
	}
}

func printInterpreters(w io.Writer, application *app.Application) error {
	available := application.Interpreters()
	if len(available) == 0 {
		fmt.Fprintln(w, "no interpreters found")
		return nil
	}

	selected, err := application.ResolveInterpreter()
	for _, in := range available {
		marker := " "
		if err == nil && in.Path == selected.Path {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-10s %s\n", marker, in.Name, in.Path)
	}
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "keystep %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}
