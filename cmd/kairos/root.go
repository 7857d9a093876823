package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes.
const (
	exitFailure      = 1 // the kernel raised, or the backends disagree
	exitCommandError = 2 // bad arguments, unreadable files, unreachable store
)

// exitError carries an exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func failure(format string, a ...any) error {
	return &exitError{code: exitFailure, err: fmt.Errorf(format, a...)}
}

func commandError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	return &exitError{code: exitCommandError, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

var validFormats = []string{"text", "json", "yaml"}

// rootOptions holds the global flags.
type rootOptions struct {
	Verbose int
	LogFile string
	Format  string
	Dir     string
	NoStore bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kairos",
		Short: "Run timeline kernels and check backend conformance",
		Long: `kairos compiles kernel programs and runs them on two backends: the host
simulator, which walks the syntax tree, and the device backend, which runs
compiled bytecode. Both share one timeline model and one exception model,
so the same program must leave the same observable results on each.

Settings come from kairos.toml, searched for upward from --dir.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return commandError(fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats))
			}
			configureLogging(opts.Verbose, opts.LogFile)
			return nil
		},
	}

	cmd.PersistentFlags().CountVarP(&opts.Verbose, "verbose", "v", "log verbosity (repeat for more)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log", "", "write logs to this file instead of stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.Dir, "dir", "C", ".", "directory to search for kairos.toml")
	cmd.PersistentFlags().BoolVar(&opts.NoStore, "no-store", false, "do not record runs in the history store")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCompareCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newDisasmCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newLSPCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// configureLogging sets the commonlog backend's level and destination.
// Each -v raises the level by one.
func configureLogging(verbosity int, file string) {
	var path *string
	if file != "" {
		path = &file
	}
	commonlog.Configure(verbosity, path)
}
