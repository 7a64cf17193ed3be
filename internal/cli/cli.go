// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package cli implements the simlaunch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/petenewcomb/simlaunch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/petenewcomb/simlaunch/internal/logging"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitConfig  = 2
	ExitAborted = 130
)

// An ExitError carries the exit code a failed command should produce.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func configError(format string, args ...any) error {
	return &ExitError{Code: ExitConfig, Err: fmt.Errorf("%w: "+format, append([]any{simlaunch.ErrConfig}, args...)...)}
}

// app holds the state shared by the commands of one invocation.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger
}

// Execute runs the command line given by args and returns the process exit
// code. Interrupts are only handled while a dispatch is running.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{
		v:      viper.New(),
		stdout: stdout,
		stderr: stderr,
		logger: zap.NewNop(),
	}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	_ = a.logger.Sync()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, simlaunch.ErrAborted):
		return ExitAborted
	default:
		// Usage errors reported by cobra.
		return ExitConfig
	}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simlaunch",
		Short: "simlaunch runs a simulator over a list of traces with bounded concurrency.",
		Long: `simlaunch runs one simulator process per trace, never more than the batch
size at once, and writes each process's output to its own log. Traces whose
log already exists are skipped, so an interrupted run can simply be
restarted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.simlaunch.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", logging.FormatConsole, "log format: console or json")

	cmd.AddCommand(
		a.runCmd(),
		a.campaignCmd(),
		a.cleanCmd(),
	)
	return cmd
}

// configure loads the config file, binds the running command's flags and
// the environment, and builds the logger.
func (a *app) configure(cmd *cobra.Command) error {
	v := a.v
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix("simlaunch")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return configError("finding home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(".simlaunch")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// Only the default config file is optional.
		if !errors.As(err, &notFound) {
			return configError("reading config file: %w", err)
		}
	}

	logger, err := logging.New(v.GetString("log-level"), v.GetString("log-format"), a.stderr)
	if err != nil {
		return configError("%w", err)
	}
	a.logger = logger
	if used := v.ConfigFileUsed(); used != "" {
		a.logger.Debug("Loaded config file", zap.String("path", used))
	}
	return nil
}
