package main

import (
	"errors"
	"fmt"
	"os"

	"code.cloudfoundry.org/lager/v3"
	"github.com/spf13/cobra"

	"github.com/deftio/pocketdock"
	"github.com/deftio/pocketdock/client"
	"github.com/deftio/pocketdock/project"
)

// Exit codes: 0 success, 1 user error, 2 usage error, 3 engine not
// reachable.
const (
	exitUserError  = 1
	exitUsageError = 2
	exitNoEngine   = 3
)

type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func exitCodeFor(err error) int {
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsageError
	}
	var unavailable pocketdock.EngineUnavailableError
	var connErr pocketdock.SocketConnectionError
	if errors.As(err, &unavailable) || errors.As(err, &connErr) {
		return exitNoEngine
	}
	return exitUserError
}

// exactArgs is cobra.ExactArgs with usage-error classification.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("%s requires exactly %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usageError{fmt.Errorf("%s accepts at most %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}

type globalFlags struct {
	socket   string
	logLevel string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "pocketdock",
		Short:         "Manage OCI container sandboxes over the engine socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringVar(&flags.socket, "socket", "", "engine socket path (overrides auto-detection)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warning, error")

	root.AddCommand(
		newCreateCommand(flags),
		newRunCommand(flags),
		newPushCommand(flags),
		newPullCommand(flags),
		newInfoCommand(flags),
		newListCommand(flags),
		newRebootCommand(flags),
		newStopCommand(flags),
		newResumeCommand(flags),
		newShutdownCommand(flags),
		newSnapshotCommand(flags),
		newPruneCommand(flags),
		newShellCommand(flags),
		newLogsCommand(flags),
		newDoctorCommand(flags),
		newBuildCommand(flags),
		newExportCommand(flags),
		newImportCommand(flags),
		newInitCommand(),
		newProfilesCommand(),
	)
	return root
}

// newLogger builds the CLI's lager logger honoring the configured
// level.
func newLogger(flags *globalFlags, cfg project.Config) lager.Logger {
	level := flags.logLevel
	if level == "" {
		level = cfg.LogLevel
	}

	lagerLevel := lager.INFO
	switch level {
	case "debug":
		lagerLevel = lager.DEBUG
	case "warning", "error":
		lagerLevel = lager.ERROR
	}

	logger := lager.NewLogger("pocketdock")
	logger.RegisterSink(lager.NewWriterSink(os.Stderr, lagerLevel))
	return logger
}

// dial resolves configuration and opens a Client. The socket comes
// from the --socket flag, then the project config, then auto-detection.
func dial(flags *globalFlags) (pocketdock.Client, project.Config, lager.Logger, error) {
	root := project.FindRoot("")
	cfg := project.LoadConfig(root)
	logger := newLogger(flags, cfg)

	socket := flags.socket
	if socket == "" {
		socket = cfg.Socket
	}

	cl, err := client.Dial(socket, logger)
	if err != nil {
		return nil, cfg, logger, err
	}
	return cl, cfg, logger, nil
}

// resume is the common "operate on an existing container" prelude.
func resume(flags *globalFlags, name string) (pocketdock.Container, project.Config, error) {
	cl, cfg, _, err := dial(flags)
	if err != nil {
		return nil, cfg, err
	}
	container, err := cl.Resume(name)
	if err != nil {
		return nil, cfg, err
	}
	return container, cfg, nil
}
