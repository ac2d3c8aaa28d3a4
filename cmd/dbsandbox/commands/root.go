// Package commands implements the dbsandbox command line.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/giantswarm/dbsandbox"
)

// Version is reported by --version.
const Version = "0.1.0"

// Execute runs the root command. SIGINT and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "dbsandbox",
		Short: "Run a disposable MongoDB for tests",
		Long: `dbsandbox installs and runs a throwaway MongoDB server on a free port.
It is meant for local development and CI jobs that need a clean database.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLog(cmd, logLevel)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	root.AddCommand(newInstallCommand())
	root.AddCommand(newRunCommand())
	return root
}

// setupLog installs a text logger writing to the command's stderr.
func setupLog(cmd *cobra.Command, levelStr string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", levelStr, err)
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	dbsandbox.SetLogger(slog.New(handler).With("component", "dbsandbox"))
	return nil
}

// handleError prints err to the command's stderr and returns it.
func handleError(cmd *cobra.Command, err error, msg string) error {
	if err == nil {
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", msg, err)
	return err
}
