package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/dbsandbox"
)

func newRunCommand() *cobra.Command {
	var flags sandboxFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a sandbox and keep it running until interrupted",
		Long: `Start a sandbox, verify that its database is empty and print the
connection URL. The server runs until SIGINT or SIGTERM, then is stopped
and its data directory removed. A non-empty database is refused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := flags.options()
			if err != nil {
				return handleError(cmd, err, "Invalid configuration")
			}
			return runSandbox(cmd, dbsandbox.NewSandbox(opts...))
		},
	}
	flags.registerRun(cmd)
	return cmd
}

// runSandbox drives sb through a lifecycle and blocks until the command
// context is canceled.
func runSandbox(cmd *cobra.Command, sb dbsandbox.Sandbox) error {
	ctx := cmd.Context()
	lc := sb.Lifecycle(nil)

	// Stop on every exit path; AfterAll is a no-op once stopped.
	defer func() {
		if err := lc.AfterAll(context.WithoutCancel(ctx)); err != nil {
			_ = handleError(cmd, err, "Stop failed")
		}
	}()

	if err := lc.BeforeAll(ctx, nil); err != nil {
		if errors.Is(err, dbsandbox.ErrUnsafeState) {
			return handleError(cmd, err, "Refusing to run against a non-empty database")
		}
		return handleError(cmd, err, "Start failed")
	}

	connOpts, err := sb.Options()
	if err != nil {
		return handleError(cmd, err, "Start failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), connOpts.URL)

	<-ctx.Done()
	return nil
}
