package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/dbsandbox"
)

func newInstallCommand() *cobra.Command {
	var flags sandboxFlags

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download the server without starting it",
		Long: `Download and unpack the MongoDB server so that later runs start
without network access. Useful to pre-warm CI caches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := flags.options()
			if err != nil {
				return handleError(cmd, err, "Invalid configuration")
			}
			if err := dbsandbox.Install(cmd.Context(), opts...); err != nil {
				return handleError(cmd, err, "Install failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "installed")
			return nil
		},
	}
	flags.registerInstall(cmd)
	return cmd
}
