package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the session sweeper",
		Long: `Starts the HTTP API, sweeps expired sessions once at startup and then on
the configured interval, and shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Run(cmd.Context())
		},
	}
}
