package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

func newSweepCmd() *cobra.Command {
	var (
		maxAgeHours float64
		all         bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Removes expired sessions once and exits",
		Long: `Removes every session older than --max-age-hours (the configured TTL when
unset), or every idle session with --all.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var res scraper.SweepResult
			switch {
			case all:
				res, err = appInstance.PurgeAll(cmd.Context())
			case cmd.Flags().Changed("max-age-hours"):
				if maxAgeHours < 0 {
					return fmt.Errorf("--max-age-hours must be >= 0")
				}
				res, err = appInstance.Sweep(cmd.Context(), time.Duration(maxAgeHours*float64(time.Hour)))
			default:
				res, err = appInstance.Sweep(cmd.Context(), appInstance.TTL())
			}
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
		},
	}
	cmd.Flags().Float64Var(&maxAgeHours, "max-age-hours", 0, "remove sessions older than this many hours")
	cmd.Flags().BoolVar(&all, "all", false, "remove every idle session regardless of age")
	cmd.MarkFlagsMutuallyExclusive("max-age-hours", "all")
	return cmd
}
