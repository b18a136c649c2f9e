// Package cmd defines and implements the CLI commands for the scraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/page-scraper/internal/config"
	"github.com/JakeFAU/page-scraper/internal/scraper"
	"github.com/JakeFAU/page-scraper/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Scrape(ctx context.Context, req scraper.ScrapeRequest) (scraper.ScrapeResult, error)
	Sweep(ctx context.Context, maxAge time.Duration) (scraper.SweepResult, error)
	PurgeAll(ctx context.Context) (scraper.SweepResult, error)
	TTL() time.Duration
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return server.Build(ctx, &cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Scrapes one page into a downloadable session of links and images.",
		Long: `scraper fetches a single web page, extracts its links into a CSV file and
downloads its images into a per-session directory. Sessions expire after a
configurable time-to-live and are reclaimed by a background sweeper.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application once the flags are parsed, before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(cmd.Context())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); SCRAPER_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
