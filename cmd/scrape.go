package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/page-scraper/internal/scraper"
)

func newScrapeCmd() *cobra.Command {
	var headers []string
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrapes one page and prints the session summary as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			result, scrapeErr := appInstance.Scrape(cmd.Context(), scraper.ScrapeRequest{URL: args[0], Headers: h})
			if result.SessionID != "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
			}
			return scrapeErr
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `request header for the page fetch, "Name: value" (repeatable)`)
	return cmd
}

func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header, len(raw))
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
