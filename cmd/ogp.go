package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newOGPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ogp <url>",
		Short: "Prints a page's Open Graph title and image as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			meta, err := appInstance.Scraper().Scrape(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("scrape ogp: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}
}
