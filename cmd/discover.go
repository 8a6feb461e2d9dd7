package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-capture/internal/app"
	"github.com/JakeFAU/site-capture/internal/config"
	"github.com/JakeFAU/site-capture/internal/crawler"
)

// newDiscoverCmd creates the 'discover' subcommand, which lists the URLs a
// crawl would capture without capturing them.
func newDiscoverCmd(root *rootOptions) *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "discover <start-url>",
		Short: "Print the same-host URLs reachable from a start URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-depth") {
				cfg.Discovery.MaxDepth = maxDepth
			}
			target, err := crawler.NewCrawlTarget(args[0], cfg.Discovery.MaxDepth)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(a *app.App) error {
				urls, err := a.Discoverer().Discover(cmd.Context(), target)
				for _, u := range crawler.FilterExcluded(urls, cfg.Discovery.ExcludeMarkers) {
					fmt.Fprintln(cmd.OutOrStdout(), u)
				}
				if err != nil {
					return fmt.Errorf("discover %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "link depth to follow (default discovery.max_depth)")
	return cmd
}
