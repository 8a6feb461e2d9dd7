package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-capture/internal/app"
	"github.com/JakeFAU/site-capture/internal/config"
	"github.com/JakeFAU/site-capture/internal/crawler"
)

// errRunCanceled marks a run that stopped early but still wrote its output.
var errRunCanceled = errors.New("run canceled; partial output written")

type crawlOptions struct {
	outputDir  string
	maxDepth   int
	mode       string
	strategies []string
	workers    int
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl <start-url>",
		Short: "Discover and capture every page under a start URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.cfgFile)
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, &cfg); err != nil {
				return err
			}
			return withApp(cmd.Context(), cfg, func(a *app.App) error {
				return runCrawl(cmd, a, args[0])
			}, app.WithSpinner(cmd.ErrOrStderr()))
		},
	}
	opts.bind(cmd)
	return cmd
}

func (o *crawlOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.outputDir, "output-dir", "", "directory for run output (default output.dir)")
	flags.IntVar(&o.maxDepth, "max-depth", 0, "link depth to follow from the start URL (default discovery.max_depth)")
	flags.StringVar(&o.mode, "mode", "", "capture mode: pdf or json (default capture.mode)")
	flags.StringSliceVar(&o.strategies, "strategies", nil, "ordered capture strategies (default depends on mode)")
	flags.IntVar(&o.workers, "workers", 0, "concurrent captures (default orchestrator.workers)")
}

// apply overrides cfg with the flags the user set.
func (o *crawlOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.Output.Dir = o.outputDir
	}
	if flags.Changed("max-depth") {
		cfg.Discovery.MaxDepth = o.maxDepth
	}
	if flags.Changed("mode") {
		mode, err := crawler.ParseCaptureMode(o.mode)
		if err != nil {
			return err
		}
		cfg.Capture.Mode = string(mode)
	}
	if flags.Changed("strategies") {
		cfg.Capture.Strategies = o.strategies
	}
	if flags.Changed("workers") {
		cfg.Orchestrator.Workers = o.workers
	}
	return nil
}

func runCrawl(cmd *cobra.Command, a *app.App, startURL string) error {
	cfg := a.Config()
	runner, err := a.Runner(cfg.Mode())
	if err != nil {
		return err
	}
	summary, err := runner.CrawlAndCapture(cmd.Context(), startURL, cfg.Output.Dir, cfg.Discovery.MaxDepth)
	if err != nil {
		return fmt.Errorf("crawl %s: %w", startURL, err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	if summary.Canceled {
		return errRunCanceled
	}
	return nil
}
