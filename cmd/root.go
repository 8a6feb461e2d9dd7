// Package cmd defines the CLI commands of the sitecapture executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/app"
	"github.com/JakeFAU/site-capture/internal/config"
)

const closeTimeout = 30 * time.Second

// rootOptions carries the persistent flags.
type rootOptions struct {
	cfgFile string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sitecapture",
		Short: "Crawl a website and capture its pages as PDF or JSON.",
		Long: `sitecapture discovers every page reachable from a start URL on the same
host, captures each one through a chain of fallback strategies, and writes a
merged PDF or per-page JSON records plus a run summary.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "",
		"config file (default is ./sitecapture.yaml or $HOME/.sitecapture/sitecapture.yaml)")

	cmd.AddCommand(newCrawlCmd(opts))
	cmd.AddCommand(newDiscoverCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context; runs in flight still write their partial output.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sitecapture:", err)
		os.Exit(1)
	}
}

// withApp builds the App for cfg, runs fn and closes the App, even when the
// command context has been canceled.
func withApp(ctx context.Context, cfg config.Config, fn func(*app.App) error, opts ...app.Option) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			a.Logger().Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()
	return fn(a)
}
