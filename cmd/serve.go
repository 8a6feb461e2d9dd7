package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-capture/internal/api"
	"github.com/JakeFAU/site-capture/internal/app"
	"github.com/JakeFAU/site-capture/internal/config"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/storage/memory"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API that starts and tracks capture runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			return withApp(cmd.Context(), cfg, func(a *app.App) error {
				return serve(cmd.Context(), a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func serve(ctx context.Context, a *app.App) error {
	cfg := a.Config()
	logger := a.Logger()
	runners := func(mode crawler.CaptureMode) (api.Runner, error) {
		r, err := a.Runner(mode)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	server := api.NewServer(memory.NewRunRegistry(), runners, a.IDGenerator(), api.Config{
		OutputDir:         cfg.Output.Dir,
		DefaultMaxDepth:   cfg.Discovery.MaxDepth,
		DefaultMode:       cfg.Mode(),
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs still in flight at shutdown", zap.Error(err))
	}
	return serveErr
}
