package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/codecraft/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the codecraft HTTP API and block until SIGINT or SIGTERM.

Examples:
  # Start with defaults (0.0.0.0:8000, in-memory run store)
  OPENROUTER_API_KEY=sk-or-... codecraft serve

  # Use a config file and a different port
  CODECRAFT_SERVER_PORT=9000 codecraft serve --config codecraft.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(a.runner, a.events, a.registry, a.logger, &server.Config{
		Host:          a.cfg.Server.Host,
		Port:          a.cfg.Server.Port,
		Provider:      a.cfg.LLM.Provider,
		Model:         a.modelName,
		LLMConfigured: a.cfg.LLMConfigured(),
		Version:       version,
	})
	if err != nil {
		a.close(context.Background())
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		a.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown failed", zap.Error(err))
	}
	a.close(shutdownCtx)
	return nil
}
