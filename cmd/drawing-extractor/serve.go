package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/drawing-extractor/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve one review session over HTTP",
	Long: `Serve starts the review API. All uploads share one session: the processing
table lives until the server stops, and its cache entries are purged on shutdown.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	cfg := a.cfg

	router := server.NewRouter(a.logger, a.session, server.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Version:        version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			a.close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		a.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Graceful shutdown failed")
			_ = srv.Close()
		}
		a.close(ctx)
	}

	a.logger.Info().Msg("Server stopped")
	return nil
}
