package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bookrelay/bookrelay/internal/bookrelay/config"
	"github.com/bookrelay/bookrelay/internal/bookrelay/server"
	"github.com/bookrelay/bookrelay/internal/common/logtrace"
)

func newServeCmd() *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the booking HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logtrace.SetTraceEnabled(trace)
			return runServer(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&trace, "trace-routes", false, "Log every mounted route at startup")
	return cmd
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := config.LoadConfig(configFile); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	cfg := config.Config()
	logtrace.InitLogger(cfg.LogLevel)
	slog := log.With().Str("state", "init").Logger()
	slog.Info().Str("config_file", configFile).Msg("config loaded")

	if cfg.Worker.Strategy == config.StrategyProcess {
		if cfg.Worker.Options == nil {
			cfg.Worker.Options = make(map[string]any)
		}
		if _, ok := cfg.Worker.Options["args"]; !ok {
			cfg.Worker.Options["args"] = []string{"worker", "--config", configFile}
		}
	}

	svc, err := server.NewService(cfg)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	svc.Start(ctx)

	s, err := server.CreateNewServer(svc.Orchestrator, svc.Metrics)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              cfg.ServerHostName + ":" + cfg.ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", srv.Addr).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		// Give outstanding requests 5 seconds to complete.
		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop server")
			}
		}
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := svc.Stop(stopCtx); err != nil {
		slog.Error().Err(err).Msg("service did not stop cleanly")
	}

	slog.Info().Msg("server stopped")
	return runErr
}
