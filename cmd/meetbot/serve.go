package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/app"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session API",
		Long:  "Serve the HTTP API that starts and stops meeting sessions until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("config_path", configPath),
	)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("capture_command", cfg.Audio.CaptureCommand),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.String("transcription_url", cfg.Transcription.URL),
		slog.String("knowledge_backend", cfg.Knowledge.Backend),
		slog.Int("max_concurrent_sessions", cfg.Session.MaxConcurrentSessions),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics()

	application, err := app.New(ctx, cfg, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if !cfg.HTTP.Enabled {
		application.Close()
		return fmt.Errorf("http api is disabled, use the join command to run a single session")
	}

	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, application.Sessions, appMetrics)
	if err := httpServer.Start(); err != nil {
		application.Close()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// stop accepting requests before sessions are asked to leave
	httpCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Stop(httpCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := application.Shutdown(shutdownTimeout); err != nil {
		logger.Error("Sessions did not stop in time", slog.String("error", err.Error()))
	}

	stats := application.Sessions.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("started_sessions", stats.StartedSessions),
		slog.Uint64("failed_sessions", stats.FailedSessions),
		slog.Int("active_sessions", stats.ActiveSessions),
	)

	logger.Info("Service stopped")
	return nil
}
