package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/jamicool/PPD/internal/catalog"
	"github.com/jamicool/PPD/internal/config"
	"github.com/jamicool/PPD/internal/core"
	"github.com/jamicool/PPD/internal/driver"
	"github.com/jamicool/PPD/internal/hub"
	"github.com/jamicool/PPD/internal/observability"
	"github.com/jamicool/PPD/internal/server"
)

func main() {
	envErr := godotenv.Load()

	cfgPath := os.Getenv("PIPELINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file found, using environment and defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load element catalog: %w", err)
	}

	store, err := driver.Open(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	pipeline := core.NewPipeline(store, cat, logger)
	pipeline.ListLimit = cfg.Server.ListLimit
	pipeline.SimulationDelay = cfg.Simulation.RESTDelay.Duration

	h := hub.New(hub.Options{
		Steps:     cfg.Simulation.Steps,
		StepDelay: cfg.Simulation.StepDelay.Duration,
		Logger:    logger,
		Metrics:   metrics,
	})

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.NewServer(pipeline, h, metrics, logger).SetupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	logger.Info("closing simulation hub", "connections", h.Connections())
	// hijacked websocket connections are not closed by Shutdown
	h.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
