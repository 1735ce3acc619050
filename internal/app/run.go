package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/config"
)

const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	if err := config.LoadDotEnv(); err != nil {
		logging.Warn("Failed to load .env file", logging.Field{"error", err})
	}

	cfg := config.Load()

	// Initialize logging
	if _, err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFormat == "json"); err != nil {
		logging.Error("Failed to initialize logger", err)
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting intelligent router",
		logging.Field{"cpus", runtime.NumCPU()},
		logging.Field{"store_backend", cfg.StoreBackend},
	)

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Start(context.Background()); err != nil {
		logging.Error("Failed to start background workers", err)
		return err
	}

	srv, err := app.RunServer()
	if err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal or a fatal serve error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-srv.Errors():
		logging.Error("Server stopped unexpectedly", serveErr)
	}

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting decisions before draining outcomes
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}
	if err := app.Shutdown(ctx); err != nil {
		logging.Warn("Error during app shutdown", logging.Field{"error", err})
	}

	logging.Info("Server exited")
	return serveErr
}
