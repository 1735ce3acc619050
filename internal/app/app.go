package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/config"
	"intelligent-router/internal/contract"
	"intelligent-router/internal/elimination"
	"intelligent-router/internal/feedback"
	"intelligent-router/internal/locks"
	"intelligent-router/internal/metrics"
	"intelligent-router/internal/orchestrator"
	"intelligent-router/internal/redis"
	"intelligent-router/internal/routing"
	"intelligent-router/internal/store"
	"intelligent-router/internal/successrate"
)

// App holds all the application dependencies
type App struct {
	Config *config.Config
	Logger logging.Logger

	RedisClient *redis.Client
	Locker      locks.KeyLocker
	Metrics     *metrics.PromRecorder

	Rules        *routing.StaticEngine
	SuccessRate  *successrate.Engine
	Elimination  *elimination.Engine
	Contract     *contract.Engine
	Orchestrator *orchestrator.Orchestrator
	Feedback     *feedback.Processor
	Stream       *feedback.StreamConsumer

	// sweepers are the in-memory stores evicted by the maintenance job
	sweepers  map[string]store.Sweeper
	scheduler *cron.Cron

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new application instance with all dependencies
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logging.GetGlobalLogger().WithFields(logging.Field{"component", "app"}),
		sweepers: make(map[string]store.Sweeper),
	}

	// Initialize components in order of dependency
	if err := app.initializeRedis(); err != nil {
		return nil, err
	}

	recorder, err := metrics.NewPromRecorder()
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	app.Metrics = recorder

	if err := app.initializeEngines(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeOrchestrator(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeFeedback(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeMaintenance(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Start launches the background workers: feedback processing, the outcome
// stream consumer and the maintenance schedule
func (app *App) Start(ctx context.Context) error {
	if err := app.Feedback.Start(ctx); err != nil {
		return fmt.Errorf("failed to start feedback processor: %w", err)
	}

	if app.Stream != nil {
		streamCtx, cancel := context.WithCancel(ctx)
		app.cancel = cancel
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.Stream.Run(streamCtx); err != nil {
				app.Logger.Error("Outcome stream consumer stopped", err)
			}
		}()
	}

	if app.scheduler != nil {
		app.scheduler.Start()
	}
	return nil
}

// Shutdown stops the background workers, draining queued outcomes
func (app *App) Shutdown(ctx context.Context) error {
	if app.scheduler != nil {
		<-app.scheduler.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		// the stream consumer stops feeding before the queue drains
		if app.cancel != nil {
			app.cancel()
		}
		app.wg.Wait()
		app.Feedback.Stop()
		close(done)
	}()

	select {
	case <-done:
		app.Logger.Info("Background workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Error closing Redis client", logging.Field{"error", err})
		}
	}
}
