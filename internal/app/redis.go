package app

import (
	"context"
	"fmt"
	"time"

	"intelligent-router/internal/circuitbreaker"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/common/utils"
	"intelligent-router/internal/locks"
	"intelligent-router/internal/redis"
	"intelligent-router/internal/store"
)

// usesRedis reports whether any component needs a Redis connection
func (app *App) usesRedis() bool {
	return app.Config.StoreBackend == "redis" || app.Config.FeedbackStreamEnabled
}

func (app *App) initializeRedis() error {
	if !app.usesRedis() {
		app.Logger.Info("Redis: Not configured (in-memory state, outcomes over HTTP only)")
		return nil
	}

	var redisClient *redis.Client
	attempt := 0
	err := utils.RetryWithBackoff(context.Background(), app.Config.ConnectRetry(), func() error {
		attempt++
		client, err := redis.NewClient(app.Config.RedisConfig())
		if err != nil {
			app.Logger.Warn("Redis: Connection attempt failed",
				logging.Field{"attempt", attempt},
				logging.Field{"error", err.Error()},
			)
			return err
		}
		redisClient = client
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{"address", app.Config.RedisAddress})

	if app.Config.StoreBackend == "redis" {
		locker, err := locks.NewRedsyncLocker(redisClient, app.Config.LockConfig())
		if err != nil {
			return fmt.Errorf("failed to create key locker: %w", err)
		}
		app.Locker = locker
		app.Logger.Info("Distributed Locks: Enabled")
	}
	return nil
}

// storeTTL is the idle expiry of remote keys of kind. Contract terms stay until deleted.
func (app *App) storeTTL(kind string) time.Duration {
	if kind == kindContract {
		return 0
	}
	return app.Config.StoreIdleTTL
}

// newStore builds the state store of one engine on the configured backend
func newStore[S store.State[S]](app *App, kind string, factory store.Factory[S]) (store.Store[S], error) {
	if app.Config.StoreBackend != "redis" {
		memory := store.NewMemoryStore[S](factory, store.WithShards(app.Config.StoreShards))
		app.sweepers[kind] = memory
		return memory, nil
	}

	breaker := circuitbreaker.New("redis-"+kind, app.Config.BreakerConfig(), app.Logger)
	remote, err := store.NewRedisStore[S](app.RedisClient, app.Locker, breaker, store.RedisConfig{
		Namespace: app.Config.StoreNamespace,
		Kind:      kind,
		TTL:       app.storeTTL(kind),
	}, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", kind, err)
	}
	return remote, nil
}
