package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/handlers"
	"intelligent-router/internal/middleware"
	"intelligent-router/internal/server"
)

// Router builds the HTTP API over the application's components
func (app *App) Router() (http.Handler, error) {
	checks := map[string]handlers.HealthCheck{}
	if app.RedisClient != nil {
		checks["redis"] = app.RedisClient.Health
	}

	h, err := handlers.New(handlers.Deps{
		Orchestrator: app.Orchestrator,
		Rules:        app.Rules,
		SuccessRate:  app.SuccessRate,
		Elimination:  app.Elimination,
		Contract:     app.Contract,
		Feedback:     app.Feedback,
		Metrics:      app.Metrics.Handler(),
		Checks:       checks,
	})
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logging.GetGlobalLogger().WithFields(logging.Field{"component", "http"})))
	h.RegisterRoutes(router)
	return router, nil
}

// RunServer starts the HTTP server with all handlers configured
func (app *App) RunServer() (*server.Server, error) {
	router, err := app.Router()
	if err != nil {
		return nil, err
	}

	srv := server.New(router, app.Config.Port)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	app.Logger.Info("HTTP server listening", logging.Field{"address", srv.Addr()})
	return srv, nil
}
