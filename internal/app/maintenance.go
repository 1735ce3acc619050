package app

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"intelligent-router/internal/common/logging"
)

// initializeMaintenance schedules the idle-entry sweep of the in-memory stores.
// Redis-backed state expires through key TTLs instead.
func (app *App) initializeMaintenance() error {
	if len(app.sweepers) == 0 || app.Config.StoreIdleTTL <= 0 {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(app.Config.MaintenanceSchedule, func() { app.sweep() }); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", app.Config.MaintenanceSchedule, err)
	}
	app.scheduler = scheduler

	app.Logger.Info("Maintenance: Scheduled",
		logging.Field{"schedule", app.Config.MaintenanceSchedule},
		logging.Field{"idle_ttl", app.Config.StoreIdleTTL.String()},
	)
	return nil
}

// sweep evicts idle entries from every in-memory store and returns the count per kind
func (app *App) sweep() map[string]int {
	kinds := make([]string, 0, len(app.sweepers))
	for kind := range app.sweepers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	evicted := make(map[string]int, len(kinds))
	for _, kind := range kinds {
		s := app.sweepers[kind]
		evicted[kind] = s.Sweep(app.Config.StoreIdleTTL)
		app.Logger.Debug("Store swept",
			logging.Field{"kind", kind},
			logging.Field{"evicted", evicted[kind]},
			logging.Field{"remaining", s.Len()},
		)
	}
	return evicted
}
