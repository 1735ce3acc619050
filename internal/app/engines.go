package app

import (
	"fmt"

	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/contract"
	"intelligent-router/internal/elimination"
	"intelligent-router/internal/feedback"
	"intelligent-router/internal/orchestrator"
	"intelligent-router/internal/routing"
	"intelligent-router/internal/successrate"
)

// Store kinds, one per engine
const (
	kindSuccessRate = "sr"
	kindElimination = "elim"
	kindContract    = "contract"
)

func (app *App) initializeEngines() error {
	srStore, err := newStore[successrate.Window](app, kindSuccessRate, successrate.NewWindow)
	if err != nil {
		return err
	}
	app.SuccessRate, err = successrate.NewEngine(srStore, app.Config.SuccessRateConfig())
	if err != nil {
		return fmt.Errorf("failed to create success rate engine: %w", err)
	}

	elimStore, err := newStore[elimination.Bucket](app, kindElimination, elimination.NewBucket)
	if err != nil {
		return err
	}
	app.Elimination, err = elimination.NewEngine(elimStore, app.Config.EliminationConfig())
	if err != nil {
		return fmt.Errorf("failed to create elimination engine: %w", err)
	}

	contractStore, err := newStore[contract.Score](app, kindContract, contract.NewScore)
	if err != nil {
		return err
	}
	app.Contract, err = contract.NewEngine(contractStore, app.Config.ContractConfig())
	if err != nil {
		return fmt.Errorf("failed to create contract engine: %w", err)
	}

	app.Rules = routing.NewStaticEngine(routing.WithProgramTTL(app.Config.RuleProgramTTL))

	app.Logger.Info("Routing Engines: Started",
		logging.Field{"backend", app.Config.StoreBackend},
		logging.Field{"exploration_rate", app.Config.SRExplorationRate},
	)
	return nil
}

func (app *App) initializeOrchestrator() error {
	orch, err := orchestrator.New(app.Rules, app.Elimination, app.SuccessRate, app.Contract,
		app.Config.OrchestratorConfig(),
		orchestrator.WithBlender(app.Config.Blender()),
		orchestrator.WithMetrics(app.Metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	app.Orchestrator = orch
	app.Logger.Info("Orchestrator: Ready", logging.Field{"budget", app.Config.DecisionBudget.String()})
	return nil
}

func (app *App) initializeFeedback() error {
	processor, err := feedback.NewProcessor(app.Orchestrator, app.Config.FeedbackConfig(),
		feedback.WithMetrics(app.Metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create feedback processor: %w", err)
	}
	app.Feedback = processor

	if !app.Config.FeedbackStreamEnabled {
		return nil
	}
	stream, err := feedback.NewStreamConsumer(app.RedisClient, processor, app.Config.StreamConfig())
	if err != nil {
		return fmt.Errorf("failed to create outcome stream consumer: %w", err)
	}
	app.Stream = stream
	app.Logger.Info("Outcome Stream: Enabled",
		logging.Field{"stream", app.Config.FeedbackStream},
		logging.Field{"group", app.Config.FeedbackGroup},
	)
	return nil
}
