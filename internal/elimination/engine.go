// Package elimination quarantines connectors that fail too often. Each entity
// runs a small state machine, Active -> Tripped -> Eliminated -> Active, driven
// by outcome reports and by its cooldown clock.
package elimination

import (
	"context"
	"fmt"
	"sort"
	"time"

	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/models"
	"intelligent-router/internal/store"
)

// Config holds the trip thresholds and cooldown policy
type Config struct {
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	FailureRateThreshold   float64       `json:"failure_rate_threshold"`
	MinAttempts            int           `json:"min_attempts"`
	EvaluationWindow       time.Duration `json:"evaluation_window"`
	BaseCooldown           time.Duration `json:"base_cooldown"`
	MaxCooldown            time.Duration `json:"max_cooldown"`
	BackoffResetAfter      time.Duration `json:"backoff_reset_after"`
	SuccessDecay           int           `json:"success_decay"`
}

// DefaultConfig trips on 5 consecutive failures or a 50% failure rate over at
// least 10 attempts in 5 minutes, cooling down 1m, 2m, 4m... up to 30m.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		FailureRateThreshold:   0.5,
		MinAttempts:            10,
		EvaluationWindow:       5 * time.Minute,
		BaseCooldown:           time.Minute,
		MaxCooldown:            30 * time.Minute,
		BackoffResetAfter:      time.Hour,
		SuccessDecay:           1,
	}
}

// Validate checks the policy is usable
func (c Config) Validate() error {
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max consecutive failures must be positive")
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		return fmt.Errorf("failure rate threshold must be in (0,1], got %v", c.FailureRateThreshold)
	}
	if c.MinAttempts <= 0 {
		return fmt.Errorf("min attempts must be positive")
	}
	if c.EvaluationWindow <= 0 {
		return fmt.Errorf("evaluation window must be positive")
	}
	if c.BaseCooldown <= 0 {
		return fmt.Errorf("base cooldown must be positive")
	}
	if c.MaxCooldown < c.BaseCooldown {
		return fmt.Errorf("max cooldown %v is below base cooldown %v", c.MaxCooldown, c.BaseCooldown)
	}
	if c.BackoffResetAfter <= 0 {
		return fmt.Errorf("backoff reset must be positive")
	}
	if c.SuccessDecay < 0 {
		return fmt.Errorf("success decay must not be negative")
	}
	return nil
}

// Cooldown is BaseCooldown doubled for every trip after the first, capped at MaxCooldown
func (c Config) Cooldown(tripCount int) time.Duration {
	cooldown := c.BaseCooldown
	for i := 1; i < tripCount; i++ {
		cooldown *= 2
		if cooldown >= c.MaxCooldown {
			return c.MaxCooldown
		}
	}
	if cooldown > c.MaxCooldown {
		return c.MaxCooldown
	}
	return cooldown
}

// Update is the result of recording one outcome
type Update struct {
	Entity        models.RoutableEntity `json:"entity"`
	Previous      State                 `json:"previous"`
	State         State                 `json:"state"`
	CooldownUntil *time.Time            `json:"cooldown_until,omitempty"`
	TripCount     int                   `json:"trip_count"`
}

// Tripped reports whether this outcome eliminated the entity
func (u Update) Tripped() bool {
	return u.State == StateTripped
}

// Status is the effective view of one entity at read time
type Status struct {
	Entity              models.RoutableEntity `json:"entity"`
	State               State                 `json:"state"`
	Eliminated          bool                  `json:"eliminated"`
	Failures            int64                 `json:"failures"`
	Attempts            int64                 `json:"attempts"`
	ConsecutiveFailures int64                 `json:"consecutive_failures"`
	FailureRate         float64               `json:"failure_rate"`
	TripCount           int                   `json:"trip_count"`
	CooldownUntil       *time.Time            `json:"cooldown_until,omitempty"`
}

// EliminatedEntity is one entry of an eliminated list
type EliminatedEntity struct {
	Entity        models.RoutableEntity `json:"entity"`
	CooldownUntil time.Time             `json:"cooldown_until"`
	TripCount     int                   `json:"trip_count"`
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine is the elimination engine
type Engine struct {
	store  store.Store[Bucket]
	config Config
	now    func() time.Time
	logger logging.Logger
}

// NewEngine creates an elimination engine over st
func NewEngine(st store.Store[Bucket], config Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid elimination config: %w", err)
	}

	e := &Engine{store: st, config: config, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.GetGlobalLogger().WithFields(logging.Field{"component", "elimination"})
	}
	return e, nil
}

// RecordFailure counts a failed attempt and trips the entity when a threshold is crossed
func (e *Engine) RecordFailure(ctx context.Context, entity models.RoutableEntity) (Update, error) {
	return e.RecordOutcome(ctx, entity, false)
}

// RecordSuccess counts a successful attempt and decays the failure counter
func (e *Engine) RecordSuccess(ctx context.Context, entity models.RoutableEntity) (Update, error) {
	return e.RecordOutcome(ctx, entity, true)
}

// RecordOutcome applies one outcome to the entity's bucket
func (e *Engine) RecordOutcome(ctx context.Context, entity models.RoutableEntity, success bool) (Update, error) {
	now := e.now()
	var previous, reported State

	bucket, err := e.store.Update(ctx, entity.Key(), func(b *Bucket) error {
		previous = b.State
		var err error
		if success {
			reported, err = b.recordSuccess(now, e.config)
		} else {
			reported, err = b.recordFailure(now, e.config)
		}
		return err
	})
	if err != nil {
		return Update{}, fmt.Errorf("record outcome for %s: %w", entity, err)
	}

	update := Update{
		Entity:    entity,
		Previous:  previous,
		State:     reported,
		TripCount: bucket.TripCount,
	}
	if bucket.State == StateEliminated {
		until := bucket.CooldownUntil
		update.CooldownUntil = &until
	}

	if update.Tripped() {
		e.logger.Warn("Connector eliminated",
			logging.Field{"entity", entity.Key()},
			logging.Field{"trip_count", bucket.TripCount},
			logging.Field{"cooldown_until", bucket.CooldownUntil},
			logging.Field{"consecutive_failures", bucket.ConsecutiveFailures},
			logging.Field{"failure_rate", bucket.FailureRate()},
		)
	}
	return update, nil
}

// IsEliminated is a pure read: true iff the entity is Eliminated and its cooldown has not expired
func (e *Engine) IsEliminated(ctx context.Context, entity models.RoutableEntity) (bool, error) {
	bucket, err := e.store.Read(ctx, entity.Key())
	if err != nil {
		return false, fmt.Errorf("read elimination state for %s: %w", entity, err)
	}
	return bucket.Eliminated(e.now()), nil
}

// Status returns the effective state of entity without writing it back
func (e *Engine) Status(ctx context.Context, entity models.RoutableEntity) (Status, error) {
	bucket, err := e.store.Read(ctx, entity.Key())
	if err != nil {
		return Status{Entity: entity, State: StateActive}, fmt.Errorf("read elimination state for %s: %w", entity, err)
	}
	return e.status(entity, bucket, e.now()), nil
}

// Statuses batch-reads the effective state of entities keyed by entity key.
// On a store failure every entity reads Active alongside the error.
func (e *Engine) Statuses(ctx context.Context, entities []models.RoutableEntity) (map[string]Status, error) {
	keys := make([]string, len(entities))
	for i, entity := range entities {
		keys[i] = entity.Key()
	}

	result := make(map[string]Status, len(entities))
	buckets, err := e.store.List(ctx, keys)
	if err != nil {
		for _, entity := range entities {
			result[entity.Key()] = Status{Entity: entity, State: StateActive}
		}
		return result, fmt.Errorf("read elimination states: %w", err)
	}

	now := e.now()
	for _, entity := range entities {
		result[entity.Key()] = e.status(entity, buckets[entity.Key()], now)
	}
	return result, nil
}

func (e *Engine) status(entity models.RoutableEntity, bucket Bucket, now time.Time) Status {
	if err := bucket.refresh(now, e.config); err != nil {
		e.logger.Error("Corrupt elimination state", err, logging.Field{"entity", entity.Key()})
		bucket = NewBucket()
	}

	status := Status{
		Entity:              entity,
		State:               bucket.State,
		Eliminated:          bucket.Eliminated(now),
		Failures:            bucket.Failures,
		Attempts:            bucket.Attempts,
		ConsecutiveFailures: bucket.ConsecutiveFailures,
		FailureRate:         bucket.FailureRate(),
		TripCount:           bucket.TripCount,
	}
	if status.Eliminated {
		until := bucket.CooldownUntil
		status.CooldownUntil = &until
	}
	return status
}

// FetchEliminated lists the entities under scope currently excluded, sorted by key
func (e *Engine) FetchEliminated(ctx context.Context, scope models.Scope) ([]EliminatedEntity, error) {
	buckets, err := e.store.Scan(ctx, scope.Prefix())
	if err != nil {
		return nil, fmt.Errorf("fetch eliminated for %s: %w", scope, err)
	}

	now := e.now()
	eliminated := []EliminatedEntity{}
	for key, bucket := range buckets {
		if !bucket.Eliminated(now) {
			continue
		}
		entity, err := models.ParseEntityKey(key)
		if err != nil {
			e.logger.Warn("Skipping malformed elimination key", logging.Field{"key", key})
			continue
		}
		eliminated = append(eliminated, EliminatedEntity{
			Entity:        entity,
			CooldownUntil: bucket.CooldownUntil,
			TripCount:     bucket.TripCount,
		})
	}

	sort.Slice(eliminated, func(i, j int) bool {
		return eliminated[i].Entity.Key() < eliminated[j].Entity.Key()
	})
	return eliminated, nil
}

// Invalidate force-resets entity to Active with cleared counters
func (e *Engine) Invalidate(ctx context.Context, entity models.RoutableEntity) error {
	if err := e.store.Invalidate(ctx, entity.Key()); err != nil {
		return fmt.Errorf("invalidate elimination state for %s: %w", entity, err)
	}
	e.logger.Info("Elimination state invalidated", logging.Field{"entity", entity.Key()})
	return nil
}
