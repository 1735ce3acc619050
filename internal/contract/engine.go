// Package contract steers traffic toward connectors whose volume commitment
// is behind schedule. It turns committed vs fulfilled volume and the time left
// in the period into an additive priority boost.
package contract

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/models"
	"intelligent-router/internal/store"
)

// VolumeUnit says what one outcome contributes to fulfillment
type VolumeUnit string

const (
	// VolumeCount counts one per successful transaction
	VolumeCount VolumeUnit = "count"
	// VolumeAmount adds the transaction amount
	VolumeAmount VolumeUnit = "amount"
)

// Config holds the boost policy
type Config struct {
	MaxBoost               float64    `json:"max_boost"`
	Urgency                float64    `json:"urgency"`
	MinRemaining           float64    `json:"min_remaining"`
	OverfulfillmentPenalty float64    `json:"overfulfillment_penalty"`
	DefaultPeriod          Period     `json:"default_period"`
	VolumeUnit             VolumeUnit `json:"volume_unit"`
}

// DefaultConfig returns a unit boost ceiling with monthly count-based commitments
func DefaultConfig() Config {
	return Config{
		MaxBoost:               1,
		Urgency:                1,
		MinRemaining:           0.05,
		OverfulfillmentPenalty: 0.5,
		DefaultPeriod:          PeriodMonthly,
		VolumeUnit:             VolumeCount,
	}
}

// Validate checks the policy is usable
func (c Config) Validate() error {
	if c.MaxBoost < 0 {
		return fmt.Errorf("max boost must not be negative")
	}
	if c.Urgency <= 0 {
		return fmt.Errorf("urgency must be positive")
	}
	if c.MinRemaining <= 0 || c.MinRemaining > 1 {
		return fmt.Errorf("min remaining must be in (0,1], got %v", c.MinRemaining)
	}
	if c.OverfulfillmentPenalty < 0 {
		return fmt.Errorf("overfulfillment penalty must not be negative")
	}
	if c.DefaultPeriod != PeriodMonthly && c.DefaultPeriod != PeriodWeekly {
		return fmt.Errorf("default period must be monthly or weekly, got %q", c.DefaultPeriod)
	}
	if c.VolumeUnit != VolumeCount && c.VolumeUnit != VolumeAmount {
		return fmt.Errorf("volume unit must be count or amount, got %q", c.VolumeUnit)
	}
	return nil
}

// Terms are the contract terms supplied by the configuration layer
type Terms struct {
	Committed decimal.Decimal `json:"committed"`
	Period    Period          `json:"period"`
	// Length is required for fixed periods
	Length time.Duration `json:"length,omitempty"`
}

// Boost is the contract contribution for one entity
type Boost struct {
	Value      float64         `json:"priority_boost"`
	Committed  decimal.Decimal `json:"committed"`
	Fulfilled  decimal.Decimal `json:"fulfilled"`
	Shortfall  float64         `json:"shortfall"`
	Remaining  float64         `json:"remaining"`
	PeriodEnd  *time.Time      `json:"period_end,omitempty"`
	NoContract bool            `json:"no_contract,omitempty"`
	Degraded   bool            `json:"degraded,omitempty"`
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

// Engine is the contract routing engine
type Engine struct {
	store  store.Store[Score]
	config Config
	now    func() time.Time
	logger logging.Logger
}

// NewEngine creates a contract engine over st
func NewEngine(st store.Store[Score], config Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid contract config: %w", err)
	}

	e := &Engine{store: st, config: config, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.GetGlobalLogger().WithFields(logging.Field{"component", "contract"})
	}
	return e, nil
}

// VolumeOf returns the fulfillment an outcome contributes
func (e *Engine) VolumeOf(event models.OutcomeEvent) decimal.Decimal {
	if !event.Success {
		return decimal.Zero
	}
	if e.config.VolumeUnit == VolumeAmount {
		return event.Amount
	}
	return decimal.NewFromInt(1)
}

// SetCommitment installs contract terms. Fulfillment of the running period is
// kept when the period kind does not change.
func (e *Engine) SetCommitment(ctx context.Context, entity models.RoutableEntity, terms Terms) (Score, error) {
	if !terms.Committed.IsPositive() {
		return Score{}, errors.ValidationError("committed volume must be positive")
	}
	if terms.Period == "" {
		terms.Period = e.config.DefaultPeriod
	}
	if !terms.Period.Valid() {
		return Score{}, errors.ValidationError(fmt.Sprintf("unknown period %q", terms.Period))
	}
	if terms.Period == PeriodFixed && terms.Length <= 0 {
		return Score{}, errors.ValidationError("fixed period requires a positive length")
	}

	now := e.now()
	score, err := e.store.Update(ctx, entity.Key(), func(s *Score) error {
		if err := s.rollover(now); err != nil {
			return err
		}

		samePeriod := s.started() && s.Period == terms.Period && s.PeriodLength == terms.Length
		if !samePeriod {
			start, end, err := Bounds(terms.Period, now, now, terms.Length)
			if err != nil {
				return errors.ValidationErrorf(err, "invalid contract period")
			}
			s.Period = terms.Period
			s.PeriodLength = terms.Length
			s.PeriodStart = start
			s.PeriodEnd = end
			s.Fulfilled = decimal.Zero
		}
		s.Committed = terms.Committed
		return nil
	})
	if err != nil {
		return Score{}, fmt.Errorf("set commitment for %s: %w", entity, err)
	}

	e.logger.Info("Contract commitment set",
		logging.Field{"entity", entity.Key()},
		logging.Field{"committed", terms.Committed.String()},
		logging.Field{"period", string(terms.Period)},
	)
	return score, nil
}

// ReportFulfillment adds delta to the current period's fulfilled volume
func (e *Engine) ReportFulfillment(ctx context.Context, entity models.RoutableEntity, delta decimal.Decimal) (Score, error) {
	if delta.IsNegative() {
		return Score{}, errors.ValidationError("fulfillment delta must not be negative")
	}

	now := e.now()
	score, err := e.store.Update(ctx, entity.Key(), func(s *Score) error {
		if !s.started() {
			start, end, err := Bounds(e.config.DefaultPeriod, now, now, 0)
			if err != nil {
				return err
			}
			s.Period = e.config.DefaultPeriod
			s.PeriodStart = start
			s.PeriodEnd = end
		}
		if err := s.rollover(now); err != nil {
			return err
		}
		s.Fulfilled = s.Fulfilled.Add(delta)
		return nil
	})
	if err != nil {
		return Score{}, fmt.Errorf("report fulfillment for %s: %w", entity, err)
	}
	return score, nil
}

// FetchScore returns the priority boost of entity: positive and growing while
// behind on the commitment, zero at exactly the commitment, negative past it.
func (e *Engine) FetchScore(ctx context.Context, entity models.RoutableEntity) (Boost, error) {
	score, err := e.store.Read(ctx, entity.Key())
	if err != nil {
		return Boost{Degraded: true}, fmt.Errorf("fetch contract score for %s: %w", entity, err)
	}
	return e.boost(score, e.now()), nil
}

// FetchScores batch-reads boosts keyed by entity key. On a store failure every
// entity gets a neutral boost alongside the error.
func (e *Engine) FetchScores(ctx context.Context, entities []models.RoutableEntity) (map[string]Boost, error) {
	keys := make([]string, len(entities))
	for i, entity := range entities {
		keys[i] = entity.Key()
	}

	result := make(map[string]Boost, len(entities))
	scores, err := e.store.List(ctx, keys)
	if err != nil {
		for _, key := range keys {
			result[key] = Boost{Degraded: true}
		}
		return result, fmt.Errorf("fetch contract scores: %w", err)
	}

	now := e.now()
	for _, key := range keys {
		result[key] = e.boost(scores[key], now)
	}
	return result, nil
}

// Invalidate resets fulfillment of the current period; the commitment is kept
func (e *Engine) Invalidate(ctx context.Context, entity models.RoutableEntity) error {
	now := e.now()
	_, err := e.store.Update(ctx, entity.Key(), func(s *Score) error {
		if err := s.rollover(now); err != nil {
			return err
		}
		s.Fulfilled = decimal.Zero
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate contract for %s: %w", entity, err)
	}
	return nil
}

func (e *Engine) boost(score Score, now time.Time) Boost {
	if err := score.rollover(now); err != nil {
		e.logger.Error("Corrupt contract state", err)
		return Boost{NoContract: true}
	}

	b := Boost{
		Committed: score.Committed,
		Fulfilled: score.Fulfilled,
	}
	if score.started() {
		end := score.PeriodEnd
		b.PeriodEnd = &end
		b.Remaining = score.remainingFraction(now)
	}
	if !score.HasCommitment() {
		b.NoContract = true
		return b
	}

	committed := score.Committed
	if score.Fulfilled.GreaterThanOrEqual(committed) {
		over := score.Fulfilled.Sub(committed).Div(committed).InexactFloat64()
		b.Value = -e.config.OverfulfillmentPenalty * math.Min(1, over)
		if b.Value == 0 {
			// normalize -0 at exactly the commitment
			b.Value = 0
		}
		return b
	}

	shortfall := committed.Sub(score.Fulfilled).Div(committed).InexactFloat64()
	b.Shortfall = shortfall
	remaining := math.Max(b.Remaining, e.config.MinRemaining)
	b.Value = e.config.MaxBoost * (1 - math.Exp(-e.config.Urgency*shortfall/remaining))
	return b
}
