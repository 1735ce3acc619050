// Package successrate estimates per-connector authorization success from a
// bucketed sliding window of outcomes and ranks candidates by that estimate.
//
// The estimate blends observed counts with a prior:
//
//	(success + PriorWeight*Prior) / (total + PriorWeight)
//
// so an entity with no history reads exactly Prior and a handful of samples
// cannot swing it to 0 or 1.
package successrate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/sampleuv"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/models"
	"intelligent-router/internal/store"
)

// Config holds the success-rate policy
type Config struct {
	WindowDuration  time.Duration `json:"window_duration"`
	BucketCount     int           `json:"bucket_count"`
	Prior           float64       `json:"prior"`
	PriorWeight     float64       `json:"prior_weight"`
	ExplorationRate float64       `json:"exploration_rate"`
}

// DefaultConfig returns a 15 minute window in one-minute buckets with a 0.5 prior
func DefaultConfig() Config {
	return Config{
		WindowDuration:  15 * time.Minute,
		BucketCount:     15,
		Prior:           0.5,
		PriorWeight:     2,
		ExplorationRate: 0,
	}
}

// Validate checks the policy is usable
func (c Config) Validate() error {
	if c.WindowDuration <= 0 {
		return fmt.Errorf("window duration must be positive")
	}
	if c.BucketCount <= 0 {
		return fmt.Errorf("bucket count must be positive")
	}
	if c.WindowDuration/time.Duration(c.BucketCount) <= 0 {
		return fmt.Errorf("window duration %v is too short for %d buckets", c.WindowDuration, c.BucketCount)
	}
	if c.Prior < 0 || c.Prior > 1 {
		return fmt.Errorf("prior must be in [0,1], got %v", c.Prior)
	}
	if c.PriorWeight <= 0 {
		return fmt.Errorf("prior weight must be positive")
	}
	if c.ExplorationRate < 0 || c.ExplorationRate > 1 {
		return fmt.Errorf("exploration rate must be in [0,1], got %v", c.ExplorationRate)
	}
	return nil
}

// Rate is a smoothed success probability with the sample size behind it
type Rate struct {
	Probability float64 `json:"probability"`
	SampleSize  int64   `json:"sample_size"`
	// Degraded is set when the estimate is the prior because state was unreachable
	Degraded bool `json:"degraded,omitempty"`
}

// Ranked is one candidate of a ranking
type Ranked struct {
	Entity models.RoutableEntity `json:"entity"`
	Rate   Rate                  `json:"rate"`
}

// Snapshot exposes the raw window of an entity for auditing
type Snapshot struct {
	Entity  models.RoutableEntity `json:"entity"`
	Buckets []Bucket              `json:"buckets"`
	Success int64                 `json:"success"`
	Total   int64                 `json:"total"`
	Rate    Rate                  `json:"rate"`
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRandSource makes exploration reproducible
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.rng = rand.New(src) }
}

// WithLogger sets the engine logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine is the success-rate engine
type Engine struct {
	store  store.Store[Window]
	config Config
	now    func() time.Time
	logger logging.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates a success-rate engine over st
func NewEngine(st store.Store[Window], config Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid success rate config: %w", err)
	}

	e := &Engine{
		store:  st,
		config: config,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.GetGlobalLogger().WithFields(logging.Field{"component", "successrate"})
	}
	return e, nil
}

// Config returns the active policy
func (e *Engine) Config() Config {
	return e.config
}

// Smooth applies the prior blend to raw counts. The result is always in [0,1].
func (e *Engine) Smooth(success, total int64) float64 {
	if total < 0 {
		total = 0
	}
	if success < 0 {
		success = 0
	}
	if success > total {
		success = total
	}
	p := (float64(success) + e.config.PriorWeight*e.config.Prior) / (float64(total) + e.config.PriorWeight)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// PriorRate is the rate reported for an entity without usable history
func (e *Engine) PriorRate() Rate {
	return Rate{Probability: e.config.Prior}
}

func (e *Engine) rateOf(w Window, now time.Time) Rate {
	success, total := w.Counts(now, e.config.WindowDuration)
	return Rate{Probability: e.Smooth(success, total), SampleSize: total}
}

// RecordOutcome adds one outcome observed now to the entity's window and returns the new rate
func (e *Engine) RecordOutcome(ctx context.Context, entity models.RoutableEntity, success bool) (Rate, error) {
	return e.RecordOutcomeAt(ctx, entity, success, time.Time{})
}

// RecordOutcomeAt adds one outcome observed at. A zero or future at counts as now.
func (e *Engine) RecordOutcomeAt(ctx context.Context, entity models.RoutableEntity, success bool, at time.Time) (Rate, error) {
	now := e.now()
	if at.IsZero() || at.After(now) {
		at = now
	}
	w, err := e.store.Update(ctx, entity.Key(), func(w *Window) error {
		w.record(now, at, e.config.WindowDuration, e.config.BucketCount, success)
		return nil
	})
	if err != nil {
		return Rate{}, fmt.Errorf("record outcome for %s: %w", entity, err)
	}
	return e.rateOf(w, now), nil
}

// FetchRate returns the smoothed rate of entity, the prior when it has no history
func (e *Engine) FetchRate(ctx context.Context, entity models.RoutableEntity) (Rate, error) {
	w, err := e.store.Read(ctx, entity.Key())
	if err != nil {
		degraded := e.PriorRate()
		degraded.Degraded = true
		return degraded, fmt.Errorf("fetch rate for %s: %w", entity, err)
	}
	return e.rateOf(w, e.now()), nil
}

// FetchRates batch-reads the rates of entities keyed by entity key. On a store
// failure every entity gets the degraded prior alongside the error.
func (e *Engine) FetchRates(ctx context.Context, entities []models.RoutableEntity) (map[string]Rate, error) {
	keys := make([]string, len(entities))
	for i, entity := range entities {
		keys[i] = entity.Key()
	}

	rates := make(map[string]Rate, len(entities))
	windows, err := e.store.List(ctx, keys)
	if err != nil {
		degraded := e.PriorRate()
		degraded.Degraded = true
		for _, key := range keys {
			rates[key] = degraded
		}
		return rates, fmt.Errorf("fetch rates: %w", err)
	}

	now := e.now()
	for _, key := range keys {
		rates[key] = e.rateOf(windows[key], now)
	}
	return rates, nil
}

// FetchGlobalRate aggregates every entity under scope with the same formula
func (e *Engine) FetchGlobalRate(ctx context.Context, scope models.Scope) (Rate, error) {
	windows, err := e.store.Scan(ctx, scope.Prefix())
	if err != nil {
		degraded := e.PriorRate()
		degraded.Degraded = true
		return degraded, fmt.Errorf("fetch global rate for %s: %w", scope, err)
	}

	now := e.now()
	var success, total int64
	for _, w := range windows {
		s, t := w.Counts(now, e.config.WindowDuration)
		success += s
		total += t
	}
	return Rate{Probability: e.Smooth(success, total), SampleSize: total}, nil
}

// FetchEntityAndGlobal returns the entity rate next to its scope's global rate
func (e *Engine) FetchEntityAndGlobal(ctx context.Context, entity models.RoutableEntity) (Rate, Rate, error) {
	entityRate, entityErr := e.FetchRate(ctx, entity)
	globalRate, globalErr := e.FetchGlobalRate(ctx, entity.Scope())
	if entityErr != nil {
		return entityRate, globalRate, entityErr
	}
	return entityRate, globalRate, globalErr
}

// InvalidateWindow discards the entity's history
func (e *Engine) InvalidateWindow(ctx context.Context, entity models.RoutableEntity) error {
	if err := e.store.Invalidate(ctx, entity.Key()); err != nil {
		return fmt.Errorf("invalidate window for %s: %w", entity, err)
	}
	return nil
}

// Snapshot returns the live buckets of entity
func (e *Engine) Snapshot(ctx context.Context, entity models.RoutableEntity) (Snapshot, error) {
	w, err := e.store.Read(ctx, entity.Key())
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", entity, err)
	}

	now := e.now()
	w.expire(now, e.config.WindowDuration)
	success, total := w.Counts(now, e.config.WindowDuration)
	return Snapshot{
		Entity:  entity,
		Buckets: w.Buckets,
		Success: success,
		Total:   total,
		Rate:    e.rateOf(w, now),
	}, nil
}

// Rank orders candidates by smoothed rate, highest first. Ties go to the
// lower sample size, then to input order. With probability ExplorationRate
// the order is drawn by weighted sampling instead.
func (e *Engine) Rank(ctx context.Context, candidates []models.RoutableEntity) ([]Ranked, error) {
	rates, err := e.FetchRates(ctx, candidates)

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Entity: c, Rate: rates[c.Key()]}
	}

	if e.Explore() {
		weights := make([]float64, len(ranked))
		for i, r := range ranked {
			weights[i] = r.Rate.Probability
		}
		order := e.WeightedOrder(weights)
		explored := make([]Ranked, len(ranked))
		for i, idx := range order {
			explored[i] = ranked[idx]
		}
		return explored, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return Less(ranked[i].Rate, ranked[j].Rate)
	})
	return ranked, err
}

// Less is the ranking order: higher probability first, then fewer samples
func Less(a, b Rate) bool {
	if a.Probability != b.Probability {
		return a.Probability > b.Probability
	}
	return a.SampleSize < b.SampleSize
}

// Explore reports whether this decision should take the exploration path
func (e *Engine) Explore() bool {
	if e.config.ExplorationRate <= 0 {
		return false
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64() < e.config.ExplorationRate
}

// WeightedOrder returns a permutation of indexes drawn without replacement
// with probability proportional to weights. Zero-weight indexes keep their
// relative order at the end.
func (e *Engine) WeightedOrder(weights []float64) []int {
	if len(weights) == 0 {
		return nil
	}

	e.rngMu.Lock()
	src := rand.NewPCG(e.rng.Uint64(), e.rng.Uint64())
	e.rngMu.Unlock()

	sampler := sampleuv.NewWeighted(weights, src)
	order := make([]int, 0, len(weights))
	taken := make([]bool, len(weights))
	for {
		idx, ok := sampler.Take()
		if !ok {
			break
		}
		order = append(order, idx)
		taken[idx] = true
	}
	for i := range weights {
		if !taken[i] {
			order = append(order, i)
		}
	}
	return order
}
