// Package orchestrator composes the static, elimination, success-rate and
// contract engines into one ranked connector list per request, and feeds
// transaction outcomes back into their state.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/contract"
	"intelligent-router/internal/elimination"
	"intelligent-router/internal/metrics"
	"intelligent-router/internal/models"
	"intelligent-router/internal/routing"
	"intelligent-router/internal/successrate"
)

// SuccessRates is the part of the success-rate engine the orchestrator uses
type SuccessRates interface {
	FetchRates(ctx context.Context, entities []models.RoutableEntity) (map[string]successrate.Rate, error)
	RecordOutcomeAt(ctx context.Context, entity models.RoutableEntity, success bool, at time.Time) (successrate.Rate, error)
	PriorRate() successrate.Rate
	Explore() bool
	WeightedOrder(weights []float64) []int
}

// Eliminations is the part of the elimination engine the orchestrator uses
type Eliminations interface {
	Statuses(ctx context.Context, entities []models.RoutableEntity) (map[string]elimination.Status, error)
	RecordOutcome(ctx context.Context, entity models.RoutableEntity, success bool) (elimination.Update, error)
}

// Contracts is the part of the contract engine the orchestrator uses
type Contracts interface {
	FetchScores(ctx context.Context, entities []models.RoutableEntity) (map[string]contract.Boost, error)
	ReportFulfillment(ctx context.Context, entity models.RoutableEntity, delta decimal.Decimal) (contract.Score, error)
	VolumeOf(event models.OutcomeEvent) decimal.Decimal
}

// StaticRules evaluates merchant rules
type StaticRules interface {
	Evaluate(scope models.Scope, attrs models.PaymentAttributes, candidates []string) routing.Hint
}

// Config holds the orchestrator policy
type Config struct {
	// Budget bounds the engine queries of one decision
	Budget time.Duration `json:"budget"`
}

// DefaultConfig returns a 5ms decision budget
func DefaultConfig() Config {
	return Config{Budget: 5 * time.Millisecond}
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithBlender replaces the default WeightedBlender
func WithBlender(b Blender) Option {
	return func(o *Orchestrator) { o.blender = b }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithLogger sets the orchestrator logger
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock replaces time.Now for latency measurement
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator produces routing decisions
type Orchestrator struct {
	static       StaticRules
	eliminations Eliminations
	rates        SuccessRates
	contracts    Contracts

	config  Config
	blender Blender
	metrics metrics.Recorder
	logger  logging.Logger
	// degradedLog is sampled so a store outage logs a few lines, not one per decision
	degradedLog logging.Logger
	now         func() time.Time
}

// New creates an orchestrator over the four engines
func New(static StaticRules, eliminations Eliminations, rates SuccessRates, contracts Contracts, config Config, opts ...Option) (*Orchestrator, error) {
	if static == nil || eliminations == nil || rates == nil || contracts == nil {
		return nil, fmt.Errorf("all four engines are required")
	}
	if config.Budget <= 0 {
		return nil, fmt.Errorf("decision budget must be positive")
	}

	o := &Orchestrator{
		static:       static,
		eliminations: eliminations,
		rates:        rates,
		contracts:    contracts,
		config:       config,
		blender:      WeightedBlender{SuccessWeight: DefaultSuccessWeight, ContractWeight: DefaultContractWeight},
		metrics:      metrics.Noop{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.GetGlobalLogger().WithFields(logging.Field{"component", "orchestrator"})
	}
	o.degradedLog = logging.NewThrottledLogger(o.logger, 1, 5)
	return o, nil
}

// candidate is the working record of one connector during a decision
type candidate struct {
	index     int
	connector string
	entity    models.RoutableEntity
	rate      successrate.Rate
	status    elimination.Status
	boost     contract.Boost
	score     float64
	allowed   bool
	relaxed   []string
}

// Decide orders the request's candidates. Engine failures and budget overruns
// degrade the ranking but never fail it; the only error for a well-formed
// request is ExhaustedCandidates, returned when the candidate list is empty.
func (o *Orchestrator) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	start := o.now()
	ctx = context.WithValue(ctx, logging.RequestIDKey, req.RequestID)
	ctx = context.WithValue(ctx, logging.MerchantIDKey, req.Scope.MerchantID)
	logger := o.logger.WithContext(ctx)

	connectors := dedupe(req.Candidates)
	if len(connectors) == 0 {
		o.metrics.ObserveDecision("exhausted", o.now().Sub(start))
		return nil, errors.ExhaustedCandidatesError(req.RequestID)
	}

	candidates := make([]*candidate, len(connectors))
	entities := make([]models.RoutableEntity, len(connectors))
	for i, c := range connectors {
		entity := req.Scope.Entity(c)
		if err := entity.Validate(); err != nil {
			return nil, errors.ValidationErrorf(err, "invalid candidate %q: %v", c, err)
		}
		entities[i] = entity
		candidates[i] = &candidate{index: i, connector: c, entity: entity}
	}

	// (1) static rules
	hint := o.static.Evaluate(req.Scope, req.Attributes, connectors)
	for _, c := range candidates {
		c.allowed = hint.IsAllowed(c.connector)
	}

	decision := &Decision{
		RequestID:     req.RequestID,
		MatchedRules:  hint.Matched,
		ConflictRules: hint.Conflicts,
		SkippedRules:  hint.Skipped,
	}
	if len(hint.Skipped) > 0 {
		logger.Warn("Skipped rules that failed on request attributes", logging.Field{"skipped", len(hint.Skipped)})
	}

	// (2)(3) engine state, queried concurrently under the budget
	o.query(ctx, entities, candidates, decision)

	// fallback: relax elimination first, then static filters
	pool := filter(candidates, func(c *candidate) bool { return c.allowed })
	if len(pool) == 0 {
		pool = candidates
		for _, c := range pool {
			c.relaxed = append(c.relaxed, metrics.RelaxStatic)
		}
		decision.Relaxed = append(decision.Relaxed, metrics.RelaxStatic)
	}
	live := filter(pool, func(c *candidate) bool { return !c.status.Eliminated })
	if len(live) == 0 {
		live = pool
		for _, c := range live {
			c.relaxed = append(c.relaxed, metrics.RelaxElimination)
		}
		decision.Relaxed = append(decision.Relaxed, metrics.RelaxElimination)
	}
	for _, stage := range decision.Relaxed {
		o.metrics.IncRelaxation(stage)
	}
	if len(decision.Relaxed) > 0 {
		logger.Warn("Relaxed exclusions to keep a candidate", logging.Field{"relaxed", decision.Relaxed})
	}

	// (4) final order
	for _, c := range live {
		c.score = o.blender.Blend(c.rate, c.boost)
	}
	sort.SliceStable(live, func(i, j int) bool {
		a, b := live[i], live[j]
		if cmp := hint.Compare(a.connector, b.connector); cmp != 0 {
			return cmp < 0
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rate.SampleSize != b.rate.SampleSize {
			return a.rate.SampleSize < b.rate.SampleSize
		}
		return a.index < b.index
	})

	if len(live) > 1 && o.rates.Explore() {
		live, decision.Explored = o.explore(hint, live)
	}

	included := make(map[int]bool, len(live))
	for _, c := range live {
		included[c.index] = true
		decision.Entries = append(decision.Entries, Entry{
			Connector: c.connector,
			Entity:    c.entity,
			Score:     c.score,
			Rationale: rationale(hint, c),
		})
	}
	for _, c := range candidates {
		if included[c.index] {
			continue
		}
		reason := ReasonEliminated
		if !c.allowed && len(c.relaxed) == 0 {
			reason = ReasonStaticFilter
		}
		decision.Excluded = append(decision.Excluded, Exclusion{
			Connector: c.connector,
			Reason:    reason,
			Rationale: rationale(hint, c),
		})
	}

	elapsed := o.now().Sub(start)
	decision.DecisionTimeMS = float64(elapsed.Microseconds()) / 1000
	o.metrics.ObserveDecision("ok", elapsed)

	logger.Debug("Routing decision made",
		logging.Field{"connectors", decision.Connectors()},
		logging.Field{"excluded", len(decision.Excluded)},
		logging.Field{"degraded", decision.Degraded},
		logging.Field{"explored", decision.Explored},
	)
	return decision, nil
}

// explore reorders the top static tier by weighted sampling on success rate
func (o *Orchestrator) explore(hint routing.Hint, ordered []*candidate) ([]*candidate, bool) {
	connectors := make([]string, len(ordered))
	for i, c := range ordered {
		connectors[i] = c.connector
	}
	tier := len(hint.TopTier(connectors))
	if tier < 2 {
		return ordered, false
	}

	weights := make([]float64, tier)
	for i := 0; i < tier; i++ {
		weights[i] = ordered[i].rate.Probability
	}

	explored := make([]*candidate, 0, len(ordered))
	for _, idx := range o.rates.WeightedOrder(weights) {
		explored = append(explored, ordered[idx])
	}
	return append(explored, ordered[tier:]...), true
}

// query fills rate, status and boost of every candidate. Engines that fail or
// miss the budget contribute neutral defaults and are listed as degraded.
func (o *Orchestrator) query(ctx context.Context, entities []models.RoutableEntity, candidates []*candidate, decision *Decision) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Budget)
	defer cancel()

	statusCh := launch(ctx, func(ctx context.Context) (map[string]elimination.Status, error) {
		return o.eliminations.Statuses(ctx, entities)
	})
	rateCh := launch(ctx, func(ctx context.Context) (map[string]successrate.Rate, error) {
		return o.rates.FetchRates(ctx, entities)
	})
	boostCh := launch(ctx, func(ctx context.Context) (map[string]contract.Boost, error) {
		return o.contracts.FetchScores(ctx, entities)
	})

	statuses, err := await(ctx, statusCh)
	o.degrade(ctx, decision, EngineElimination, err)
	rates, err := await(ctx, rateCh)
	o.degrade(ctx, decision, EngineSuccessRate, err)
	boosts, err := await(ctx, boostCh)
	o.degrade(ctx, decision, EngineContract, err)

	prior := o.rates.PriorRate()
	prior.Degraded = true
	for _, c := range candidates {
		key := c.entity.Key()

		status, ok := statuses[key]
		if !ok {
			status = elimination.Status{Entity: c.entity, State: elimination.StateActive}
		}
		c.status = status

		rate, ok := rates[key]
		if !ok {
			rate = prior
		}
		c.rate = rate

		boost, ok := boosts[key]
		if !ok {
			boost = contract.Boost{Degraded: true}
		}
		c.boost = boost
	}
}

func (o *Orchestrator) degrade(ctx context.Context, decision *Decision, engine string, err error) {
	if err == nil {
		return
	}
	decision.Degraded = append(decision.Degraded, engine)
	o.metrics.IncDegraded(engine)
	o.degradedLog.WithContext(ctx).Warn("Engine degraded to neutral defaults",
		logging.Field{"engine", engine},
		logging.Field{"error", err.Error()},
	)
}

type result[T any] struct {
	value T
	err   error
}

func launch[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- result[T]{value: v, err: err}
	}()
	return ch
}

// await prefers a ready result over an expired budget
func await[T any](ctx context.Context, ch <-chan result[T]) (T, error) {
	select {
	case r := <-ch:
		return r.value, r.err
	default:
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, errors.TimeoutError("engine query")
	}
}

func rationale(hint routing.Hint, c *candidate) Rationale {
	return Rationale{
		StaticAllowed:    c.allowed,
		StaticRank:       hint.RankKeys[c.connector],
		Rules:            hint.RuleHits[c.connector],
		SuccessRate:      c.rate,
		EliminationState: c.status.State,
		Eliminated:       c.status.Eliminated,
		CooldownUntil:    c.status.CooldownUntil,
		ContractBoost:    c.boost.Value,
		NoContract:       c.boost.NoContract,
		Relaxed:          c.relaxed,
	}
}

// RecordOutcome applies one transaction outcome to success-rate and
// elimination state and, when it counts towards a contract, to fulfillment.
// Every engine is attempted; their errors are combined.
func (o *Orchestrator) RecordOutcome(ctx context.Context, event models.OutcomeEvent) (*OutcomeResult, error) {
	if err := event.Validate(); err != nil {
		return nil, errors.ValidationErrorf(err, "invalid outcome event: %v", err)
	}
	ctx = context.WithValue(ctx, logging.RequestIDKey, event.RequestID)
	ctx = context.WithValue(ctx, logging.MerchantIDKey, event.Entity.MerchantID)

	res := &OutcomeResult{}
	var merr *multierror.Error

	rate, err := o.rates.RecordOutcomeAt(ctx, event.Entity, event.Success, event.Timestamp)
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	res.SuccessRate = rate

	update, err := o.eliminations.RecordOutcome(ctx, event.Entity, event.Success)
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	res.Elimination = update
	if update.Tripped() {
		o.metrics.IncElimination()
	}

	if volume := o.contracts.VolumeOf(event); volume.IsPositive() {
		score, err := o.contracts.ReportFulfillment(ctx, event.Entity, volume)
		if err != nil {
			merr = multierror.Append(merr, err)
		} else {
			res.ContractFulfilled = score.Fulfilled.String()
		}
	}

	o.metrics.IncOutcome(event.Success)
	if err := merr.ErrorOrNil(); err != nil {
		o.degradedLog.WithContext(ctx).Error("Outcome partially applied", err,
			logging.Field{"entity", event.Entity.Key()},
		)
		return res, err
	}
	return res, nil
}

func dedupe(connectors []string) []string {
	seen := make(map[string]bool, len(connectors))
	out := make([]string, 0, len(connectors))
	for _, c := range connectors {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func filter(candidates []*candidate, keep func(*candidate) bool) []*candidate {
	var out []*candidate
	for _, c := range candidates {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
