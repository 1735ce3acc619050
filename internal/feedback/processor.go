// Package feedback applies transaction outcomes to routing state off the
// decision path: a bounded in-process queue drained by a worker pool, fed
// directly or from a Redis stream.
package feedback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/metrics"
	"intelligent-router/internal/models"
	"intelligent-router/internal/orchestrator"
)

// Applier applies one outcome to routing state
type Applier interface {
	RecordOutcome(ctx context.Context, event models.OutcomeEvent) (*orchestrator.OutcomeResult, error)
}

// Config holds the queue and worker settings
type Config struct {
	QueueSize    int           `json:"queue_size"`
	Workers      int           `json:"workers"`
	ApplyTimeout time.Duration `json:"apply_timeout"`
}

// DefaultConfig returns a 1024 entry queue drained by 4 workers
func DefaultConfig() Config {
	return Config{
		QueueSize:    1024,
		Workers:      4,
		ApplyTimeout: 2 * time.Second,
	}
}

// Validate checks the settings are usable
func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ApplyTimeout <= 0 {
		return fmt.Errorf("apply timeout must be positive")
	}
	return nil
}

// Stats counts what the processor has done since creation
type Stats struct {
	Submitted int64 `json:"submitted"`
	Applied   int64 `json:"applied"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

type job struct {
	event models.OutcomeEvent
	done  func(error)
}

// Option configures a Processor
type Option func(*Processor)

// WithMetrics sets the metrics recorder
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Processor) { p.metrics = r }
}

// WithLogger sets the processor logger
func WithLogger(logger logging.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// Processor is a bounded outcome queue with a worker pool
type Processor struct {
	applier Applier
	config  Config
	metrics metrics.Recorder
	logger  logging.Logger

	queue chan job

	mu      sync.RWMutex
	started bool
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	submitted atomic.Int64
	applied   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewProcessor creates a stopped processor
func NewProcessor(applier Applier, config Config, opts ...Option) (*Processor, error) {
	if applier == nil {
		return nil, fmt.Errorf("outcome applier is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feedback config: %w", err)
	}

	p := &Processor{
		applier: applier,
		config:  config,
		metrics: metrics.Noop{},
		queue:   make(chan job, config.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.GetGlobalLogger().WithFields(logging.Field{"component", "feedback"})
	}
	return p, nil
}

// Start launches the workers. Outcomes are applied under ctx.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.InternalError("feedback processor is stopped", nil)
	}
	if p.started {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.started = true

	p.logger.Info("Feedback processor started",
		logging.Field{"workers", p.config.Workers},
		logging.Field{"queue_size", p.config.QueueSize},
	)
	return nil
}

// Submit queues event without blocking. It returns false, and counts the
// event as dropped, when the queue is full or the processor is stopped.
func (p *Processor) Submit(event models.OutcomeEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(event)
		return false
	}

	select {
	case p.queue <- job{event: event}:
		p.submitted.Add(1)
		return true
	default:
		p.drop(event)
		return false
	}
}

// Enqueue queues event, waiting for space until ctx is done. done, if set,
// is called with the apply result once a worker has handled the event.
func (p *Processor) Enqueue(ctx context.Context, event models.OutcomeEvent, done func(error)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.InternalError("feedback processor is stopped", nil)
	}

	select {
	case p.queue <- job{event: event, done: done}:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("enqueue outcome")
	}
}

func (p *Processor) drop(event models.OutcomeEvent) {
	p.dropped.Add(1)
	p.metrics.IncFeedbackDropped()
	p.logger.Debug("Outcome event dropped",
		logging.Field{"entity", event.Entity.Key()},
		logging.Field{"request_id", event.RequestID},
	)
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		err := p.apply(j.event)
		if j.done != nil {
			j.done(err)
		}
	}
}

func (p *Processor) apply(event models.OutcomeEvent) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.ApplyTimeout)
	defer cancel()

	if _, err := p.applier.RecordOutcome(ctx, event); err != nil {
		p.failed.Add(1)
		p.logger.Error("Failed to apply outcome", err,
			logging.Field{"entity", event.Entity.Key()},
			logging.Field{"request_id", event.RequestID},
		)
		return err
	}
	p.applied.Add(1)
	return nil
}

// Stop refuses new events, drains the queue and waits for the workers
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}
	p.wg.Wait()
	p.cancel()

	stats := p.Stats()
	p.logger.Info("Feedback processor stopped",
		logging.Field{"applied", stats.Applied},
		logging.Field{"failed", stats.Failed},
		logging.Field{"dropped", stats.Dropped},
	)
}

// Stats returns the processor counters
func (p *Processor) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Applied:   p.applied.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
	}
}
