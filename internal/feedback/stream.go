package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/models"
	"intelligent-router/internal/redis"
)

// eventField is the stream entry field holding the JSON encoded OutcomeEvent
const eventField = "event"

// StreamConfig configures the Redis stream consumer
type StreamConfig struct {
	Stream    string        `json:"stream"`
	Group     string        `json:"group"`
	Consumer  string        `json:"consumer"`
	BatchSize int64         `json:"batch_size"`
	Block     time.Duration `json:"block"`
	// RetryDelay is the pause after a failed read
	RetryDelay time.Duration `json:"retry_delay"`
	// RecoverEvery is how often unacknowledged entries are retried
	RecoverEvery time.Duration `json:"recover_every"`
	// ClaimIdle is how long an entry must sit with another consumer before it is taken over
	ClaimIdle time.Duration `json:"claim_idle"`
}

// DefaultStreamConfig returns the stream settings used when fields are left empty
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Stream:       "routing:outcomes",
		Group:        "intelligent-router",
		BatchSize:    64,
		Block:        2 * time.Second,
		RetryDelay:   time.Second,
		RecoverEvery: 30 * time.Second,
		ClaimIdle:    time.Minute,
	}
}

// StreamConsumer reads outcome events from a Redis stream consumer group into
// a Processor. Entries are acknowledged once applied, or when they can never
// be applied; entries whose apply failed on an unreachable store stay pending
// and are retried every RecoverEvery, together with entries abandoned by
// consumers that went away.
type StreamConsumer struct {
	client    *redis.Client
	processor *Processor
	config    StreamConfig
	logger    logging.Logger

	// inflight holds ids queued on the processor and not yet settled
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewStreamConsumer creates a consumer; empty config fields take their defaults
func NewStreamConsumer(client *redis.Client, processor *Processor, config StreamConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("feedback processor is required")
	}

	defaults := DefaultStreamConfig()
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.Group == "" {
		config.Group = defaults.Group
	}
	if config.Consumer == "" {
		config.Consumer = "router-" + uuid.New().String()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Block <= 0 {
		config.Block = defaults.Block
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.RecoverEvery <= 0 {
		config.RecoverEvery = defaults.RecoverEvery
	}
	if config.ClaimIdle <= 0 {
		config.ClaimIdle = defaults.ClaimIdle
	}

	return &StreamConsumer{
		client:    client,
		processor: processor,
		config:    config,
		logger: logging.GetGlobalLogger().WithFields(
			logging.Field{"component", "feedback_stream"},
			logging.Field{"stream", config.Stream},
			logging.Field{"consumer", config.Consumer},
		),
		inflight: make(map[string]struct{}),
	}, nil
}

// Publish appends event to the stream. The transaction layer publishes this way.
func (s *StreamConsumer) Publish(ctx context.Context, event models.OutcomeEvent) (string, error) {
	return PublishOutcome(ctx, s.client, s.config.Stream, event)
}

// PublishOutcome appends event to stream in the consumer's entry format
func PublishOutcome(ctx context.Context, client *redis.Client, stream string, event models.OutcomeEvent) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to encode outcome event: %w", err)
	}
	id, err := client.AddToStream(ctx, stream, map[string]interface{}{eventField: string(payload)})
	if err != nil {
		return "", errors.StoreUnavailableError("publish outcome", err)
	}
	return id, nil
}

// Run consumes until ctx is cancelled
func (s *StreamConsumer) Run(ctx context.Context) error {
	if err := s.client.EnsureGroup(ctx, s.config.Stream, s.config.Group); err != nil {
		return errors.StoreUnavailableError("create consumer group", err)
	}

	s.logger.Info("Outcome stream consumer started", logging.Field{"group", s.config.Group})

	var lastRecover time.Time
	for {
		if ctx.Err() != nil {
			s.logger.Info("Outcome stream consumer stopped")
			return nil
		}

		if time.Since(lastRecover) >= s.config.RecoverEvery {
			s.recoverPending(ctx)
			lastRecover = time.Now()
		}

		messages, err := s.client.ReadGroup(ctx, s.config.Stream, s.config.Group, s.config.Consumer, s.config.BatchSize, s.config.Block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("Failed to read outcome stream", err)
			select {
			case <-ctx.Done():
			case <-time.After(s.config.RetryDelay):
			}
			continue
		}

		for _, msg := range messages {
			s.handle(ctx, msg)
		}
	}
}

// recoverPending retries this consumer's unacknowledged entries after taking
// over the ones idle on other consumers
func (s *StreamConsumer) recoverPending(ctx context.Context) {
	claimed, err := s.client.ClaimIdle(ctx, s.config.Stream, s.config.Group, s.config.Consumer, s.config.ClaimIdle, s.config.BatchSize)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("Failed to claim idle outcome entries", logging.Field{"error", err.Error()})
	}
	if len(claimed) > 0 {
		s.logger.Info("Claimed idle outcome entries", logging.Field{"count", len(claimed)})
	}

	messages, err := s.client.ReadPending(ctx, s.config.Stream, s.config.Group, s.config.Consumer, s.config.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to read pending outcome entries", logging.Field{"error", err.Error()})
		}
		return
	}
	for _, msg := range messages {
		s.handle(ctx, msg)
	}
}

func (s *StreamConsumer) handle(ctx context.Context, msg redis.StreamMessage) {
	if !s.begin(msg.ID) {
		return
	}

	event, err := decodeEvent(msg)
	if err == nil {
		err = event.Validate()
	}
	if err != nil {
		s.logger.Warn("Discarding malformed outcome entry",
			logging.Field{"id", msg.ID},
			logging.Field{"error", err.Error()},
		)
		s.ack(msg.ID)
		s.settle(msg.ID)
		return
	}

	err = s.processor.Enqueue(ctx, event, func(applyErr error) {
		defer s.settle(msg.ID)
		if applyErr != nil && errors.IsRecoverable(applyErr) {
			return
		}
		s.ack(msg.ID)
	})
	if err != nil {
		s.settle(msg.ID)
		s.logger.Warn("Outcome entry left pending",
			logging.Field{"id", msg.ID},
			logging.Field{"error", err.Error()},
		)
	}
}

// begin marks id in flight; false means it is already queued
func (s *StreamConsumer) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *StreamConsumer) settle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *StreamConsumer) ack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.client.Ack(ctx, s.config.Stream, s.config.Group, id); err != nil {
		s.logger.Error("Failed to acknowledge outcome entry", err, logging.Field{"id", id})
	}
}

func decodeEvent(msg redis.StreamMessage) (models.OutcomeEvent, error) {
	var event models.OutcomeEvent
	raw, ok := msg.Values[eventField].(string)
	if !ok {
		return event, fmt.Errorf("entry has no %q field", eventField)
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return event, fmt.Errorf("invalid outcome event: %w", err)
	}
	return event, nil
}
