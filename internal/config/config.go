// Package config provides configuration management for the routing service.
// It loads configuration from environment variables (and an optional .env
// file) with sensible defaults and validates it before the service starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: "console" or "json" (default: console)
//
// State Store:
//   - STORE_BACKEND: "memory" or "redis" (default: memory)
//   - STORE_SHARDS: Shard count of the in-memory store (default: 64)
//   - STORE_IDLE_TTL: Idle entries are swept after this long once their state has
//     expired; 0 disables (default: 24h). Must cover SR_WINDOW, ELIM_MAX_COOLDOWN and
//     ELIM_BACKOFF_RESET. Contract state never expires while a commitment is set.
//   - STORE_NAMESPACE: Key namespace of the Redis store (default: router)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_LOCK_EXPIRY, REDIS_LOCK_TRIES: per-key lock settings (default: 2s, 8)
//   - REDIS_BREAKER_FAILURES, REDIS_BREAKER_TIMEOUT: circuit breaker (default: 5, 10s)
//   - REDIS_CONNECT_ATTEMPTS, REDIS_CONNECT_BACKOFF: startup connection retries (default: 3, 1s)
//
// Success Rate:
//   - SR_WINDOW, SR_BUCKETS: window length and bucket count (default: 15m, 15)
//   - SR_PRIOR, SR_PRIOR_WEIGHT: smoothing prior (default: 0.5, 2)
//   - SR_EXPLORATION_RATE: share of decisions that explore (default: 0)
//
// Elimination:
//   - ELIM_MAX_CONSECUTIVE, ELIM_FAILURE_RATE, ELIM_MIN_ATTEMPTS, ELIM_WINDOW
//   - ELIM_BASE_COOLDOWN, ELIM_MAX_COOLDOWN, ELIM_BACKOFF_RESET, ELIM_SUCCESS_DECAY
//
// Contract:
//   - CONTRACT_MAX_BOOST, CONTRACT_URGENCY, CONTRACT_MIN_REMAINING
//   - CONTRACT_OVERFULFILLMENT_PENALTY, CONTRACT_DEFAULT_PERIOD, CONTRACT_VOLUME_UNIT
//
// Decisions:
//   - DECISION_BUDGET: latency budget of the engine queries (default: 5ms)
//   - BLEND_SUCCESS_WEIGHT, BLEND_CONTRACT_WEIGHT (default: 1, 0.2)
//   - RULE_PROGRAM_TTL: compiled rule cache lifetime (default: 30m)
//
// Feedback:
//   - FEEDBACK_QUEUE_SIZE, FEEDBACK_WORKERS, FEEDBACK_APPLY_TIMEOUT
//   - FEEDBACK_STREAM_ENABLED: consume outcomes from a Redis stream (default: false)
//   - FEEDBACK_STREAM, FEEDBACK_GROUP: stream and consumer group names
//   - FEEDBACK_RECOVER_EVERY: retry interval of unacknowledged entries (default: 30s)
//   - FEEDBACK_CLAIM_IDLE: idle time before another consumer's entries are taken over (default: 1m)
//
// Maintenance:
//   - MAINTENANCE_SCHEDULE: cron spec of the store sweep (default: @every 10m)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"intelligent-router/internal/circuitbreaker"
	"intelligent-router/internal/common/utils"
	"intelligent-router/internal/contract"
	"intelligent-router/internal/elimination"
	"intelligent-router/internal/feedback"
	"intelligent-router/internal/locks"
	"intelligent-router/internal/orchestrator"
	"intelligent-router/internal/redis"
	"intelligent-router/internal/successrate"
)

// Config holds all configuration values of the routing service
type Config struct {
	// Application settings
	Port      string `validate:"required,numeric"`
	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=console json"`

	// State store
	StoreBackend   string        `validate:"oneof=memory redis"`
	StoreShards    int           `validate:"min=1,max=65536"`
	StoreIdleTTL   time.Duration `validate:"min=0"`
	StoreNamespace string        `validate:"required,excludes=:"`

	// Redis
	RedisAddress         string
	RedisPassword        string
	RedisDB              int `validate:"min=0,max=15"`
	RedisPoolSize        int `validate:"min=1"`
	RedisLockExpiry      time.Duration
	RedisLockTries       int `validate:"min=1"`
	RedisBreakerFailures int `validate:"min=1"`
	RedisBreakerTimeout  time.Duration
	RedisConnectAttempts int `validate:"min=1"`
	RedisConnectBackoff  time.Duration

	// Success rate
	SRWindow          time.Duration
	SRBuckets         int
	SRPrior           float64
	SRPriorWeight     float64
	SRExplorationRate float64

	// Elimination
	ElimMaxConsecutive int
	ElimFailureRate    float64
	ElimMinAttempts    int
	ElimWindow         time.Duration
	ElimBaseCooldown   time.Duration
	ElimMaxCooldown    time.Duration
	ElimBackoffReset   time.Duration
	ElimSuccessDecay   int

	// Contract
	ContractMaxBoost               float64
	ContractUrgency                float64
	ContractMinRemaining           float64
	ContractOverfulfillmentPenalty float64
	ContractDefaultPeriod          string
	ContractVolumeUnit             string

	// Decisions
	DecisionBudget      time.Duration `validate:"gt=0"`
	BlendSuccessWeight  float64       `validate:"min=0"`
	BlendContractWeight float64       `validate:"min=0"`
	RuleProgramTTL      time.Duration `validate:"gt=0"`

	// Feedback
	FeedbackQueueSize     int
	FeedbackWorkers       int
	FeedbackApplyTimeout  time.Duration
	FeedbackStreamEnabled bool
	FeedbackStream        string        `validate:"required_if=FeedbackStreamEnabled true"`
	FeedbackGroup         string        `validate:"required_if=FeedbackStreamEnabled true"`
	FeedbackRecoverEvery  time.Duration `validate:"gt=0"`
	FeedbackClaimIdle     time.Duration `validate:"gt=0"`

	// Maintenance
	MaintenanceSchedule string `validate:"required"`

	// invalid collects variables that were set but could not be parsed
	invalid []string
}

// LoadDotEnv loads a .env file into the environment when one exists.
// Variables already set take precedence.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
// Values that fail to parse are reported by Validate.
func Load() *Config {
	c := &Config{}
	sr := successrate.DefaultConfig()
	elim := elimination.DefaultConfig()
	con := contract.DefaultConfig()
	fb := feedback.DefaultConfig()
	stream := feedback.DefaultStreamConfig()
	lock := locks.DefaultConfig()
	breaker := circuitbreaker.DefaultConfig()

	c.Port = getEnv("PORT", "8080")
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	c.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "console"))

	c.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", "memory"))
	c.StoreShards = c.getIntEnv("STORE_SHARDS", 64)
	c.StoreIdleTTL = c.getDurationEnv("STORE_IDLE_TTL", 24*time.Hour)
	c.StoreNamespace = getEnv("STORE_NAMESPACE", "router")

	c.RedisAddress = getEnv("REDIS_ADDRESS", "localhost:6379")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)
	c.RedisLockExpiry = c.getDurationEnv("REDIS_LOCK_EXPIRY", lock.Expiry)
	c.RedisLockTries = c.getIntEnv("REDIS_LOCK_TRIES", lock.Tries)
	c.RedisBreakerFailures = c.getIntEnv("REDIS_BREAKER_FAILURES", breaker.MaxFailures)
	c.RedisBreakerTimeout = c.getDurationEnv("REDIS_BREAKER_TIMEOUT", breaker.Timeout)
	c.RedisConnectAttempts = c.getIntEnv("REDIS_CONNECT_ATTEMPTS", 3)
	c.RedisConnectBackoff = c.getDurationEnv("REDIS_CONNECT_BACKOFF", time.Second)

	c.SRWindow = c.getDurationEnv("SR_WINDOW", sr.WindowDuration)
	c.SRBuckets = c.getIntEnv("SR_BUCKETS", sr.BucketCount)
	c.SRPrior = c.getFloatEnv("SR_PRIOR", sr.Prior)
	c.SRPriorWeight = c.getFloatEnv("SR_PRIOR_WEIGHT", sr.PriorWeight)
	c.SRExplorationRate = c.getFloatEnv("SR_EXPLORATION_RATE", sr.ExplorationRate)

	c.ElimMaxConsecutive = c.getIntEnv("ELIM_MAX_CONSECUTIVE", elim.MaxConsecutiveFailures)
	c.ElimFailureRate = c.getFloatEnv("ELIM_FAILURE_RATE", elim.FailureRateThreshold)
	c.ElimMinAttempts = c.getIntEnv("ELIM_MIN_ATTEMPTS", elim.MinAttempts)
	c.ElimWindow = c.getDurationEnv("ELIM_WINDOW", elim.EvaluationWindow)
	c.ElimBaseCooldown = c.getDurationEnv("ELIM_BASE_COOLDOWN", elim.BaseCooldown)
	c.ElimMaxCooldown = c.getDurationEnv("ELIM_MAX_COOLDOWN", elim.MaxCooldown)
	c.ElimBackoffReset = c.getDurationEnv("ELIM_BACKOFF_RESET", elim.BackoffResetAfter)
	c.ElimSuccessDecay = c.getIntEnv("ELIM_SUCCESS_DECAY", elim.SuccessDecay)

	c.ContractMaxBoost = c.getFloatEnv("CONTRACT_MAX_BOOST", con.MaxBoost)
	c.ContractUrgency = c.getFloatEnv("CONTRACT_URGENCY", con.Urgency)
	c.ContractMinRemaining = c.getFloatEnv("CONTRACT_MIN_REMAINING", con.MinRemaining)
	c.ContractOverfulfillmentPenalty = c.getFloatEnv("CONTRACT_OVERFULFILLMENT_PENALTY", con.OverfulfillmentPenalty)
	c.ContractDefaultPeriod = strings.ToLower(getEnv("CONTRACT_DEFAULT_PERIOD", string(con.DefaultPeriod)))
	c.ContractVolumeUnit = strings.ToLower(getEnv("CONTRACT_VOLUME_UNIT", string(con.VolumeUnit)))

	c.DecisionBudget = c.getDurationEnv("DECISION_BUDGET", orchestrator.DefaultConfig().Budget)
	c.BlendSuccessWeight = c.getFloatEnv("BLEND_SUCCESS_WEIGHT", orchestrator.DefaultSuccessWeight)
	c.BlendContractWeight = c.getFloatEnv("BLEND_CONTRACT_WEIGHT", orchestrator.DefaultContractWeight)
	c.RuleProgramTTL = c.getDurationEnv("RULE_PROGRAM_TTL", 30*time.Minute)

	c.FeedbackQueueSize = c.getIntEnv("FEEDBACK_QUEUE_SIZE", fb.QueueSize)
	c.FeedbackWorkers = c.getIntEnv("FEEDBACK_WORKERS", fb.Workers)
	c.FeedbackApplyTimeout = c.getDurationEnv("FEEDBACK_APPLY_TIMEOUT", fb.ApplyTimeout)
	c.FeedbackStreamEnabled = getBoolEnv("FEEDBACK_STREAM_ENABLED", false)
	c.FeedbackStream = getEnv("FEEDBACK_STREAM", stream.Stream)
	c.FeedbackGroup = getEnv("FEEDBACK_GROUP", stream.Group)
	c.FeedbackRecoverEvery = c.getDurationEnv("FEEDBACK_RECOVER_EVERY", stream.RecoverEvery)
	c.FeedbackClaimIdle = c.getDurationEnv("FEEDBACK_CLAIM_IDLE", stream.ClaimIdle)

	c.MaintenanceSchedule = getEnv("MAINTENANCE_SCHEDULE", "@every 10m")

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
// Any value strconv.ParseBool rejects yields the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("%s must be a valid duration (e.g., '5ms', '1m'), got %q", key, value))
		return defaultValue
	}
	return parsed
}

// Validate performs comprehensive validation on the configuration: parse
// failures, struct tag rules, and every engine policy's own consistency checks.
func (c *Config) Validate() error {
	if len(c.invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(c.invalid, "; "))
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.StoreBackend == "redis" || c.FeedbackStreamEnabled {
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when Redis is used")
		}
	}

	if err := c.validateIdleTTL(); err != nil {
		return err
	}

	if _, err := cron.ParseStandard(c.MaintenanceSchedule); err != nil {
		return fmt.Errorf("MAINTENANCE_SCHEDULE is not a valid cron spec: %w", err)
	}

	if err := c.SuccessRateConfig().Validate(); err != nil {
		return fmt.Errorf("success rate: %w", err)
	}
	if err := c.EliminationConfig().Validate(); err != nil {
		return fmt.Errorf("elimination: %w", err)
	}
	if err := c.ContractConfig().Validate(); err != nil {
		return fmt.Errorf("contract: %w", err)
	}
	if _, err := orchestrator.NewWeightedBlender(c.BlendSuccessWeight, c.BlendContractWeight); err != nil {
		return fmt.Errorf("blend: %w", err)
	}
	if err := c.FeedbackConfig().Validate(); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	if err := c.BreakerConfig().Validate(); err != nil {
		return fmt.Errorf("redis breaker: %w", err)
	}

	return nil
}

// SuccessRateConfig returns the success-rate policy
func (c *Config) SuccessRateConfig() successrate.Config {
	return successrate.Config{
		WindowDuration:  c.SRWindow,
		BucketCount:     c.SRBuckets,
		Prior:           c.SRPrior,
		PriorWeight:     c.SRPriorWeight,
		ExplorationRate: c.SRExplorationRate,
	}
}

// EliminationConfig returns the elimination policy
func (c *Config) EliminationConfig() elimination.Config {
	return elimination.Config{
		MaxConsecutiveFailures: c.ElimMaxConsecutive,
		FailureRateThreshold:   c.ElimFailureRate,
		MinAttempts:            c.ElimMinAttempts,
		EvaluationWindow:       c.ElimWindow,
		BaseCooldown:           c.ElimBaseCooldown,
		MaxCooldown:            c.ElimMaxCooldown,
		BackoffResetAfter:      c.ElimBackoffReset,
		SuccessDecay:           c.ElimSuccessDecay,
	}
}

// ContractConfig returns the contract boost policy
func (c *Config) ContractConfig() contract.Config {
	return contract.Config{
		MaxBoost:               c.ContractMaxBoost,
		Urgency:                c.ContractUrgency,
		MinRemaining:           c.ContractMinRemaining,
		OverfulfillmentPenalty: c.ContractOverfulfillmentPenalty,
		DefaultPeriod:          contract.Period(c.ContractDefaultPeriod),
		VolumeUnit:             contract.VolumeUnit(c.ContractVolumeUnit),
	}
}

// OrchestratorConfig returns the decision policy
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{Budget: c.DecisionBudget}
}

// Blender returns the configured weighted blender
func (c *Config) Blender() orchestrator.WeightedBlender {
	return orchestrator.WeightedBlender{
		SuccessWeight:  c.BlendSuccessWeight,
		ContractWeight: c.BlendContractWeight,
	}
}

// FeedbackConfig returns the outcome queue settings
func (c *Config) FeedbackConfig() feedback.Config {
	return feedback.Config{
		QueueSize:    c.FeedbackQueueSize,
		Workers:      c.FeedbackWorkers,
		ApplyTimeout: c.FeedbackApplyTimeout,
	}
}

// validateIdleTTL rejects an idle TTL that would expire state the engines still
// rely on: live success-rate buckets, running cooldowns or trip backoff
func (c *Config) validateIdleTTL() error {
	if c.StoreIdleTTL <= 0 {
		return nil
	}
	floors := []struct {
		name  string
		value time.Duration
	}{
		{"SR_WINDOW", c.SRWindow},
		{"ELIM_MAX_COOLDOWN", c.ElimMaxCooldown},
		{"ELIM_BACKOFF_RESET", c.ElimBackoffReset},
	}
	for _, f := range floors {
		if c.StoreIdleTTL < f.value {
			return fmt.Errorf("STORE_IDLE_TTL (%s) must not be shorter than %s (%s)", c.StoreIdleTTL, f.name, f.value)
		}
	}
	return nil
}

// StreamConfig returns the outcome stream settings
func (c *Config) StreamConfig() feedback.StreamConfig {
	return feedback.StreamConfig{
		Stream:       c.FeedbackStream,
		Group:        c.FeedbackGroup,
		RecoverEvery: c.FeedbackRecoverEvery,
		ClaimIdle:    c.FeedbackClaimIdle,
	}
}

// RedisConfig returns the Redis connection settings
func (c *Config) RedisConfig() *redis.Config {
	return &redis.Config{
		Address:  c.RedisAddress,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		PoolSize: c.RedisPoolSize,
	}
}

// LockConfig returns the per-key lock settings
func (c *Config) LockConfig() locks.Config {
	lock := locks.DefaultConfig()
	lock.Expiry = c.RedisLockExpiry
	lock.Tries = c.RedisLockTries
	lock.Prefix = c.StoreNamespace + ":lock"
	return lock
}

// ConnectRetry returns the startup connection retry policy
func (c *Config) ConnectRetry() utils.RetryConfig {
	retry := utils.DefaultRetryConfig()
	retry.MaxAttempts = c.RedisConnectAttempts
	retry.InitialDelay = c.RedisConnectBackoff
	return retry
}

// BreakerConfig returns the Redis circuit breaker settings
func (c *Config) BreakerConfig() circuitbreaker.Config {
	breaker := circuitbreaker.DefaultConfig()
	breaker.MaxFailures = c.RedisBreakerFailures
	breaker.Timeout = c.RedisBreakerTimeout
	return breaker
}
