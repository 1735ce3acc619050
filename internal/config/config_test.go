package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intelligent-router/internal/contract"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT",
	"STORE_BACKEND", "STORE_SHARDS", "STORE_IDLE_TTL", "STORE_NAMESPACE",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"REDIS_LOCK_EXPIRY", "REDIS_LOCK_TRIES", "REDIS_BREAKER_FAILURES", "REDIS_BREAKER_TIMEOUT",
	"REDIS_CONNECT_ATTEMPTS", "REDIS_CONNECT_BACKOFF",
	"SR_WINDOW", "SR_BUCKETS", "SR_PRIOR", "SR_PRIOR_WEIGHT", "SR_EXPLORATION_RATE",
	"ELIM_MAX_CONSECUTIVE", "ELIM_FAILURE_RATE", "ELIM_MIN_ATTEMPTS", "ELIM_WINDOW",
	"ELIM_BASE_COOLDOWN", "ELIM_MAX_COOLDOWN", "ELIM_BACKOFF_RESET", "ELIM_SUCCESS_DECAY",
	"CONTRACT_MAX_BOOST", "CONTRACT_URGENCY", "CONTRACT_MIN_REMAINING",
	"CONTRACT_OVERFULFILLMENT_PENALTY", "CONTRACT_DEFAULT_PERIOD", "CONTRACT_VOLUME_UNIT",
	"DECISION_BUDGET", "BLEND_SUCCESS_WEIGHT", "BLEND_CONTRACT_WEIGHT", "RULE_PROGRAM_TTL",
	"FEEDBACK_QUEUE_SIZE", "FEEDBACK_WORKERS", "FEEDBACK_APPLY_TIMEOUT",
	"FEEDBACK_STREAM_ENABLED", "FEEDBACK_STREAM", "FEEDBACK_GROUP",
	"FEEDBACK_RECOVER_EVERY", "FEEDBACK_CLAIM_IDLE",
	"MAINTENANCE_SCHEDULE",
}

// clearTestEnvVars unsets every variable Load reads for the duration of the test
func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", config.Port, "8080")
	}
	if config.StoreBackend != "memory" {
		t.Errorf("Load() StoreBackend = %v, want memory", config.StoreBackend)
	}
	if config.StoreShards != 64 {
		t.Errorf("Load() StoreShards = %v, want 64", config.StoreShards)
	}
	if config.DecisionBudget != 5*time.Millisecond {
		t.Errorf("Load() DecisionBudget = %v, want 5ms", config.DecisionBudget)
	}
	if config.SRPrior != 0.5 {
		t.Errorf("Load() SRPrior = %v, want 0.5", config.SRPrior)
	}
	if config.ElimMaxConsecutive != 5 {
		t.Errorf("Load() ElimMaxConsecutive = %v, want 5", config.ElimMaxConsecutive)
	}
	if config.ContractDefaultPeriod != string(contract.PeriodMonthly) {
		t.Errorf("Load() ContractDefaultPeriod = %v, want monthly", config.ContractDefaultPeriod)
	}
	if config.FeedbackStreamEnabled {
		t.Errorf("Load() FeedbackStreamEnabled = true, want false")
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SR_WINDOW", "30m")
	t.Setenv("SR_BUCKETS", "30")
	t.Setenv("SR_EXPLORATION_RATE", "0.1")
	t.Setenv("CONTRACT_VOLUME_UNIT", "amount")
	t.Setenv("DECISION_BUDGET", "3ms")
	t.Setenv("FEEDBACK_STREAM_ENABLED", "true")
	t.Setenv("REDIS_CONNECT_ATTEMPTS", "5")

	config := Load()

	if config.Port != "9090" || config.LogLevel != "debug" {
		t.Errorf("Load() Port/LogLevel = %v/%v, want 9090/debug", config.Port, config.LogLevel)
	}
	if config.RedisDB != 3 {
		t.Errorf("Load() RedisDB = %v, want 3", config.RedisDB)
	}

	sr := config.SuccessRateConfig()
	if sr.WindowDuration != 30*time.Minute || sr.BucketCount != 30 || sr.ExplorationRate != 0.1 {
		t.Errorf("SuccessRateConfig() = %+v", sr)
	}
	if config.ContractConfig().VolumeUnit != contract.VolumeAmount {
		t.Errorf("ContractConfig().VolumeUnit = %v, want amount", config.ContractConfig().VolumeUnit)
	}
	if config.OrchestratorConfig().Budget != 3*time.Millisecond {
		t.Errorf("OrchestratorConfig().Budget = %v, want 3ms", config.OrchestratorConfig().Budget)
	}
	if got := config.LockConfig().Prefix; got != "router:lock" {
		t.Errorf("LockConfig().Prefix = %v, want router:lock", got)
	}
	if config.RedisConfig().DB != 3 {
		t.Errorf("RedisConfig().DB = %v, want 3", config.RedisConfig().DB)
	}
	if retry := config.ConnectRetry(); retry.MaxAttempts != 5 || retry.InitialDelay != time.Second {
		t.Errorf("ConnectRetry() = %+v, want 5 attempts from 1s", retry)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unparsable integer", map[string]string{"STORE_SHARDS": "many"}, "STORE_SHARDS must be an integer"},
		{"unparsable duration", map[string]string{"DECISION_BUDGET": "soon"}, "DECISION_BUDGET must be a valid duration"},
		{"unparsable float", map[string]string{"SR_PRIOR": "half"}, "SR_PRIOR must be a number"},
		{"bad port", map[string]string{"PORT": "70000"}, "PORT must be a valid port number"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "etcd"}, "StoreBackend"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "LogLevel"},
		{"redis db out of range", map[string]string{"REDIS_DB": "16"}, "RedisDB"},
		{"zero budget", map[string]string{"DECISION_BUDGET": "0s"}, "DecisionBudget"},
		{"namespace with separator", map[string]string{"STORE_NAMESPACE": "a:b"}, "StoreNamespace"},
		{"bad cron", map[string]string{"MAINTENANCE_SCHEDULE": "every tuesday"}, "MAINTENANCE_SCHEDULE"},
		{"prior out of range", map[string]string{"SR_PRIOR": "1.5"}, "success rate"},
		{"too many buckets", map[string]string{"SR_WINDOW": "10ns", "SR_BUCKETS": "20"}, "success rate"},
		{"bad failure rate", map[string]string{"ELIM_FAILURE_RATE": "0"}, "elimination"},
		{"bad period", map[string]string{"CONTRACT_DEFAULT_PERIOD": "yearly"}, "contract"},
		{"no blend weight", map[string]string{"BLEND_SUCCESS_WEIGHT": "0", "BLEND_CONTRACT_WEIGHT": "0"}, "blend"},
		{"no workers", map[string]string{"FEEDBACK_WORKERS": "0"}, "feedback"},
		{"no recovery interval", map[string]string{"FEEDBACK_RECOVER_EVERY": "0s"}, "FeedbackRecoverEvery"},
		{"idle ttl below max cooldown", map[string]string{"STORE_IDLE_TTL": "20m", "ELIM_BACKOFF_RESET": "10m"}, "ELIM_MAX_COOLDOWN"},
		{"idle ttl below backoff reset", map[string]string{"STORE_IDLE_TTL": "45m"}, "ELIM_BACKOFF_RESET"},
		{"idle ttl below success window", map[string]string{"STORE_IDLE_TTL": "10m", "ELIM_MAX_COOLDOWN": "5m", "ELIM_BACKOFF_RESET": "5m"}, "SR_WINDOW"},
		{"idle ttl disabled", map[string]string{"STORE_IDLE_TTL": "0s"}, ""},
		{"stream enabled with default redis", map[string]string{"FEEDBACK_STREAM_ENABLED": "true", "REDIS_ADDRESS": ""}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := Load().Validate()
			if tt.wantErr == "" {
				// REDIS_ADDRESS empty falls back to its default
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearTestEnvVars(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SR_BUCKETS=30\nPORT=7070\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "6060")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("SR_BUCKETS") })

	config := Load()
	if config.SRBuckets != 30 {
		t.Errorf("SRBuckets = %v, want 30 from .env", config.SRBuckets)
	}
	if config.Port != "6060" {
		t.Errorf("Port = %v, want the already set 6060", config.Port)
	}
}
