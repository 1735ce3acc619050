package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/config"
	"intelligent-router/internal/contract"
	"intelligent-router/internal/feedback"
	"intelligent-router/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	logging.SetGlobalLogger(logging.NewNopLogger())

	cfg := config.Load()
	cfg.StoreBackend = "memory"
	cfg.FeedbackStreamEnabled = false
	cfg.StoreIdleTTL = time.Hour
	cfg.MaintenanceSchedule = "@every 1m"
	return cfg
}

func serve(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func TestNew_MemoryBackend(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	assert.Nil(t, app.RedisClient)
	assert.Nil(t, app.Stream)
	assert.NotNil(t, app.scheduler)
	assert.Len(t, app.sweepers, 3)

	require.NoError(t, app.Start(context.Background()))
	defer app.Shutdown(context.Background())

	router, err := app.Router()
	require.NoError(t, err)

	rr := serve(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = serve(t, router, "POST", "/decide", map[string]interface{}{
		"merchant_id": "m1",
		"profile_id":  "p1",
		"candidates":  []string{"A", "B"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(t, router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "routing_decisions_total")
}

func TestNew_MaintenanceDisabledWithoutIdleTTL(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreIdleTTL = 0

	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	assert.Nil(t, app.scheduler)
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaintenanceSchedule = "whenever"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "redis"
	cfg.RedisAddress = "127.0.0.1:1"
	cfg.RedisConnectAttempts = 2
	cfg.RedisConnectBackoff = time.Millisecond

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	ctx := context.Background()
	entity := models.NewEntity("m1", "p1", "A")
	_, err = app.SuccessRate.RecordOutcome(ctx, entity, true)
	require.NoError(t, err)
	_, err = app.Elimination.RecordOutcome(ctx, entity, false)
	require.NoError(t, err)
	_, err = app.Contract.SetCommitment(ctx, entity, contract.Terms{Committed: decimal.NewFromInt(100), Period: contract.PeriodMonthly})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"contract": 0, "elim": 0, "sr": 0}, app.sweep())
	assert.Equal(t, 1, app.sweepers[kindSuccessRate].Len())

	// only the elimination bucket, which never tripped, has expired
	app.Config.StoreIdleTTL = time.Nanosecond
	time.Sleep(time.Millisecond)
	assert.Equal(t, map[string]int{"contract": 0, "elim": 1, "sr": 0}, app.sweep())
	assert.Equal(t, 1, app.sweepers[kindSuccessRate].Len())
	assert.Equal(t, 1, app.sweepers[kindContract].Len())

	boost, err := app.Contract.FetchScore(ctx, entity)
	require.NoError(t, err)
	assert.True(t, boost.Committed.Equal(decimal.NewFromInt(100)))
}

func TestNew_RedisBackendWithOutcomeStream(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.StoreBackend = "redis"
	cfg.RedisAddress = mr.Addr()
	cfg.FeedbackStreamEnabled = true
	require.NoError(t, cfg.Validate())

	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	require.NotNil(t, app.RedisClient)
	require.NotNil(t, app.Stream)
	assert.Empty(t, app.sweepers)
	assert.Nil(t, app.scheduler)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))

	entity := models.NewEntity("m1", "p1", "A")
	_, err = feedback.PublishOutcome(ctx, app.RedisClient, cfg.FeedbackStream, models.OutcomeEvent{
		Entity:    entity,
		Success:   true,
		Timestamp: time.Now(),
		RequestID: "req-1",
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rate, err := app.SuccessRate.FetchRate(ctx, entity)
		return err == nil && rate.SampleSize == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, mr.Exists(cfg.StoreNamespace+":sr:"+entity.Key()))
	assert.Equal(t, cfg.StoreIdleTTL, mr.TTL(cfg.StoreNamespace+":sr:"+entity.Key()))

	_, err = app.Contract.SetCommitment(ctx, entity, contract.Terms{Committed: decimal.NewFromInt(100), Period: contract.PeriodMonthly})
	require.NoError(t, err)
	contractKey := cfg.StoreNamespace + ":contract:" + entity.Key()
	assert.True(t, mr.Exists(contractKey))
	assert.Zero(t, mr.TTL(contractKey))

	router, err := app.Router()
	require.NoError(t, err)
	rr := serve(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(shutdownCtx))
}
