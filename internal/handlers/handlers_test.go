package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"intelligent-router/internal/common/errors"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/contract"
	"intelligent-router/internal/elimination"
	"intelligent-router/internal/feedback"
	"intelligent-router/internal/metrics"
	"intelligent-router/internal/models"
	"intelligent-router/internal/orchestrator"
	"intelligent-router/internal/routing"
	"intelligent-router/internal/store"
	"intelligent-router/internal/successrate"
)

type testServer struct {
	router    *mux.Router
	rates     *successrate.Engine
	elim      *elimination.Engine
	contracts *contract.Engine
	processor *feedback.Processor
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	nop := logging.NewNopLogger()

	rates, err := successrate.NewEngine(store.NewMemoryStore[successrate.Window](successrate.NewWindow),
		successrate.DefaultConfig(), successrate.WithLogger(nop))
	require.NoError(t, err)
	elim, err := elimination.NewEngine(store.NewMemoryStore[elimination.Bucket](elimination.NewBucket),
		elimination.DefaultConfig(), elimination.WithLogger(nop))
	require.NoError(t, err)
	contracts, err := contract.NewEngine(store.NewMemoryStore[contract.Score](contract.NewScore),
		contract.DefaultConfig(), contract.WithLogger(nop))
	require.NoError(t, err)
	static := routing.NewStaticEngine(routing.WithLogger(nop))

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewPromRecorderWithRegistry(registry, registry)
	require.NoError(t, err)

	orch, err := orchestrator.New(static, elim, rates, contracts, orchestrator.Config{Budget: 100 * time.Millisecond},
		orchestrator.WithLogger(nop),
		orchestrator.WithMetrics(recorder),
	)
	require.NoError(t, err)

	processor, err := feedback.NewProcessor(orch, feedback.DefaultConfig(), feedback.WithLogger(nop))
	require.NoError(t, err)
	require.NoError(t, processor.Start(context.Background()))
	t.Cleanup(processor.Stop)

	h, err := New(Deps{
		Orchestrator: orch,
		Rules:        static,
		SuccessRate:  rates,
		Elimination:  elim,
		Contract:     contracts,
		Feedback:     processor,
		Metrics:      recorder.Handler(),
		Checks:       checks,
		Logger:       nop,
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testServer{
		router:    router,
		rates:     rates,
		elim:      elim,
		contracts: contracts,
		processor: processor,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (s *testServer) recordRates(t *testing.T, connector string, successes, failures int) {
	t.Helper()
	entity := models.NewEntity("m1", "p1", connector)
	for i := 0; i < successes+failures; i++ {
		_, err := s.rates.RecordOutcome(context.Background(), entity, i < successes)
		require.NoError(t, err)
	}
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestDecide(t *testing.T) {
	s := newTestServer(t, nil)
	s.recordRates(t, "A", 2, 8)
	s.recordRates(t, "B", 9, 1)

	rr := s.do(t, "POST", "/decide", DecideRequest{
		RequestID:  "req-1",
		MerchantID: "m1",
		ProfileID:  "p1",
		Candidates: []string{"A", "B"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	decision := decodeBody[orchestrator.Decision](t, rr)
	assert.Equal(t, "req-1", decision.RequestID)
	assert.Equal(t, []string{"B", "A"}, decision.Connectors())
	assert.Equal(t, int64(10), decision.Entries[0].Rationale.SuccessRate.SampleSize)
}

func TestDecide_GeneratesRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, "POST", "/decide", DecideRequest{MerchantID: "m1", ProfileID: "p1", Candidates: []string{"A"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decodeBody[orchestrator.Decision](t, rr).RequestID)
}

func TestDecide_RejectsBadRequests(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed json", "{"},
		{"no candidates", DecideRequest{MerchantID: "m1", ProfileID: "p1"}},
		{"empty candidate", DecideRequest{MerchantID: "m1", ProfileID: "p1", Candidates: []string{""}}},
		{"missing merchant", DecideRequest{ProfileID: "p1", Candidates: []string{"A"}}},
		{"separator in candidate", DecideRequest{MerchantID: "m1", ProfileID: "p1", Candidates: []string{"a:b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, "POST", "/decide", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, string(errors.ErrTypeValidation), decodeBody[errorResponse](t, rr).Error)
		})
	}
}

func TestSuccessRateEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	path := "/success-rate/m1/p1/A"

	rr := s.do(t, "POST", path, map[string]bool{"success": true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(1), decodeBody[successrate.Rate](t, rr).SampleSize)

	rr = s.do(t, "GET", path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rate := decodeBody[successrate.Rate](t, rr)
	assert.Equal(t, int64(1), rate.SampleSize)
	assert.Greater(t, rate.Probability, 0.5)

	rr = s.do(t, "GET", path+"/global", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	global := decodeBody[map[string]successrate.Rate](t, rr)
	assert.Equal(t, int64(1), global["global"].SampleSize)

	rr = s.do(t, "GET", path+"/snapshot", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1), decodeBody[successrate.Snapshot](t, rr).Total)

	rr = s.do(t, "DELETE", path, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "GET", path, nil)
	assert.Equal(t, int64(0), decodeBody[successrate.Rate](t, rr).SampleSize)
}

func TestSuccessRateEndpoints_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, "POST", "/success-rate/m1/p1/A", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, "GET", "/success-rate/m1/p1/a:b", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEliminationEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	path := "/elimination/m1/p1/A"

	var last *httptest.ResponseRecorder
	for i := 0; i < elimination.DefaultConfig().MaxConsecutiveFailures; i++ {
		last = s.do(t, "POST", path, map[string]bool{"success": false})
		require.Equal(t, http.StatusOK, last.Code, last.Body.String())
	}
	update := decodeBody[elimination.Update](t, last)
	assert.True(t, update.Tripped())

	rr := s.do(t, "GET", path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[elimination.Status](t, rr).Eliminated)

	rr = s.do(t, "GET", "/elimination/m1/p1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	eliminated := decodeBody[[]elimination.EliminatedEntity](t, rr)
	require.Len(t, eliminated, 1)
	assert.Equal(t, "A", eliminated[0].Entity.ConnectorLabel)

	rr = s.do(t, "DELETE", path, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "GET", "/elimination/m1/p1", nil)
	assert.Empty(t, decodeBody[[]elimination.EliminatedEntity](t, rr))
}

func TestContractEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	path := "/contract/m1/p1/A"

	rr := s.do(t, "GET", path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[contract.Boost](t, rr).NoContract)

	rr = s.do(t, "POST", path, map[string]string{"committed": "100", "period": "monthly"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	score := decodeBody[contract.Score](t, rr)
	assert.Equal(t, "100", score.Committed.String())

	rr = s.do(t, "GET", path, nil)
	boost := decodeBody[contract.Boost](t, rr)
	assert.False(t, boost.NoContract)
	assert.Greater(t, boost.Value, 0.0)

	rr = s.do(t, "PUT", path, map[string]string{"delta": "40"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "40", decodeBody[contract.Score](t, rr).Fulfilled.String())

	rr = s.do(t, "DELETE", path, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "GET", path, nil)
	assert.True(t, decodeBody[contract.Boost](t, rr).NoContract)
}

func TestContractEndpoints_Validation(t *testing.T) {
	s := newTestServer(t, nil)
	path := "/contract/m1/p1/A"

	tests := []struct {
		name   string
		method string
		body   interface{}
	}{
		{"zero commitment", "POST", map[string]string{"committed": "0"}},
		{"unknown period", "POST", map[string]string{"committed": "10", "period": "daily"}},
		{"fixed without length", "POST", map[string]string{"committed": "10", "period": "fixed"}},
		{"bad length", "POST", map[string]string{"committed": "10", "period": "fixed", "length": "soon"}},
		{"negative delta", "PUT", map[string]string{"delta": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, tt.method, path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rule := map[string]interface{}{
		"name":       "eur to C",
		"priority":   10,
		"enabled":    true,
		"expression": `currency == "EUR"`,
		"action":     map[string]interface{}{"type": "prefer", "connectors": []string{"C"}},
	}

	rr := s.do(t, "POST", "/rules/m1?profile=p1", rule)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[routing.RoutingRule](t, rr)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "p1", created.Scope.ProfileID)

	rr = s.do(t, "GET", "/rules/m1?profile=p1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]routing.RoutingRule](t, rr), 1)

	rr = s.do(t, "GET", "/rules/m1", nil)
	assert.Empty(t, decodeBody[[]routing.RoutingRule](t, rr))

	rr = s.do(t, "GET", fmt.Sprintf("/rules/m1/%s?profile=p1", created.ID), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "eur to C", decodeBody[routing.RoutingRule](t, rr).Name)

	rr = s.do(t, "POST", "/rules/m1/evaluate", EvaluateRequest{
		ProfileID:  "p1",
		Candidates: []string{"A", "B", "C"},
		Attributes: models.PaymentAttributes{Currency: "EUR"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	hint := decodeBody[routing.Hint](t, rr)
	require.Len(t, hint.Matched, 1)
	assert.Equal(t, created.ID, hint.Matched[0].RuleID)

	rr = s.do(t, "POST", "/decide", DecideRequest{
		MerchantID: "m1",
		ProfileID:  "p1",
		Candidates: []string{"A", "B", "C"},
		Attributes: models.PaymentAttributes{Currency: "EUR"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "C", decodeBody[orchestrator.Decision](t, rr).Entries[0].Connector)

	rule["priority"] = 20
	rr = s.do(t, "PUT", fmt.Sprintf("/rules/m1/%s?profile=p1", created.ID), rule)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 20, decodeBody[routing.RoutingRule](t, rr).Priority)

	rr = s.do(t, "DELETE", fmt.Sprintf("/rules/m1/%s?profile=p1", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, "DELETE", fmt.Sprintf("/rules/m1/%s?profile=p1", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(errors.ErrTypeNotFound), decodeBody[errorResponse](t, rr).Error)
}

func TestRuleEndpoints_EnabledByDefault(t *testing.T) {
	s := newTestServer(t, nil)

	rule := map[string]interface{}{
		"name":       "usd to A",
		"expression": `currency == "USD"`,
		"action":     map[string]interface{}{"type": "prefer", "connectors": []string{"A"}},
	}
	rr := s.do(t, "POST", "/rules/m1", rule)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[routing.RoutingRule](t, rr)
	assert.True(t, created.Enabled)

	evaluate := EvaluateRequest{
		Candidates: []string{"A", "B"},
		Attributes: models.PaymentAttributes{Currency: "USD"},
	}
	rr = s.do(t, "POST", "/rules/m1/evaluate", evaluate)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, decodeBody[routing.Hint](t, rr).Matched, 1)

	rule["enabled"] = false
	rr = s.do(t, "PUT", "/rules/m1/"+created.ID, rule)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, decodeBody[routing.RoutingRule](t, rr).Enabled)

	rr = s.do(t, "POST", "/rules/m1/evaluate", evaluate)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decodeBody[routing.Hint](t, rr).Matched)

	delete(rule, "enabled")
	rr = s.do(t, "PUT", "/rules/m1/"+created.ID, rule)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decodeBody[routing.RoutingRule](t, rr).Enabled)
}

func TestRuleEndpoints_Validate(t *testing.T) {
	s := newTestServer(t, nil)

	rule := map[string]interface{}{
		"name": "large amounts",
		"conditions": []map[string]interface{}{
			{"attribute": "amount", "operator": "gte", "value": 1000},
		},
		"action": map[string]interface{}{"type": "filter", "connectors": []string{"A"}},
	}
	rr := s.do(t, "POST", "/rules/m1/validate", rule)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	check := decodeBody[RuleCheck](t, rr)
	assert.True(t, check.Valid)
	assert.Contains(t, check.Operators, "gte")

	rule["conditions"] = []map[string]interface{}{
		{"attribute": "amount", "operator": "between", "value": 1000},
	}
	rr = s.do(t, "POST", "/rules/m1/validate", rule)
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

	rr = s.do(t, "GET", "/rules/m1", nil)
	assert.Empty(t, decodeBody[[]routing.RoutingRule](t, rr))
}

func TestRuleEndpoints_RejectsInvalidRule(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, "POST", "/rules/m1", map[string]interface{}{
		"name":       "broken",
		"enabled":    true,
		"expression": "colour == 'red'",
		"action":     map[string]interface{}{"type": "filter", "connectors": []string{"A"}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

	rr = s.do(t, "GET", "/rules/m1", nil)
	assert.Empty(t, decodeBody[[]routing.RoutingRule](t, rr))
}

func TestSubmitOutcome(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, "POST", "/outcomes", models.OutcomeEvent{
		Entity:    models.NewEntity("m1", "p1", "A"),
		Success:   true,
		Timestamp: time.Now(),
		RequestID: "req-1",
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.True(t, decodeBody[OutcomeAccepted](t, rr).Queued)

	assert.Eventually(t, func() bool {
		rate, err := s.rates.FetchRate(context.Background(), models.NewEntity("m1", "p1", "A"))
		return err == nil && rate.SampleSize == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitOutcome_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, "POST", "/outcomes", map[string]interface{}{
		"entity": map[string]string{"merchant_id": "m1", "profile_id": "p1", "connector": "a:b"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitOutcome_StoppedProcessor(t *testing.T) {
	s := newTestServer(t, nil)
	s.processor.Stop()

	rr := s.do(t, "POST", "/outcomes", models.OutcomeEvent{Entity: models.NewEntity("m1", "p1", "A")})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, int64(1), s.processor.Stats().Dropped)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(t, map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		})

		rr := s.do(t, "GET", "/health", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[HealthResponse](t, rr)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "ok", resp.Checks["redis"])
	})

	t.Run("unhealthy dependency", func(t *testing.T) {
		s := newTestServer(t, map[string]HealthCheck{
			"redis": func(context.Context) error { return fmt.Errorf("connection refused") },
		})

		rr := s.do(t, "GET", "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		resp := decodeBody[HealthResponse](t, rr)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "connection refused", resp.Checks["redis"])
	})
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, "POST", "/decide", DecideRequest{MerchantID: "m1", ProfileID: "p1", Candidates: []string{"A"}})

	rr := s.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "routing_decisions_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.ValidationError("bad"), http.StatusBadRequest},
		{errors.NotFoundError("rule"), http.StatusNotFound},
		{errors.ExhaustedCandidatesError("req"), http.StatusUnprocessableEntity},
		{fmt.Errorf("read: %w", errors.StoreUnavailableError("read", nil)), http.StatusServiceUnavailable},
		{errors.TimeoutError("decide"), http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(errors.GetType(tt.err)), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
