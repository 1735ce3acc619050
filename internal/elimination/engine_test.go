package elimination

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"intelligent-router/internal/common/logging"
	"intelligent-router/internal/models"
	"intelligent-router/internal/store"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var (
	connA = models.NewEntity("m1", "p1", "connA")
	connB = models.NewEntity("m1", "p1", "connB")
)

func newTestEngine(t *testing.T, config Config) (*Engine, *testClock) {
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	engine, err := NewEngine(store.NewMemoryStore[Bucket](NewBucket), config,
		WithClock(clock.Now),
		WithLogger(logging.NewNopLogger()),
	)
	require.NoError(t, err)
	return engine, clock
}

func fail(t *testing.T, e *Engine, entity models.RoutableEntity, n int) Update {
	var update Update
	for i := 0; i < n; i++ {
		var err error
		update, err = e.RecordFailure(context.Background(), entity)
		require.NoError(t, err)
	}
	return update
}

func TestConfig_Cooldown(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, time.Minute, config.Cooldown(1))
	assert.Equal(t, 2*time.Minute, config.Cooldown(2))
	assert.Equal(t, 4*time.Minute, config.Cooldown(3))
	assert.Equal(t, 16*time.Minute, config.Cooldown(5))
	assert.Equal(t, 30*time.Minute, config.Cooldown(6))
	assert.Equal(t, 30*time.Minute, config.Cooldown(60))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero consecutive", func(c *Config) { c.MaxConsecutiveFailures = 0 }},
		{"rate above one", func(c *Config) { c.FailureRateThreshold = 1.1 }},
		{"zero attempts", func(c *Config) { c.MinAttempts = 0 }},
		{"zero window", func(c *Config) { c.EvaluationWindow = 0 }},
		{"zero cooldown", func(c *Config) { c.BaseCooldown = 0 }},
		{"max below base", func(c *Config) { c.MaxCooldown = time.Second }},
		{"negative decay", func(c *Config) { c.SuccessDecay = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestEngine_ConsecutiveFailuresTrip(t *testing.T) {
	ctx := context.Background()
	engine, clock := newTestEngine(t, DefaultConfig())

	update := fail(t, engine, connB, 4)
	assert.Equal(t, StateActive, update.State)
	assert.Nil(t, update.CooldownUntil)

	eliminated, err := engine.IsEliminated(ctx, connB)
	require.NoError(t, err)
	assert.False(t, eliminated)

	update = fail(t, engine, connB, 1)
	assert.Equal(t, StateActive, update.Previous)
	assert.Equal(t, StateTripped, update.State)
	assert.True(t, update.Tripped())
	require.NotNil(t, update.CooldownUntil)
	assert.Equal(t, clock.now.Add(time.Minute), *update.CooldownUntil)

	eliminated, err = engine.IsEliminated(ctx, connB)
	require.NoError(t, err)
	assert.True(t, eliminated)

	status, err := engine.Status(ctx, connB)
	require.NoError(t, err)
	assert.Equal(t, StateEliminated, status.State)

	// unrelated entity is untouched
	eliminated, err = engine.IsEliminated(ctx, connA)
	require.NoError(t, err)
	assert.False(t, eliminated)

	clock.Advance(time.Minute)
	eliminated, err = engine.IsEliminated(ctx, connB)
	require.NoError(t, err)
	assert.False(t, eliminated)

	status, err = engine.Status(ctx, connB)
	require.NoError(t, err)
	assert.Equal(t, StateActive, status.State)
	assert.Equal(t, int64(0), status.ConsecutiveFailures)
}

func TestEngine_FailureRateTrip(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	// alternate so the consecutive counter never reaches 5
	var update Update
	for i := 0; i < 6; i++ {
		var err error
		update, err = engine.RecordFailure(ctx, connA)
		require.NoError(t, err)
		if update.Tripped() {
			break
		}
		_, err = engine.RecordSuccess(ctx, connA)
		require.NoError(t, err)
	}
	assert.Equal(t, StateActive, update.State, "success decay keeps an alternating connector healthy")

	config := DefaultConfig()
	config.SuccessDecay = 0
	engine, _ = newTestEngine(t, config)
	for i := 0; i < 5; i++ {
		update, err := engine.RecordFailure(ctx, connA)
		require.NoError(t, err)
		require.False(t, update.Tripped(), "attempt %d", i)
		update, err = engine.RecordSuccess(ctx, connA)
		require.NoError(t, err)
		require.False(t, update.Tripped())
	}
	// 10 attempts, 5 failures: the next failure crosses 50%
	update, err := engine.RecordFailure(ctx, connA)
	require.NoError(t, err)
	assert.True(t, update.Tripped())
}

func TestEngine_SuccessResetsConsecutive(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	fail(t, engine, connA, 4)
	_, err := engine.RecordSuccess(ctx, connA)
	require.NoError(t, err)
	update := fail(t, engine, connA, 4)
	assert.Equal(t, StateActive, update.State)

	status, err := engine.Status(ctx, connA)
	require.NoError(t, err)
	assert.Equal(t, int64(4), status.ConsecutiveFailures)
	// 8 failures, one decayed by the success
	assert.Equal(t, int64(7), status.Failures)
	assert.Equal(t, int64(9), status.Attempts)
}

func TestEngine_OutcomesDuringCooldown(t *testing.T) {
	engine, clock := newTestEngine(t, DefaultConfig())

	tripped := fail(t, engine, connA, 5)
	require.True(t, tripped.Tripped())
	until := *tripped.CooldownUntil

	clock.Advance(30 * time.Second)
	update := fail(t, engine, connA, 10)
	assert.Equal(t, StateEliminated, update.Previous)
	assert.Equal(t, StateEliminated, update.State)
	assert.Equal(t, until, *update.CooldownUntil, "cooldown is never extended")
	assert.Equal(t, 1, update.TripCount)
}

func TestEngine_ExponentialBackoff(t *testing.T) {
	engine, clock := newTestEngine(t, DefaultConfig())

	first := fail(t, engine, connA, 5)
	assert.Equal(t, clock.now.Add(time.Minute), *first.CooldownUntil)

	clock.Advance(time.Minute)
	second := fail(t, engine, connA, 5)
	require.True(t, second.Tripped())
	assert.Equal(t, 2, second.TripCount)
	assert.Equal(t, clock.now.Add(2*time.Minute), *second.CooldownUntil)

	clock.Advance(2 * time.Minute)
	third := fail(t, engine, connA, 5)
	assert.Equal(t, 3, third.TripCount)
	assert.Equal(t, clock.now.Add(4*time.Minute), *third.CooldownUntil)

	// quiet for longer than the reset period: back to the base cooldown
	clock.Advance(2 * time.Hour)
	fourth := fail(t, engine, connA, 5)
	assert.Equal(t, 1, fourth.TripCount)
	assert.Equal(t, clock.now.Add(time.Minute), *fourth.CooldownUntil)
}

func TestEngine_SweepKeepsCooldowns(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	st := store.NewMemoryStore[Bucket](NewBucket, store.WithClock(clock.Now))
	config := DefaultConfig()
	config.BaseCooldown = 10 * time.Minute
	engine, err := NewEngine(st, config, WithClock(clock.Now), WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	update := fail(t, engine, connB, 5)
	require.True(t, update.Tripped())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, st.Sweep(time.Minute))
	eliminated, err := engine.IsEliminated(ctx, connB)
	require.NoError(t, err)
	assert.True(t, eliminated)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, st.Sweep(time.Minute))
	assert.Zero(t, st.Len())
}

func TestEngine_EvaluationWindowRoll(t *testing.T) {
	engine, clock := newTestEngine(t, DefaultConfig())

	fail(t, engine, connA, 4)
	clock.Advance(6 * time.Minute)
	update := fail(t, engine, connA, 4)
	assert.Equal(t, StateActive, update.State)
}

func TestEngine_Invalidate(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	fail(t, engine, connA, 5)
	require.NoError(t, engine.Invalidate(ctx, connA))

	eliminated, err := engine.IsEliminated(ctx, connA)
	require.NoError(t, err)
	assert.False(t, eliminated)

	status, err := engine.Status(ctx, connA)
	require.NoError(t, err)
	assert.Equal(t, StateActive, status.State)
	assert.Equal(t, 0, status.TripCount)
	assert.Equal(t, int64(0), status.Failures)
}

func TestEngine_FetchEliminated(t *testing.T) {
	engine, clock := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	fail(t, engine, connB, 5)
	fail(t, engine, connA, 5)
	fail(t, engine, models.NewEntity("m1", "p2", "connA"), 5)
	fail(t, engine, models.NewEntity("m1", "p1", "connC"), 2)

	list, err := engine.FetchEliminated(ctx, models.Scope{MerchantID: "m1", ProfileID: "p1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, connA, list[0].Entity)
	assert.Equal(t, connB, list[1].Entity)
	assert.Equal(t, 1, list[0].TripCount)

	merchant, err := engine.FetchEliminated(ctx, models.Scope{MerchantID: "m1"})
	require.NoError(t, err)
	assert.Len(t, merchant, 3)

	clock.Advance(time.Minute)
	list, err = engine.FetchEliminated(ctx, models.Scope{MerchantID: "m1", ProfileID: "p1"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEngine_Statuses(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	fail(t, engine, connB, 5)

	statuses, err := engine.Statuses(ctx, []models.RoutableEntity{connA, connB})
	require.NoError(t, err)
	assert.False(t, statuses[connA.Key()].Eliminated)
	assert.True(t, statuses[connB.Key()].Eliminated)
	assert.NotNil(t, statuses[connB.Key()].CooldownUntil)
}

func TestBucket_Transitions(t *testing.T) {
	b := NewBucket()
	assert.Error(t, b.moveTo(StateEliminated))
	assert.Error(t, b.moveTo(StateActive))
	require.NoError(t, b.moveTo(StateTripped))
	assert.Error(t, b.moveTo(StateActive))
	require.NoError(t, b.moveTo(StateEliminated))
	require.NoError(t, b.moveTo(StateActive))
}

func TestState_JSON(t *testing.T) {
	b := NewBucket()
	b.State = StateEliminated

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"eliminated"`)

	var decoded Bucket
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StateEliminated, decoded.State)

	assert.Error(t, decoded.State.UnmarshalText([]byte("bogus")))
	_, err = State(7).MarshalText()
	assert.Error(t, err)
}
