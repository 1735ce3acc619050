package elimination

import (
	"fmt"
	"time"
)

// State is the quarantine state of one entity
type State int

const (
	// StateActive entities are eligible candidates
	StateActive State = iota
	// StateTripped is the instant a threshold was crossed; it is reported but never stored
	StateTripped
	// StateEliminated entities are excluded until their cooldown expires
	StateEliminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTripped:
		return "tripped"
	case StateEliminated:
		return "eliminated"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	if s < StateActive || s > StateEliminated {
		return nil, fmt.Errorf("invalid elimination state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active", "":
		*s = StateActive
	case "tripped":
		*s = StateTripped
	case "eliminated":
		*s = StateEliminated
	default:
		return fmt.Errorf("unknown elimination state %q", string(text))
	}
	return nil
}

// transitions lists the legal moves of the state machine. Invalidation is the
// only other way out of Eliminated and replaces the whole bucket.
var transitions = map[State][]State{
	StateActive:     {StateTripped},
	StateTripped:    {StateEliminated},
	StateEliminated: {StateActive},
}

// Bucket is the per-entity elimination state
type Bucket struct {
	State               State     `json:"state"`
	Failures            int64     `json:"failures"`
	Attempts            int64     `json:"attempts"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	WindowStart         time.Time `json:"window_start"`
	TripCount           int       `json:"trip_count"`
	LastTripAt          time.Time `json:"last_trip_at"`
	CooldownUntil       time.Time `json:"cooldown_until"`
}

// NewBucket returns the Active, zero-counter bucket absent keys read as
func NewBucket() Bucket {
	return Bucket{State: StateActive}
}

// Clone implements store.State
func (b Bucket) Clone() Bucket {
	return b
}

// Expired implements store.State: no cooldown is running at now. Trip backoff
// outlives the bucket only while the store keeps idle entries longer than the reset.
func (b Bucket) Expired(now time.Time) bool {
	return !b.Eliminated(now)
}

func (b *Bucket) moveTo(to State) error {
	for _, allowed := range transitions[b.State] {
		if allowed == to {
			b.State = to
			return nil
		}
	}
	return fmt.Errorf("illegal elimination transition %s -> %s", b.State, to)
}

// Eliminated reports whether the bucket excludes its entity at now
func (b Bucket) Eliminated(now time.Time) bool {
	return b.State == StateEliminated && now.Before(b.CooldownUntil)
}

// FailureRate is Failures/Attempts of the current evaluation window
func (b Bucket) FailureRate() float64 {
	if b.Attempts == 0 {
		return 0
	}
	return float64(b.Failures) / float64(b.Attempts)
}

func (b *Bucket) resetCounters(now time.Time) {
	b.Failures = 0
	b.Attempts = 0
	b.ConsecutiveFailures = 0
	b.WindowStart = now
}

// refresh applies every time-driven transition due at now
func (b *Bucket) refresh(now time.Time, config Config) error {
	if b.State == StateEliminated && !now.Before(b.CooldownUntil) {
		if err := b.moveTo(StateActive); err != nil {
			return err
		}
		b.resetCounters(now)
		b.CooldownUntil = time.Time{}
	}

	if b.TripCount > 0 && now.Sub(b.LastTripAt) >= config.BackoffResetAfter {
		b.TripCount = 0
	}

	if b.State == StateActive && (b.WindowStart.IsZero() || now.Sub(b.WindowStart) >= config.EvaluationWindow) {
		b.resetCounters(now)
	}
	return nil
}

func (b Bucket) shouldTrip(config Config) bool {
	if b.ConsecutiveFailures >= int64(config.MaxConsecutiveFailures) {
		return true
	}
	return b.Attempts >= int64(config.MinAttempts) && b.FailureRate() >= config.FailureRateThreshold
}

// trip moves Active -> Tripped -> Eliminated and starts the cooldown
func (b *Bucket) trip(now time.Time, config Config) error {
	if err := b.moveTo(StateTripped); err != nil {
		return err
	}
	b.TripCount++
	b.LastTripAt = now
	b.CooldownUntil = now.Add(config.Cooldown(b.TripCount))
	return b.moveTo(StateEliminated)
}

// recordFailure returns the state to report: Tripped for the call that trips
func (b *Bucket) recordFailure(now time.Time, config Config) (State, error) {
	if err := b.refresh(now, config); err != nil {
		return b.State, err
	}

	b.Attempts++
	b.Failures++
	b.ConsecutiveFailures++

	if b.State != StateActive || !b.shouldTrip(config) {
		return b.State, nil
	}

	if err := b.trip(now, config); err != nil {
		return b.State, err
	}
	return StateTripped, nil
}

func (b *Bucket) recordSuccess(now time.Time, config Config) (State, error) {
	if err := b.refresh(now, config); err != nil {
		return b.State, err
	}

	b.Attempts++
	b.ConsecutiveFailures = 0
	b.Failures -= int64(config.SuccessDecay)
	if b.Failures < 0 {
		b.Failures = 0
	}
	return b.State, nil
}
