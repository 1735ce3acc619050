package contract

import (
	"time"

	"github.com/shopspring/decimal"
)

// Score is the per-entity contract state
type Score struct {
	Committed    decimal.Decimal `json:"committed"`
	Fulfilled    decimal.Decimal `json:"fulfilled"`
	Period       Period          `json:"period,omitempty"`
	PeriodLength time.Duration   `json:"period_length,omitempty"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
}

// NewScore returns the empty state absent keys read as
func NewScore() Score {
	return Score{Committed: decimal.Zero, Fulfilled: decimal.Zero}
}

// Clone implements store.State; decimals are immutable values
func (s Score) Clone() Score {
	return s
}

// Expired implements store.State. Commitments never expire; fulfillment
// recorded without one is kept until its period ends.
func (s Score) Expired(now time.Time) bool {
	if s.HasCommitment() {
		return false
	}
	return !s.started() || !now.Before(s.PeriodEnd)
}

// HasCommitment reports whether contract terms were set
func (s Score) HasCommitment() bool {
	return s.Committed.IsPositive()
}

// started reports whether period boundaries have been assigned
func (s Score) started() bool {
	return s.Period != "" && !s.PeriodEnd.IsZero()
}

// rollover moves the state into the period containing now. Fulfillment resets,
// the commitment carries forward.
func (s *Score) rollover(now time.Time) error {
	if !s.started() || now.Before(s.PeriodEnd) {
		return nil
	}
	start, end, err := Bounds(s.Period, now, s.PeriodStart, s.PeriodLength)
	if err != nil {
		return err
	}
	s.PeriodStart = start
	s.PeriodEnd = end
	s.Fulfilled = decimal.Zero
	return nil
}

// remainingFraction is the share of the current period still ahead of now
func (s Score) remainingFraction(now time.Time) float64 {
	total := s.PeriodEnd.Sub(s.PeriodStart)
	if total <= 0 {
		return 0
	}
	remaining := s.PeriodEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining >= total {
		return 1
	}
	return float64(remaining) / float64(total)
}
