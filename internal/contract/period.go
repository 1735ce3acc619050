package contract

import (
	"fmt"
	"time"
)

// Period is the commitment period kind
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodWeekly  Period = "weekly"
	PeriodFixed   Period = "fixed"
)

// Valid reports whether p is a known period
func (p Period) Valid() bool {
	switch p {
	case PeriodMonthly, PeriodWeekly, PeriodFixed:
		return true
	}
	return false
}

// Bounds returns the [start, end) period containing now. Calendar periods are
// UTC; fixed periods are anchored at anchor and repeat every length.
func Bounds(p Period, now, anchor time.Time, length time.Duration) (time.Time, time.Time, error) {
	now = now.UTC()
	switch p {
	case PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	case PeriodWeekly:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		// weeks start on Monday
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case PeriodFixed:
		if length <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("fixed period requires a positive length")
		}
		anchor = anchor.UTC()
		if now.Before(anchor) {
			return anchor, anchor.Add(length), nil
		}
		elapsed := now.Sub(anchor) / length
		start := anchor.Add(elapsed * length)
		return start, start.Add(length), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", p)
	}
}
