package successrate

import (
	"sort"
	"time"
)

// Bucket holds the outcome counts of one slice of the window
type Bucket struct {
	Start   time.Time `json:"start"`
	Success int64     `json:"success"`
	Total   int64     `json:"total"`
}

// Window is the per-entity state: fixed-width buckets ordered by Start.
// Success never exceeds Total, per bucket and in aggregate.
type Window struct {
	Buckets []Bucket `json:"buckets,omitempty"`
	// Span is the window duration the buckets were recorded with
	Span time.Duration `json:"span,omitempty"`
}

// NewWindow returns the empty window absent keys read as
func NewWindow() Window {
	return Window{}
}

// Clone implements store.State
func (w Window) Clone() Window {
	if w.Buckets == nil {
		return Window{Span: w.Span}
	}
	buckets := make([]Bucket, len(w.Buckets))
	copy(buckets, w.Buckets)
	return Window{Buckets: buckets, Span: w.Span}
}

// Expired implements store.State: every bucket has aged out of the window
func (w Window) Expired(now time.Time) bool {
	cutoff := now.Add(-w.Span)
	for _, b := range w.Buckets {
		if b.Start.After(cutoff) {
			return false
		}
	}
	return true
}

// Counts sums the buckets still inside the window at now
func (w Window) Counts(now time.Time, duration time.Duration) (success, total int64) {
	cutoff := now.Add(-duration)
	for _, b := range w.Buckets {
		if b.Start.After(cutoff) {
			success += b.Success
			total += b.Total
		}
	}
	return success, total
}

// record ages out stale buckets and adds one outcome observed at to its bucket.
// Outcomes whose bucket has already left the window are dropped.
func (w *Window) record(now, at time.Time, duration time.Duration, bucketCount int, success bool) {
	w.Span = duration
	w.expire(now, duration)

	width := duration / time.Duration(bucketCount)
	start := at.Truncate(width)
	if !start.After(now.Add(-duration)) {
		return
	}

	i := sort.Search(len(w.Buckets), func(i int) bool { return !w.Buckets[i].Start.Before(start) })
	if i == len(w.Buckets) || !w.Buckets[i].Start.Equal(start) {
		w.Buckets = append(w.Buckets, Bucket{})
		copy(w.Buckets[i+1:], w.Buckets[i:])
		w.Buckets[i] = Bucket{Start: start}
	}

	b := &w.Buckets[i]
	b.Total++
	if success {
		b.Success++
	}

	if len(w.Buckets) > bucketCount {
		w.Buckets = append([]Bucket(nil), w.Buckets[len(w.Buckets)-bucketCount:]...)
	}
}

// expire drops buckets that started at or before now - duration
func (w *Window) expire(now time.Time, duration time.Duration) {
	cutoff := now.Add(-duration)
	keep := 0
	for keep < len(w.Buckets) && !w.Buckets[keep].Start.After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.Buckets = append([]Bucket(nil), w.Buckets[keep:]...)
	}
}
