package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when none is configured
const DefaultShards = 64

// entry is one key's state. Its mutex is the per-key serialization point.
type entry[S any] struct {
	mu      sync.Mutex
	state   S
	touched time.Time
	// present is false until the first successful mutation
	present bool
	// removed is set once the entry has left the shard map; holders retry
	removed bool
}

// shard guards only its key → entry map
type shard[S any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[S]
}

// MemoryStore is an in-process Store sharded by xxhash of the key
type MemoryStore[S State[S]] struct {
	shards   []*shard[S]
	mask     uint64
	newState Factory[S]
	now      func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	shards int
	now    func() time.Time
}

// WithShards sets the shard count, rounded up to a power of two
func WithShards(n int) MemoryOption {
	return func(o *memoryOptions) { o.shards = n }
}

// WithClock replaces time.Now for idle tracking
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// NewMemoryStore creates a sharded in-memory store whose absent keys read as newState()
func NewMemoryStore[S State[S]](newState Factory[S], opts ...MemoryOption) *MemoryStore[S] {
	options := memoryOptions{shards: DefaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	n := nextPowerOfTwo(options.shards)
	shards := make([]*shard[S], n)
	for i := range shards {
		shards[i] = &shard[S]{entries: make(map[string]*entry[S])}
	}

	return &MemoryStore[S]{
		shards:   shards,
		mask:     uint64(n - 1),
		newState: newState,
		now:      options.now,
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (m *MemoryStore[S]) shardFor(key string) *shard[S] {
	return m.shards[xxhash.Sum64String(key)&m.mask]
}

func (m *MemoryStore[S]) lookup(key string) *entry[S] {
	sh := m.shardFor(key)
	sh.mu.RLock()
	e := sh.entries[key]
	sh.mu.RUnlock()
	return e
}

// lockEntry returns the live entry for key, creating it if needed, with its mutex held
func (m *MemoryStore[S]) lockEntry(key string) *entry[S] {
	sh := m.shardFor(key)
	for {
		e := m.lookup(key)
		if e == nil {
			sh.mu.Lock()
			e = sh.entries[key]
			if e == nil {
				e = &entry[S]{state: m.newState(), touched: m.now()}
				sh.entries[key] = e
			}
			sh.mu.Unlock()
		}

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// Read returns a copy of the state at key or the default
func (m *MemoryStore[S]) Read(ctx context.Context, key string) (S, error) {
	if err := ctx.Err(); err != nil {
		var zero S
		return zero, unavailable("read", err)
	}

	e := m.lookup(key)
	if e == nil {
		return m.newState(), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || !e.present {
		return m.newState(), nil
	}
	return e.state.Clone(), nil
}

// Update applies mutate to a copy of the state and stores it when mutate succeeds
func (m *MemoryStore[S]) Update(ctx context.Context, key string, mutate Mutation[S]) (S, error) {
	if err := ctx.Err(); err != nil {
		var zero S
		return zero, unavailable("update", err)
	}

	e := m.lockEntry(key)
	defer e.mu.Unlock()

	next := e.state.Clone()
	if err := mutate(&next); err != nil {
		return e.state.Clone(), err
	}

	e.state = next
	e.present = true
	e.touched = m.now()
	return next.Clone(), nil
}

// Invalidate drops the entry so the next read returns the default
func (m *MemoryStore[S]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("invalidate", err)
	}

	e := m.lookup(key)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil
	}
	e.removed = true

	sh := m.shardFor(key)
	sh.mu.Lock()
	if sh.entries[key] == e {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()
	return nil
}

// List reads every key; absent keys map to the default
func (m *MemoryStore[S]) List(ctx context.Context, keys []string) (map[string]S, error) {
	result := make(map[string]S, len(keys))
	for _, key := range keys {
		state, err := m.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		result[key] = state
	}
	return result, nil
}

// Scan returns stored entries whose key starts with prefix
func (m *MemoryStore[S]) Scan(ctx context.Context, prefix string) (map[string]S, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("scan", err)
	}

	result := make(map[string]S)
	for _, sh := range m.shards {
		var matched []*entry[S]
		var keys []string

		sh.mu.RLock()
		for key, e := range sh.entries {
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
				matched = append(matched, e)
			}
		}
		sh.mu.RUnlock()

		for i, e := range matched {
			e.mu.Lock()
			if !e.removed && e.present {
				result[keys[i]] = e.state.Clone()
			}
			e.mu.Unlock()
		}
	}
	return result, nil
}

// Sweep evicts entries not touched for idle whose state has expired and returns
// how many were removed. Entries busy with a mutation are skipped until the next sweep.
func (m *MemoryStore[S]) Sweep(idle time.Duration) int {
	now := m.now()
	cutoff := now.Add(-idle)
	evicted := 0

	for _, sh := range m.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if !e.mu.TryLock() {
				continue
			}
			if e.touched.Before(cutoff) && (!e.present || e.state.Expired(now)) {
				e.removed = true
				delete(sh.entries, key)
				evicted++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Len returns the number of stored entries
func (m *MemoryStore[S]) Len() int {
	total := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}
