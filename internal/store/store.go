// Package store implements the windowed state store shared by the routing
// engines: key-addressed per-entity state with per-key atomic mutation.
//
// Mutations of one key are serialized; mutations of different keys never wait
// on each other. Reads return a copy, so a concurrent reader observes either
// the state before or after a mutation and never a partial one. A key that was
// never written reads as the store's default state.
package store

import (
	"context"
	stderrors "errors"
	"time"

	"intelligent-router/internal/common/errors"
)

// State is implemented by every value kept in a store. Clone must return a
// deep copy so callers can never alias stored data. Expired reports whether the
// state carries nothing worth keeping at now; idle sweeps only evict expired state.
type State[S any] interface {
	Clone() S
	Expired(now time.Time) bool
}

// Mutation changes state in place. Returning an error aborts the write and
// leaves the stored state untouched.
type Mutation[S any] func(state *S) error

// Store is the contract both backends satisfy
type Store[S State[S]] interface {
	// Read returns the state at key, or the default when absent
	Read(ctx context.Context, key string) (S, error)
	// Update applies mutate atomically and returns the post-mutation state
	Update(ctx context.Context, key string, mutate Mutation[S]) (S, error)
	// Invalidate resets key to the default
	Invalidate(ctx context.Context, key string) error
	// List batch-reads keys; absent keys map to the default
	List(ctx context.Context, keys []string) (map[string]S, error)
	// Scan returns every stored entry whose key starts with prefix
	Scan(ctx context.Context, prefix string) (map[string]S, error)
}

// Sweeper is implemented by backends that evict idle, expired entries themselves
type Sweeper interface {
	Sweep(idle time.Duration) int
	Len() int
}

// Factory builds the default state for an absent key
type Factory[S any] func() S

// Backend names accepted by configuration
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// unavailable normalizes a backend failure into a store-unavailable error,
// keeping errors that are already classified.
func unavailable(operation string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.TimeoutError(operation)
	}
	return errors.StoreUnavailableError(operation, err)
}
