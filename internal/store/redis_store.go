package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"intelligent-router/internal/circuitbreaker"
	"intelligent-router/internal/locks"
	"intelligent-router/internal/redis"
)

// RedisConfig configures a RedisStore
type RedisConfig struct {
	// Namespace prefixes every key written by the service
	Namespace string
	// Kind separates the state types sharing one Redis database
	Kind string
	// TTL expires state untouched for this long; zero keeps it forever
	TTL time.Duration
}

// RedisStore keeps JSON-encoded state in Redis under <namespace>:<kind>:<key>.
// Updates take a Redlock mutex on the key; visibility across replicas is
// eventual. Every Redis round trip goes through a circuit breaker.
type RedisStore[S State[S]] struct {
	client   *redis.Client
	locker   locks.KeyLocker
	breaker  *circuitbreaker.Breaker
	config   RedisConfig
	newState Factory[S]
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore[S State[S]](client *redis.Client, locker locks.KeyLocker, breaker *circuitbreaker.Breaker, config RedisConfig, newState Factory[S]) (*RedisStore[S], error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("key locker is required")
	}
	if breaker == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}
	if config.Kind == "" {
		return nil, fmt.Errorf("store kind is required")
	}
	if config.Namespace == "" {
		config.Namespace = "router"
	}

	return &RedisStore[S]{
		client:   client,
		locker:   locker,
		breaker:  breaker,
		config:   config,
		newState: newState,
	}, nil
}

func (r *RedisStore[S]) redisKey(key string) string {
	return r.config.Namespace + ":" + r.config.Kind + ":" + key
}

func (r *RedisStore[S]) storeKey(redisKey string) string {
	return strings.TrimPrefix(redisKey, r.config.Namespace+":"+r.config.Kind+":")
}

// Read returns the decoded state at key or the default
func (r *RedisStore[S]) Read(ctx context.Context, key string) (S, error) {
	state, _, err := r.read(ctx, r.redisKey(key))
	return state, err
}

func (r *RedisStore[S]) read(ctx context.Context, redisKey string) (S, bool, error) {
	state := r.newState()
	var found bool

	err := r.breaker.Execute(ctx, func() error {
		var err error
		found, err = r.client.GetJSON(ctx, redisKey, &state)
		return err
	})
	if err != nil {
		var zero S
		return zero, false, unavailable("read", err)
	}
	if !found {
		return r.newState(), false, nil
	}
	return state, true, nil
}

// Update runs GET → mutate → SET while holding the key's distributed lock
func (r *RedisStore[S]) Update(ctx context.Context, key string, mutate Mutation[S]) (S, error) {
	redisKey := r.redisKey(key)
	var result S

	err := r.locker.WithLock(ctx, redisKey, func(ctx context.Context) error {
		current, _, err := r.read(ctx, redisKey)
		if err != nil {
			return err
		}

		next := current.Clone()
		if err := mutate(&next); err != nil {
			result = current
			return err
		}

		err = r.breaker.Execute(ctx, func() error {
			return r.client.Set(ctx, redisKey, next, r.config.TTL)
		})
		if err != nil {
			return unavailable("update", err)
		}

		result = next
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// Invalidate deletes the key so the next read returns the default
func (r *RedisStore[S]) Invalidate(ctx context.Context, key string) error {
	err := r.breaker.Execute(ctx, func() error {
		return r.client.Delete(ctx, r.redisKey(key))
	})
	return unavailable("invalidate", err)
}

// List batch-reads keys with a single MGET
func (r *RedisStore[S]) List(ctx context.Context, keys []string) (map[string]S, error) {
	redisKeys := make([]string, len(keys))
	for i, key := range keys {
		redisKeys[i] = r.redisKey(key)
	}

	values, err := r.mget(ctx, redisKeys)
	if err != nil {
		return nil, err
	}

	result := make(map[string]S, len(keys))
	for i, key := range keys {
		state, _, err := r.decode(values[i])
		if err != nil {
			return nil, err
		}
		result[key] = state
	}
	return result, nil
}

// Scan returns every stored entry under prefix
func (r *RedisStore[S]) Scan(ctx context.Context, prefix string) (map[string]S, error) {
	var redisKeys []string
	err := r.breaker.Execute(ctx, func() error {
		var err error
		redisKeys, err = r.client.ScanKeys(ctx, r.redisKey(prefix))
		return err
	})
	if err != nil {
		return nil, unavailable("scan", err)
	}

	values, err := r.mget(ctx, redisKeys)
	if err != nil {
		return nil, err
	}

	result := make(map[string]S, len(redisKeys))
	for i, redisKey := range redisKeys {
		state, found, err := r.decode(values[i])
		if err != nil {
			return nil, err
		}
		// deleted between SCAN and MGET
		if !found {
			continue
		}
		result[r.storeKey(redisKey)] = state
	}
	return result, nil
}

func (r *RedisStore[S]) mget(ctx context.Context, redisKeys []string) ([]interface{}, error) {
	if len(redisKeys) == 0 {
		return nil, nil
	}

	var values []interface{}
	err := r.breaker.Execute(ctx, func() error {
		var err error
		values, err = r.client.MGet(ctx, redisKeys...)
		return err
	})
	if err != nil {
		return nil, unavailable("list", err)
	}
	return values, nil
}

func (r *RedisStore[S]) decode(value interface{}) (S, bool, error) {
	raw, ok := value.(string)
	if !ok || raw == "" {
		return r.newState(), false, nil
	}

	state := r.newState()
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		var zero S
		return zero, false, unavailable("decode", err)
	}
	return state, true, nil
}
