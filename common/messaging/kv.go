package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore is the reservation/lock substrate every participant uses for
// per-resource exclusion and ephemeral reservations.
type KVStore interface {
	// AcquireLock is an atomic set-if-absent with TTL. Returns whether the
	// caller holds the lock; the lock auto-expires after ttl.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ReleaseLock is an unconditional delete.
	ReleaseLock(ctx context.Context, key string) error
	// SetReservation stores value under key with a TTL.
	SetReservation(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// GetReservation returns (value, true, nil) if present, or (nil, false,
	// nil) if the key does not exist (including because it expired).
	GetReservation(ctx context.Context, key string) ([]byte, bool, error)
	DeleteReservation(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
}

// RedisKV implements KVStore over go-redis, generalizing the SETNX-based
// idempotency-key pattern used elsewhere into the full reservation/lock
// surface participants require.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, lockKey(key), "1", ttl).Result()
}

func (r *RedisKV) ReleaseLock(ctx context.Context, key string) error {
	return r.client.Del(ctx, lockKey(key)).Err()
}

func (r *RedisKV) SetReservation(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) GetReservation(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisKV) DeleteReservation(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *RedisKV) Decr(ctx context.Context, key string) (int64, error) {
	return r.client.Decr(ctx, key).Result()
}

func lockKey(key string) string {
	return "lock:" + key
}

// --- InMemoryKV --------------------------------------------------------

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemoryKV implements KVStore over a mutex-guarded map with lazy expiry,
// used by unit tests and the single-process demo in place of Redis.
type InMemoryKV struct {
	mu       sync.Mutex
	entries  map[string]kvEntry
	counters map[string]int64
}

// NewInMemoryKV constructs an empty store.
func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{
		entries:  make(map[string]kvEntry),
		counters: make(map[string]int64),
	}
}

func (m *InMemoryKV) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := lockKey(key)
	now := time.Now()
	if e, ok := m.entries[k]; ok && !e.expired(now) {
		return false, nil
	}
	m.entries[k] = kvEntry{value: []byte("1"), expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *InMemoryKV) ReleaseLock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, lockKey(key))
	return nil
}

func (m *InMemoryKV) SetReservation(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = kvEntry{value: value, expiresAt: expiresAt}
	return nil
}

func (m *InMemoryKV) GetReservation(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *InMemoryKV) DeleteReservation(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *InMemoryKV) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *InMemoryKV) Decr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]--
	return m.counters[key], nil
}
