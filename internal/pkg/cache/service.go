package cache

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is absent or its entry has expired.
var ErrCacheMiss = errors.New("cache: miss")

// Store is the cache contract consumed by the rate oracle and the chain
// client. Values are stored as JSON so heterogeneous snapshots can share one
// implementation. Last-writer-wins under concurrency; staleness is bounded by
// the per-entry TTL.
type Store interface {
	GetJSON(key string, dest interface{}) error
	SetJSON(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
}

// RedisStore backs the Store contract with the shared Redis client.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetJSON(key string, dest interface{}) error {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (s *RedisStore) SetJSON(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) Delete(key string) error {
	return s.client.Del(ctx, key).Err()
}

type memoryEntry struct {
	data   []byte
	expiry time.Time
}

// MemoryStore is an in-process Store with an injectable clock so tests can
// advance time deterministically instead of sleeping.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryStoreWithClock creates a MemoryStore that reads time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.now = now
	return s
}

func (s *MemoryStore) GetJSON(key string, dest interface{}) error {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || s.now().After(entry.expiry) {
		return ErrCacheMiss
	}
	return json.Unmarshal(entry.data, dest)
}

func (s *MemoryStore) SetJSON(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{data: data, expiry: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// LayeredStore writes through to both Redis and an in-process fallback and
// serves reads from Redis first. Keeps cached rates available when the cache
// server is briefly unreachable.
type LayeredStore struct {
	primary  Store
	fallback Store
}

func NewLayeredStore(primary, fallback Store) *LayeredStore {
	return &LayeredStore{primary: primary, fallback: fallback}
}

func (s *LayeredStore) GetJSON(key string, dest interface{}) error {
	if err := s.primary.GetJSON(key, dest); err == nil {
		return nil
	}
	return s.fallback.GetJSON(key, dest)
}

func (s *LayeredStore) SetJSON(key string, value interface{}, ttl time.Duration) error {
	perr := s.primary.SetJSON(key, value, ttl)
	ferr := s.fallback.SetJSON(key, value, ttl)
	if perr != nil {
		return perr
	}
	return ferr
}

func (s *LayeredStore) Delete(key string) error {
	perr := s.primary.Delete(key)
	ferr := s.fallback.Delete(key)
	if perr != nil {
		return perr
	}
	return ferr
}
