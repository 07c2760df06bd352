package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a token is absent, expired or already consumed.
var ErrNotFound = errors.New("token not found")

// Store persists short-lived single-use values.
type Store interface {
	// Put stores value under key until ttl elapses.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Take atomically reads and removes key. It returns ErrNotFound when the
	// key is missing or expired.
	Take(ctx context.Context, key string) ([]byte, error)
}

const redisKeyPrefix = "lr:token:"

// RedisStore keeps tokens in Redis and relies on native key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an established Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel token: %w", err)
	}
	return value, nil
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store. It owns a janitor goroutine and must
// be closed when the process shuts down.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore starts a memory store that purges expired entries every
// sweep interval. A non-positive interval disables the janitor.
func NewMemoryStore(sweep time.Duration) *MemoryStore {
	return newMemoryStore(sweep, time.Now)
}

func newMemoryStore(sweep time.Duration, now func() time.Time) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if sweep <= 0 {
		close(s.done)
		return s
	}
	go s.janitor(sweep)
	return s
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.entries[key] = memoryEntry{value: stored, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	if !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

// Len reports the number of entries currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the janitor. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}

func (s *MemoryStore) janitor(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *MemoryStore) purge() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// FallbackStore writes to primary and degrades to secondary when primary
// fails. Tokens written to the secondary are only visible to this process.
type FallbackStore struct {
	primary   Store
	secondary Store
	logger    *slog.Logger
}

func NewFallbackStore(primary, secondary Store, logger *slog.Logger) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary, logger: logger}
}

func (s *FallbackStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.primary.Put(ctx, key, value, ttl)
	if err == nil {
		return nil
	}
	s.logger.Warn("token store degraded to local memory", slog.String("op", "put"), slog.Any("error", err))
	return s.secondary.Put(ctx, key, value, ttl)
}

func (s *FallbackStore) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.primary.Take(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		s.logger.Warn("token store degraded to local memory", slog.String("op", "take"), slog.Any("error", err))
	}
	return s.secondary.Take(ctx, key)
}
