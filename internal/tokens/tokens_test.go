package tokens

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/la-ruche/keyserver/internal/logging"
)

var tokenPattern = regexp.MustCompile(`^link_[A-Za-z0-9_-]{32}$`)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestIssuerMintAndConsumeOnce(t *testing.T) {
	store, _ := newRedisStore(t)
	issuer := NewIssuer(store)
	ctx := context.Background()

	token, err := issuer.Mint(ctx, PurposeLink, Payload{AccountID: "acc-1", SAS: "123-456"}, time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !tokenPattern.MatchString(token) {
		t.Fatalf("unexpected token format %q", token)
	}

	payload, err := issuer.Consume(ctx, PurposeLink, token)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if payload.AccountID != "acc-1" || payload.SAS != "123-456" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if _, err := issuer.Consume(ctx, PurposeLink, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second consume, got %v", err)
	}
}

func TestIssuerRejectsCrossPurpose(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	issuer := NewIssuer(store)
	ctx := context.Background()

	token, err := issuer.Mint(ctx, PurposeTicket, Payload{AccountID: "acc-1"}, time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := issuer.Consume(ctx, PurposeLink, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong purpose, got %v", err)
	}
	if _, err := issuer.Consume(ctx, PurposeTicket, token); err != nil {
		t.Fatalf("token should survive a cross-purpose attempt: %v", err)
	}
}

func TestIssuerMintValidation(t *testing.T) {
	issuer := NewIssuer(NewMemoryStore(0))
	ctx := context.Background()

	if _, err := issuer.Mint(ctx, "", Payload{}, time.Minute); err == nil {
		t.Fatalf("expected error for empty purpose")
	}
	if _, err := issuer.Mint(ctx, "bad_purpose", Payload{}, time.Minute); err == nil {
		t.Fatalf("expected error for purpose containing separator")
	}
	if _, err := issuer.Mint(ctx, PurposeLink, Payload{}, 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	issuer := NewIssuer(store)
	ctx := context.Background()

	token, err := issuer.Mint(ctx, PurposeLink, Payload{AccountID: "acc-1"}, 300*time.Second)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if ttl := mr.TTL(redisKeyPrefix + token); ttl != 300*time.Second {
		t.Fatalf("expected 300s ttl, got %s", ttl)
	}

	mr.FastForward(301 * time.Second)

	if _, err := issuer.Consume(ctx, PurposeLink, token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newMemoryStore(0, clock.Now)
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("v"), 300*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(299 * time.Second)
	if _, err := store.Take(ctx, "k"); err != nil {
		t.Fatalf("expected value before expiry: %v", err)
	}

	if err := store.Put(ctx, "k2", []byte("v"), 300*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(301 * time.Second)
	if _, err := store.Take(ctx, "k2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryStorePurgeDropsExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newMemoryStore(0, clock.Now)
	defer store.Close()
	ctx := context.Background()

	_ = store.Put(ctx, "short", []byte("a"), time.Second)
	_ = store.Put(ctx, "long", []byte("b"), time.Hour)
	clock.Advance(time.Minute)
	store.purge()

	if store.Len() != 1 {
		t.Fatalf("expected 1 entry after purge, got %d", store.Len())
	}
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(0),
	}
	redisStore, _ := newRedisStore(t)
	stores["redis"] = redisStore

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			issuer := NewIssuer(store)
			ctx := context.Background()
			token, err := issuer.Mint(ctx, PurposeLink, Payload{AccountID: "acc-1"}, time.Minute)
			if err != nil {
				t.Fatalf("mint: %v", err)
			}

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := issuer.Consume(ctx, PurposeLink, token); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := wins.Load(); got != 1 {
				t.Fatalf("expected exactly one successful consume, got %d", got)
			}
		})
	}
}

func TestFallbackStoreDegradesToSecondary(t *testing.T) {
	primary, mr := newRedisStore(t)
	secondary := NewMemoryStore(0)
	defer secondary.Close()
	store := NewFallbackStore(primary, secondary, logging.Discard())
	issuer := NewIssuer(store)
	ctx := context.Background()

	healthy, err := issuer.Mint(ctx, PurposeLink, Payload{AccountID: "acc-1"}, time.Minute)
	if err != nil {
		t.Fatalf("mint on healthy primary: %v", err)
	}
	if secondary.Len() != 0 {
		t.Fatalf("healthy primary should not touch secondary")
	}
	if _, err := issuer.Consume(ctx, PurposeLink, healthy); err != nil {
		t.Fatalf("consume from primary: %v", err)
	}

	mr.Close()

	degraded, err := issuer.Mint(ctx, PurposeLink, Payload{AccountID: "acc-2"}, time.Minute)
	if err != nil {
		t.Fatalf("mint should degrade, got %v", err)
	}
	if secondary.Len() != 1 {
		t.Fatalf("expected token in secondary store")
	}
	payload, err := issuer.Consume(ctx, PurposeLink, degraded)
	if err != nil {
		t.Fatalf("consume should degrade, got %v", err)
	}
	if payload.AccountID != "acc-2" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if _, err := issuer.Consume(ctx, PurposeLink, degraded); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on reuse, got %v", err)
	}
}
