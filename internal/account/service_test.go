package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestEnsureByUsernameIsIdempotent(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	first, err := svc.EnsureByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := svc.EnsureByUsername(ctx, "  alice ")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same account, got %s and %s", first.ID, second.ID)
	}

	found, err := svc.FindByID(ctx, first.ID)
	if err != nil || found.Username != "alice" {
		t.Fatalf("find by id: %+v %v", found, err)
	}
}

func TestEnsureByUsernameConcurrentCreatesOne(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	ids := make(chan string, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc, err := svc.EnsureByUsername(ctx, "bob")
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			ids <- acc.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("expected a single account id, got %d", len(seen))
	}
}

func TestUsernameValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	for _, name := range []string{"", "   ", strings.Repeat("x", maxUsernameLen+1)} {
		if _, err := svc.EnsureByUsername(ctx, name); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("expected ErrInvalidUsername for %q, got %v", name, err)
		}
	}
}

func TestFindUnknownAccount(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	if _, err := svc.FindByUsername(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
