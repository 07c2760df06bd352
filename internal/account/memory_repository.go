package account

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]Account
	byUsername map[string]string
}

// NewMemoryRepository builds an in-memory account store.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:       make(map[string]Account),
		byUsername: make(map[string]string),
	}
}

func (r *memoryRepository) Ensure(_ context.Context, acc Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, exists := r.byUsername[acc.Username]; exists {
		return r.byID[id], nil
	}
	r.byID[acc.ID] = acc
	r.byUsername[acc.Username] = acc.ID
	return acc, nil
}

func (r *memoryRepository) FindByUsername(_ context.Context, username string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}
