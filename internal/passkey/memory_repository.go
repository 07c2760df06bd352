package passkey

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.Mutex
	creds map[string]Credential
}

// NewMemoryRepository builds an in-memory credential store.
func NewMemoryRepository() Repository {
	return &memoryRepository{creds: make(map[string]Credential)}
}

func (r *memoryRepository) Create(_ context.Context, c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.creds[string(c.ID)]; exists {
		return ErrCredentialExists
	}
	r.creds[string(c.ID)] = c
	return nil
}

func (r *memoryRepository) ListByAccount(_ context.Context, accountID string) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Credential
	for _, c := range r.creds {
		if c.AccountID == accountID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) FindByID(_ context.Context, id []byte) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[string(id)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return c, nil
}

func (r *memoryRepository) AdvanceCounter(_ context.Context, id []byte, counter uint32, backupState bool, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[string(id)]
	if !ok || counter <= c.Counter {
		return false, nil
	}
	used := usedAt.UTC()
	c.Counter = counter
	c.BackupState = backupState
	c.LastUsedAt = &used
	r.creds[string(id)] = c
	return true, nil
}
