package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewMemoryRepository builds an in-memory device store.
func NewMemoryRepository() Repository {
	return &memoryRepository{devices: make(map[string]Device)}
}

func (r *memoryRepository) Create(_ context.Context, d Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d
	return nil
}

func (r *memoryRepository) ListByAccount(_ context.Context, accountID string) ([]Device, error) {
	out := r.filter(func(d Device) bool { return d.AccountID == accountID })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepository) PublishKeys(_ context.Context, accountID, deviceID string, keys *PublishedKeys, seenAt time.Time) error {
	if keys == nil {
		return ErrInvalidKeys
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok || d.AccountID != accountID {
		return ErrNotFound
	}
	seen := seenAt.UTC()
	d.Keys = keys
	d.LastSeen = &seen
	r.devices[deviceID] = d
	return nil
}

func (r *memoryRepository) ListKeyed(_ context.Context, accountID string, limit int) ([]Device, error) {
	out := r.filter(func(d Device) bool { return d.AccountID == accountID && d.Keys != nil })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) filter(keep func(Device) bool) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Device
	for _, d := range r.devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
