package prekey

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.Mutex
	devices map[string]map[uint32]*OneTimePrekey
}

// NewMemoryRepository builds an in-memory prekey store.
func NewMemoryRepository() Repository {
	return &memoryRepository{devices: make(map[string]map[uint32]*OneTimePrekey)}
}

func (r *memoryRepository) Insert(_ context.Context, _ string, deviceID string, keys []PrekeyInput) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.devices[deviceID]
	if !ok {
		set = make(map[uint32]*OneTimePrekey)
		r.devices[deviceID] = set
	}
	inserted := 0
	for _, k := range keys {
		if _, exists := set[k.KeyID]; exists {
			continue
		}
		pub := make([]byte, len(k.PublicKey))
		copy(pub, k.PublicKey)
		set[k.KeyID] = &OneTimePrekey{DeviceID: deviceID, KeyID: k.KeyID, PublicKey: pub}
		inserted++
	}
	return inserted, nil
}

func (r *memoryRepository) Claim(_ context.Context, deviceID string) (OneTimePrekey, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lowest *OneTimePrekey
	for _, k := range r.devices[deviceID] {
		if k.Used {
			continue
		}
		if lowest == nil || k.KeyID < lowest.KeyID {
			lowest = k
		}
	}
	if lowest == nil {
		return OneTimePrekey{}, false, nil
	}
	lowest.Used = true
	return *lowest, true, nil
}

func (r *memoryRepository) CountUnused(_ context.Context, deviceID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.devices[deviceID] {
		if !k.Used {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) HasAny(_ context.Context, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices[deviceID]) > 0, nil
}
