package device

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages the devices of an account.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new device service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register creates a device for accountID. An empty name selects DefaultName.
func (s *Service) Register(ctx context.Context, accountID, name string, verified bool) (Device, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	if len(name) > maxNameLen {
		return Device{}, ErrInvalidName
	}
	d := Device{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      name,
		Verified:  verified,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return Device{}, err
	}
	return d, nil
}

// PublishKeys replaces the key material of a device owned by accountID.
// Unknown devices and devices of other accounts are both ErrForbidden.
func (s *Service) PublishKeys(ctx context.Context, accountID, deviceID string, keys *PublishedKeys) error {
	err := s.repo.PublishKeys(ctx, accountID, deviceID, keys, s.now())
	if errors.Is(err, ErrNotFound) {
		return ErrForbidden
	}
	return err
}

// List returns the account's devices, newest first.
func (s *Service) List(ctx context.Context, accountID string) ([]Device, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

// Keyed returns up to limit published devices of accountID, oldest first.
func (s *Service) Keyed(ctx context.Context, accountID string, limit int) ([]Device, error) {
	return s.repo.ListKeyed(ctx, accountID, limit)
}
