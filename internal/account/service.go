package account

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages the account lifecycle.
type Service struct {
	repo Repository
}

// NewService creates a new account service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnsureByUsername returns the account for username, creating it on first use.
func (s *Service) EnsureByUsername(ctx context.Context, username string) (Account, error) {
	username, err := normalize(username)
	if err != nil {
		return Account{}, err
	}
	return s.repo.Ensure(ctx, Account{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	})
}

// FindByUsername looks up an existing account.
func (s *Service) FindByUsername(ctx context.Context, username string) (Account, error) {
	username, err := normalize(username)
	if err != nil {
		return Account{}, err
	}
	return s.repo.FindByUsername(ctx, username)
}

// FindByID looks up an account by its identifier.
func (s *Service) FindByID(ctx context.Context, id string) (Account, error) {
	return s.repo.FindByID(ctx, id)
}

func normalize(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLen {
		return "", ErrInvalidUsername
	}
	return username, nil
}
