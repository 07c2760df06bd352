package account

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidUsername is returned for empty or oversized usernames.
	ErrInvalidUsername = errors.New("invalid username")
)

const maxUsernameLen = 64

// Account is a user identity keyed by a unique username.
type Account struct {
	ID        string
	Username  string
	CreatedAt time.Time
}
