package linking

import (
	"errors"
	"time"
)

// ErrInvalidOrExpiredToken is returned when a link token is unknown, expired
// or already redeemed.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

// Invite is shown on the existing device to start a link.
type Invite struct {
	Token     string
	SAS       string
	QRPayload string
	ExpiresIn time.Duration
}

// Linked is the outcome of a redeemed invite.
type Linked struct {
	AccountID string
	DeviceID  string
	SAS       string
}

// Event is the audit record of one link attempt.
type Event struct {
	AccountID   string
	Token       string
	SAS         string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
