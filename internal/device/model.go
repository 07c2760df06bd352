package device

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a device does not exist for the account.
	ErrNotFound = errors.New("device not found")
	// ErrForbidden is returned when a caller addresses a device it does not own.
	ErrForbidden = errors.New("device not owned by account")
	// ErrInvalidKeys is returned when published key material is incomplete.
	ErrInvalidKeys = errors.New("identity key, signed prekey and signature are required")
	// ErrInvalidName is returned for device names longer than the limit.
	ErrInvalidName = errors.New("device name too long")
)

const (
	// DefaultName is used for devices created by a key publish without a name.
	DefaultName = "Web Device"
	// LinkedName is used for devices created by device linking.
	LinkedName = "Linked Device"

	maxNameLen = 64
)

// PublishedKeys is the long-term key material of a device. A value only
// exists through NewPublishedKeys, so every field is non-empty.
type PublishedKeys struct {
	identityPub     []byte
	signedPrekeyPub []byte
	signedPrekeySig []byte
}

// NewPublishedKeys validates and copies the three key fields.
func NewPublishedKeys(identityPub, signedPrekeyPub, signedPrekeySig []byte) (*PublishedKeys, error) {
	if len(identityPub) == 0 || len(signedPrekeyPub) == 0 || len(signedPrekeySig) == 0 {
		return nil, ErrInvalidKeys
	}
	return &PublishedKeys{
		identityPub:     clone(identityPub),
		signedPrekeyPub: clone(signedPrekeyPub),
		signedPrekeySig: clone(signedPrekeySig),
	}, nil
}

func (k *PublishedKeys) IdentityPub() []byte     { return clone(k.identityPub) }
func (k *PublishedKeys) SignedPrekeyPub() []byte { return clone(k.signedPrekeyPub) }
func (k *PublishedKeys) SignedPrekeySig() []byte { return clone(k.signedPrekeySig) }

// Device is one installation of the client belonging to an account. Keys is
// nil until the device publishes its key material.
type Device struct {
	ID        string
	AccountID string
	Name      string
	Verified  bool
	Keys      *PublishedKeys
	CreatedAt time.Time
	LastSeen  *time.Time
}

// Published reports whether the device has key material.
func (d Device) Published() bool {
	return d.Keys != nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
