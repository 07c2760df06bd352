package prekey

import "errors"

var (
	// ErrInvalidPayload is returned when published key material is incomplete.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrNoKeyedDevice is returned when the target account has no device with keys.
	ErrNoKeyedDevice = errors.New("no device with keys")
	// ErrNoPrekeysAvailable is returned when no candidate device ever published prekeys.
	ErrNoPrekeysAvailable = errors.New("no prekeys available")
)

// MaxBatch bounds the number of one-time prekeys accepted in one publish.
const MaxBatch = 500

// OneTimePrekey is a single-use public key of a device.
type OneTimePrekey struct {
	DeviceID  string
	KeyID     uint32
	PublicKey []byte
	Used      bool
}

// PrekeyInput is one published one-time prekey.
type PrekeyInput struct {
	KeyID     uint32
	PublicKey []byte
}

// PublishInput carries a device's key publication. An empty DeviceID creates
// a new device named DeviceName.
type PublishInput struct {
	AccountID       string
	DeviceID        string
	DeviceName      string
	IdentityPub     []byte
	SignedPrekeyPub []byte
	SignedPrekeySig []byte
	Prekeys         []PrekeyInput
}

// Bundle is what a peer needs to start a session with one device of an
// account. OneTimePrekey is nil when the device has run out.
type Bundle struct {
	AccountID       string
	DeviceID        string
	IdentityPub     []byte
	SignedPrekeyPub []byte
	SignedPrekeySig []byte
	OneTimePrekey   *OneTimePrekey
}
