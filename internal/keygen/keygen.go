// Package keygen produces client key material in the shape the key server
// accepts and checks bundles it serves.
package keygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/crypto/curve25519"
)

// ErrBadSignature is returned when a bundle's signed prekey was not signed by
// its identity key.
var ErrBadSignature = errors.New("signed prekey signature does not verify")

// KeyPair is a Curve25519 key pair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// Material is a device's full key set.
type Material struct {
	IdentityPrivate ed25519.PrivateKey
	IdentityPublic  ed25519.PublicKey
	SignedPrekey    KeyPair
	Signature       []byte
	OneTime         map[uint32]KeyPair
}

// Generate creates an identity, a signed prekey and count one-time prekeys
// numbered from firstID.
func Generate(count int, firstID uint32) (*Material, error) {
	if count < 1 {
		return nil, fmt.Errorf("at least one one-time prekey is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	spk, err := generateX25519()
	if err != nil {
		return nil, fmt.Errorf("generate signed prekey: %w", err)
	}

	m := &Material{
		IdentityPrivate: priv,
		IdentityPublic:  pub,
		SignedPrekey:    spk,
		Signature:       ed25519.Sign(priv, spk.Public[:]),
		OneTime:         make(map[uint32]KeyPair, count),
	}
	for i := 0; i < count; i++ {
		kp, err := generateX25519()
		if err != nil {
			return nil, fmt.Errorf("generate one-time prekey: %w", err)
		}
		m.OneTime[firstID+uint32(i)] = kp
	}
	return m, nil
}

// PublishPrekey is one entry of a publish request.
type PublishPrekey struct {
	ID     uint32 `json:"id"`
	KeyB64 string `json:"keyB64"`
}

// PublishRequest is the body of POST /api/v1/keys/publish.
type PublishRequest struct {
	DeviceID           string          `json:"deviceId,omitempty"`
	DeviceName         string          `json:"deviceName,omitempty"`
	IdentityPubB64     string          `json:"identityPubB64"`
	SignedPrekeyPubB64 string          `json:"signedPrekeyPubB64"`
	SignedPrekeySigB64 string          `json:"signedPrekeySigB64"`
	Prekeys            []PublishPrekey `json:"prekeys"`
}

// PublishRequest renders the public half of m, one-time prekeys in id order.
func (m *Material) PublishRequest(deviceID, deviceName string) PublishRequest {
	req := PublishRequest{
		DeviceID:           deviceID,
		DeviceName:         deviceName,
		IdentityPubB64:     b64(m.IdentityPublic),
		SignedPrekeyPubB64: b64(m.SignedPrekey.Public[:]),
		SignedPrekeySigB64: b64(m.Signature),
		Prekeys:            make([]PublishPrekey, 0, len(m.OneTime)),
	}
	for _, id := range sortedIDs(m.OneTime) {
		kp := m.OneTime[id]
		req.Prekeys = append(req.Prekeys, PublishPrekey{ID: id, KeyB64: b64(kp.Public[:])})
	}
	return req
}

// Secrets is the private half of a Material, kept by the client.
type Secrets struct {
	IdentityPrivB64     string            `json:"identityPrivB64"`
	SignedPrekeyPrivB64 string            `json:"signedPrekeyPrivB64"`
	Prekeys             map[uint32]string `json:"prekeys"`
}

// Secrets renders the private half of m.
func (m *Material) Secrets() Secrets {
	out := Secrets{
		IdentityPrivB64:     b64(m.IdentityPrivate),
		SignedPrekeyPrivB64: b64(m.SignedPrekey.Private[:]),
		Prekeys:             make(map[uint32]string, len(m.OneTime)),
	}
	for id, kp := range m.OneTime {
		out.Prekeys[id] = b64(kp.Private[:])
	}
	return out
}

// Bundle is the body of GET /api/v1/keys/:accountId/bundle.
type Bundle struct {
	UserID             string         `json:"userId"`
	DeviceID           string         `json:"deviceId"`
	IdentityPubB64     string         `json:"identityPubB64"`
	SignedPrekeyPubB64 string         `json:"signedPrekeyPubB64"`
	SignedPrekeySigB64 string         `json:"signedPrekeySigB64"`
	OneTimePrekey      *PublishPrekey `json:"oneTimePrekey,omitempty"`
}

// Verify checks that the signed prekey was signed by the identity key.
func (b Bundle) Verify() error {
	identity, err := base64.StdEncoding.DecodeString(b.IdentityPubB64)
	if err != nil || len(identity) != ed25519.PublicKeySize {
		return fmt.Errorf("identity key: want %d bytes of base64", ed25519.PublicKeySize)
	}
	spk, err := base64.StdEncoding.DecodeString(b.SignedPrekeyPubB64)
	if err != nil || len(spk) != curve25519.PointSize {
		return fmt.Errorf("signed prekey: want %d bytes of base64", curve25519.PointSize)
	}
	sig, err := base64.StdEncoding.DecodeString(b.SignedPrekeySigB64)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if !ed25519.Verify(identity, spk, sig) {
		return ErrBadSignature
	}
	return nil
}

func generateX25519() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, err
	}
	// RFC 7748 clamping.
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func sortedIDs(m map[uint32]KeyPair) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
