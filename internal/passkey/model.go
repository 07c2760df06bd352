package passkey

import (
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	ErrUnknownAccount    = errors.New("unknown account")
	ErrUnknownCredential = errors.New("unknown credential")
	ErrChallengeExpired  = errors.New("challenge expired")
	ErrAttestationFailed = errors.New("attestation failed")
	ErrAssertionFailed   = errors.New("assertion failed")
	// ErrCounterReplay is returned when an authenticator's signature counter
	// did not strictly increase, which indicates a cloned credential or a
	// replayed response.
	ErrCounterReplay = errors.New("signature counter replay")

	// ErrCredentialNotFound and ErrCredentialExists are repository outcomes.
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already registered")
)

// Credential is a registered passkey.
type Credential struct {
	ID              []byte
	AccountID       string
	PublicKey       []byte
	Counter         uint32
	AttestationType string
	Transports      []string
	AAGUID          []byte
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// Ceremony is handed to the client to run navigator.credentials.create/get.
type Ceremony struct {
	Options        []byte
	ChallengeToken string
	ExpiresIn      time.Duration
}

// Login is the outcome of a successful authentication.
type Login struct {
	AccountID    string
	CredentialID []byte
	AccessToken  string
	ExpiresIn    time.Duration
}

func (c Credential) toWebAuthn() webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.Counter,
		},
	}
}

func fromWebAuthn(accountID string, cred *webauthn.Credential, createdAt time.Time) Credential {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return Credential{
		ID:              cred.ID,
		AccountID:       accountID,
		PublicKey:       cred.PublicKey,
		Counter:         cred.Authenticator.SignCount,
		AttestationType: cred.AttestationType,
		Transports:      transports,
		AAGUID:          cred.Authenticator.AAGUID,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		CreatedAt:       createdAt,
	}
}
