package passkey

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/la-ruche/keyserver/internal/account"
)

// Provider runs the WebAuthn ceremonies. *webauthn.WebAuthn implements it.
type Provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// Parser decodes client ceremony responses.
type Parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

// RelyingParty identifies this server to authenticators.
type RelyingParty struct {
	ID          string
	DisplayName string
	Origins     []string
}

// NewProvider builds the WebAuthn relying party.
func NewProvider(rp RelyingParty) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPDisplayName: rp.DisplayName,
		RPID:          rp.ID,
		RPOrigins:     rp.Origins,
	})
}

// DefaultParser parses responses with the protocol package.
type DefaultParser struct{}

func (DefaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (DefaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

type webauthnUser struct {
	account     account.Account
	credentials []webauthn.Credential
}

func newUser(acc account.Account, creds []Credential) *webauthnUser {
	u := &webauthnUser{account: acc, credentials: make([]webauthn.Credential, 0, len(creds))}
	for _, c := range creds {
		u.credentials = append(u.credentials, c.toWebAuthn())
	}
	return u
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.account.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.account.Username
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.account.Username
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
