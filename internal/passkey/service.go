package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/la-ruche/keyserver/internal/account"
	"github.com/la-ruche/keyserver/internal/tokens"
)

var tracer = otel.Tracer("github.com/la-ruche/keyserver/internal/passkey")

// SessionIssuer mints access tokens after a successful login.
type SessionIssuer interface {
	Issue(accountID string) (string, error)
	TTL() time.Duration
}

// Deps wires the passkey service.
type Deps struct {
	Accounts        *account.Service
	Credentials     Repository
	Provider        Provider
	Parser          Parser
	Tokens          *tokens.Issuer
	Sessions        SessionIssuer
	ChallengeSecret []byte
	ChallengeTTL    time.Duration
	Logger          *slog.Logger
}

// Service runs passkey registration and authentication.
type Service struct {
	accounts   *account.Service
	creds      Repository
	provider   Provider
	parser     Parser
	sessions   SessionIssuer
	challenges *challengeSealer
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	ttl := d.ChallengeTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	parser := d.Parser
	if parser == nil {
		parser = DefaultParser{}
	}
	s := &Service{
		accounts: d.Accounts,
		creds:    d.Credentials,
		provider: d.Provider,
		parser:   parser,
		sessions: d.Sessions,
		logger:   d.Logger,
		now:      time.Now,
	}
	s.challenges = &challengeSealer{secret: d.ChallengeSecret, ttl: ttl, issuer: d.Tokens, now: func() time.Time { return s.now() }}
	return s
}

// BeginRegistration creates the account on first use and returns creation
// options that exclude the account's existing authenticators.
func (s *Service) BeginRegistration(ctx context.Context, username string) (c Ceremony, err error) {
	ctx, span := tracer.Start(ctx, "passkey.BeginRegistration")
	defer func() { s.endSpan(span, err) }()

	acc, err := s.accounts.EnsureByUsername(ctx, username)
	if err != nil {
		return Ceremony{}, err
	}
	span.SetAttributes(attribute.String("account.id", acc.ID))

	existing, err := s.creds.ListByAccount(ctx, acc.ID)
	if err != nil {
		return Ceremony{}, err
	}
	user := newUser(acc, existing)

	opts := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	}
	if len(user.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.provider.BeginRegistration(user, opts...)
	if err != nil {
		return Ceremony{}, fmt.Errorf("begin registration: %w", err)
	}
	return s.ceremony(ctx, kindRegistration, acc.ID, creation, session)
}

// FinishRegistration verifies an attestation response and stores the new
// credential with its attested initial counter.
func (s *Service) FinishRegistration(ctx context.Context, username, challengeToken string, response []byte) (cred Credential, err error) {
	ctx, span := tracer.Start(ctx, "passkey.FinishRegistration")
	defer func() { s.endSpan(span, err) }()

	claims, err := s.challenges.open(ctx, kindRegistration, challengeToken)
	if err != nil {
		return Credential{}, err
	}
	acc, err := s.lookup(ctx, username)
	if err != nil {
		return Credential{}, err
	}
	if claims.Subject != acc.ID {
		return Credential{}, ErrChallengeExpired
	}
	span.SetAttributes(attribute.String("account.id", acc.ID))

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return Credential{}, s.reject(ErrAttestationFailed, acc.ID, err)
	}
	existing, err := s.creds.ListByAccount(ctx, acc.ID)
	if err != nil {
		return Credential{}, err
	}
	created, err := s.provider.CreateCredential(newUser(acc, existing), claims.Session, parsed)
	if err != nil {
		return Credential{}, s.reject(ErrAttestationFailed, acc.ID, err)
	}

	cred = fromWebAuthn(acc.ID, created, s.now().UTC())
	if err := s.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrCredentialExists) {
			return Credential{}, s.reject(ErrAttestationFailed, acc.ID, err)
		}
		return Credential{}, err
	}
	s.logger.Info("passkey registered", slog.String("account_id", acc.ID), slog.Int("counter", int(cred.Counter)))
	return cred, nil
}

// BeginLogin returns assertion options listing the account's credentials.
func (s *Service) BeginLogin(ctx context.Context, username string) (c Ceremony, err error) {
	ctx, span := tracer.Start(ctx, "passkey.BeginLogin")
	defer func() { s.endSpan(span, err) }()

	acc, err := s.lookup(ctx, username)
	if err != nil {
		return Ceremony{}, err
	}
	span.SetAttributes(attribute.String("account.id", acc.ID))

	creds, err := s.creds.ListByAccount(ctx, acc.ID)
	if err != nil {
		return Ceremony{}, err
	}
	if len(creds) == 0 {
		return Ceremony{}, ErrUnknownCredential
	}

	assertion, session, err := s.provider.BeginLogin(newUser(acc, creds),
		webauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		return Ceremony{}, fmt.Errorf("begin login: %w", err)
	}
	return s.ceremony(ctx, kindLogin, acc.ID, assertion, session)
}

// FinishLogin verifies an assertion, advances the credential's signature
// counter and issues an access token.
func (s *Service) FinishLogin(ctx context.Context, username, challengeToken string, response []byte) (l Login, err error) {
	ctx, span := tracer.Start(ctx, "passkey.FinishLogin")
	defer func() { s.endSpan(span, err) }()

	claims, err := s.challenges.open(ctx, kindLogin, challengeToken)
	if err != nil {
		return Login{}, err
	}
	acc, err := s.lookup(ctx, username)
	if err != nil {
		return Login{}, err
	}
	if claims.Subject != acc.ID {
		return Login{}, ErrChallengeExpired
	}
	span.SetAttributes(attribute.String("account.id", acc.ID))

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return Login{}, s.reject(ErrAssertionFailed, acc.ID, err)
	}

	// Resolve by the id the authenticator actually used, never by position.
	cred, err := s.creds.FindByID(ctx, parsed.RawID)
	if errors.Is(err, ErrCredentialNotFound) {
		return Login{}, s.reject(ErrUnknownCredential, acc.ID, err)
	}
	if err != nil {
		return Login{}, err
	}
	if cred.AccountID != acc.ID {
		return Login{}, s.reject(ErrAssertionFailed, acc.ID, errors.New("credential bound to another account"))
	}

	validated, err := s.provider.ValidateLogin(newUser(acc, []Credential{cred}), claims.Session, parsed)
	if err != nil {
		return Login{}, s.reject(ErrAssertionFailed, acc.ID, err)
	}

	counter := parsed.Response.AuthenticatorData.Counter
	if counter <= cred.Counter {
		return Login{}, s.reject(ErrCounterReplay, acc.ID, fmt.Errorf("counter %d not above stored %d", counter, cred.Counter))
	}
	advanced, err := s.creds.AdvanceCounter(ctx, cred.ID, counter, validated.Flags.BackupState, s.now())
	if err != nil {
		return Login{}, err
	}
	if !advanced {
		return Login{}, s.reject(ErrCounterReplay, acc.ID, fmt.Errorf("counter %d lost a concurrent update", counter))
	}

	token, err := s.sessions.Issue(acc.ID)
	if err != nil {
		return Login{}, err
	}
	s.logger.Info("passkey login", slog.String("account_id", acc.ID), slog.Int("counter", int(counter)))
	return Login{AccountID: acc.ID, CredentialID: cred.ID, AccessToken: token, ExpiresIn: s.sessions.TTL()}, nil
}

func (s *Service) ceremony(ctx context.Context, kind, accountID string, options any, session *webauthn.SessionData) (Ceremony, error) {
	encoded, err := json.Marshal(options)
	if err != nil {
		return Ceremony{}, fmt.Errorf("encode %s options: %w", kind, err)
	}
	token, err := s.challenges.seal(ctx, kind, accountID, session)
	if err != nil {
		return Ceremony{}, err
	}
	return Ceremony{Options: encoded, ChallengeToken: token, ExpiresIn: s.challenges.ttl}, nil
}

func (s *Service) lookup(ctx context.Context, username string) (account.Account, error) {
	acc, err := s.accounts.FindByUsername(ctx, username)
	if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrInvalidUsername) {
		return account.Account{}, ErrUnknownAccount
	}
	return acc, err
}

// reject logs the specific verification failure and returns kind.
func (s *Service) reject(kind error, accountID string, cause error) error {
	s.logger.Warn("passkey verification failed",
		slog.String("kind", kind.Error()),
		slog.String("account_id", accountID),
		slog.Any("cause", cause),
	)
	return kind
}

func (s *Service) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
