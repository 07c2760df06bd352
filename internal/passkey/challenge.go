package passkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/golang-jwt/jwt/v5"

	"github.com/la-ruche/keyserver/internal/tokens"
)

const (
	kindRegistration = "registration"
	kindLogin        = "login"

	challengeAudience = "webauthn"
)

// challengeClaims is the client-held ceremony state. The token id is a
// single-use marker in the token store.
type challengeClaims struct {
	jwt.RegisteredClaims
	Kind    string               `json:"knd"`
	Session webauthn.SessionData `json:"ses"`
}

type challengeSealer struct {
	secret []byte
	ttl    time.Duration
	issuer *tokens.Issuer
	now    func() time.Time
}

func (c *challengeSealer) seal(ctx context.Context, kind, accountID string, session *webauthn.SessionData) (string, error) {
	marker, err := c.issuer.Mint(ctx, tokens.PurposeChallenge, tokens.Payload{AccountID: accountID}, c.ttl)
	if err != nil {
		return "", fmt.Errorf("mint challenge marker: %w", err)
	}
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, challengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        marker,
			Subject:   accountID,
			Audience:  jwt.ClaimStrings{challengeAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		Kind:    kind,
		Session: *session,
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	return signed, nil
}

// open verifies the token and consumes its marker. The marker is consumed
// before any other check so a challenge is never usable twice, whatever the
// outcome of the ceremony.
func (c *challengeSealer) open(ctx context.Context, kind, tokenString string) (challengeClaims, error) {
	if tokenString == "" {
		return challengeClaims{}, ErrChallengeExpired
	}

	claims := challengeClaims{}
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(challengeAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && claims.ID != "" {
			_, _ = c.issuer.Consume(ctx, tokens.PurposeChallenge, claims.ID)
		}
		return challengeClaims{}, ErrChallengeExpired
	}

	if _, err := c.issuer.Consume(ctx, tokens.PurposeChallenge, claims.ID); err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			return challengeClaims{}, ErrChallengeExpired
		}
		return challengeClaims{}, err
	}

	if claims.Kind != kind {
		return challengeClaims{}, ErrChallengeExpired
	}
	return claims, nil
}
