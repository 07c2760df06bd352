package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token purposes. The purpose is also the token prefix.
const (
	PurposeLink      = "link"
	PurposeChallenge = "chal"
	PurposeTicket    = "ws"
)

const randomBytes = 24

// Payload is the data bound to a token.
type Payload struct {
	AccountID string `json:"accountId"`
	SAS       string `json:"sas,omitempty"`
}

// Issuer mints and consumes opaque single-use tokens.
type Issuer struct {
	store Store
}

func NewIssuer(store Store) *Issuer {
	return &Issuer{store: store}
}

// Mint stores payload under a fresh "<purpose>_<random>" token for ttl.
func (i *Issuer) Mint(ctx context.Context, purpose string, payload Payload, ttl time.Duration) (string, error) {
	if purpose == "" || strings.Contains(purpose, "_") {
		return "", fmt.Errorf("invalid token purpose %q", purpose)
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	token := purpose + "_" + base64.RawURLEncoding.EncodeToString(buf)

	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if err := i.store.Put(ctx, token, value, ttl); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Consume returns the payload of token and removes it. Each token can be
// consumed at most once; a token minted for another purpose is not found.
func (i *Issuer) Consume(ctx context.Context, purpose, token string) (Payload, error) {
	if !strings.HasPrefix(token, purpose+"_") {
		return Payload{}, ErrNotFound
	}

	value, err := i.store.Take(ctx, token)
	if err != nil {
		return Payload{}, err
	}

	var payload Payload
	if err := json.Unmarshal(value, &payload); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}
