package session

import (
	"context"
	"errors"
	"time"

	"github.com/la-ruche/keyserver/internal/tokens"
)

// ErrInvalidTicket is returned when a relay ticket is unknown, expired or spent.
var ErrInvalidTicket = errors.New("invalid or expired ticket")

// Tickets issues short-lived single-use tickets that let the relay identify
// a connecting account without seeing its access token.
type Tickets struct {
	issuer *tokens.Issuer
	ttl    time.Duration
}

func NewTickets(issuer *tokens.Issuer, ttl time.Duration) *Tickets {
	return &Tickets{issuer: issuer, ttl: ttl}
}

// Issue mints a ticket for accountID.
func (t *Tickets) Issue(ctx context.Context, accountID string) (string, time.Duration, error) {
	token, err := t.issuer.Mint(ctx, tokens.PurposeTicket, tokens.Payload{AccountID: accountID}, t.ttl)
	if err != nil {
		return "", 0, err
	}
	return token, t.ttl, nil
}

// Redeem consumes ticket and returns the account it was issued for.
func (t *Tickets) Redeem(ctx context.Context, ticket string) (string, error) {
	payload, err := t.issuer.Consume(ctx, tokens.PurposeTicket, ticket)
	if errors.Is(err, tokens.ErrNotFound) {
		return "", ErrInvalidTicket
	}
	if err != nil {
		return "", err
	}
	return payload.AccountID, nil
}
