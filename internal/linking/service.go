package linking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/la-ruche/keyserver/internal/device"
	"github.com/la-ruche/keyserver/internal/notification"
	"github.com/la-ruche/keyserver/internal/tokens"
)

var tracer = otel.Tracer("github.com/la-ruche/keyserver/internal/linking")

var sasSpace = big.NewInt(1_000_000)

// Options configures link invites.
type Options struct {
	TTL       time.Duration
	URIScheme string
}

// Service runs the device linking handshake.
type Service struct {
	issuer   *tokens.Issuer
	devices  *device.Service
	audit    AuditRepository
	notifier notification.Notifier
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

func NewService(issuer *tokens.Issuer, devices *device.Service, audit AuditRepository, notifier notification.Notifier, logger *slog.Logger, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.URIScheme == "" {
		opts.URIScheme = "la-ruche"
	}
	return &Service{
		issuer:   issuer,
		devices:  devices,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Init starts a link for accountID and returns the invite to display.
func (s *Service) Init(ctx context.Context, accountID string) (Invite, error) {
	ctx, span := tracer.Start(ctx, "linking.Init", trace.WithAttributes(attribute.String("account.id", accountID)))
	defer span.End()

	sas, err := newSAS()
	if err != nil {
		return Invite{}, err
	}
	token, err := s.issuer.Mint(ctx, tokens.PurposeLink, tokens.Payload{AccountID: accountID, SAS: sas}, s.opts.TTL)
	if err != nil {
		return Invite{}, fmt.Errorf("mint link token: %w", err)
	}
	if err := s.audit.Record(ctx, Event{AccountID: accountID, Token: token, SAS: sas, CreatedAt: s.now()}); err != nil {
		// A link without an audit row must not be redeemable.
		if _, cerr := s.issuer.Consume(ctx, tokens.PurposeLink, token); cerr != nil {
			s.logger.Error("link token left behind after audit failure", slog.String("account_id", accountID), slog.Any("error", cerr))
		}
		return Invite{}, err
	}

	return Invite{
		Token:     token,
		SAS:       sas,
		QRPayload: s.opts.URIScheme + "://link?token=" + url.QueryEscape(token),
		ExpiresIn: s.opts.TTL,
	}, nil
}

// Complete redeems token on the new device. The new device starts unverified.
func (s *Service) Complete(ctx context.Context, token string) (Linked, error) {
	ctx, span := tracer.Start(ctx, "linking.Complete")
	defer span.End()

	payload, err := s.issuer.Consume(ctx, tokens.PurposeLink, token)
	if errors.Is(err, tokens.ErrNotFound) {
		return Linked{}, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return Linked{}, err
	}
	span.SetAttributes(attribute.String("account.id", payload.AccountID))

	d, err := s.devices.Register(ctx, payload.AccountID, device.LinkedName, false)
	if err != nil {
		return Linked{}, err
	}

	if err := s.audit.MarkCompleted(ctx, token, s.now()); err != nil {
		s.logger.Warn("link audit completion failed", slog.String("account_id", payload.AccountID), slog.Any("error", err))
	}

	if s.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindDeviceLinked,
			Destination: payload.AccountID,
			Body:        fmt.Sprintf("device %s linked", d.ID),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("link notification failed", slog.String("account_id", payload.AccountID), slog.Any("error", err))
		}
	}

	s.logger.Info("device linked", slog.String("account_id", payload.AccountID), slog.String("device_id", d.ID))
	return Linked{AccountID: payload.AccountID, DeviceID: d.ID, SAS: payload.SAS}, nil
}

// newSAS returns six uniformly random digits formatted as ddd-ddd.
func newSAS() (string, error) {
	n, err := rand.Int(rand.Reader, sasSpace)
	if err != nil {
		return "", fmt.Errorf("generate sas: %w", err)
	}
	v := n.Int64()
	return fmt.Sprintf("%03d-%03d", v/1000, v%1000), nil
}
