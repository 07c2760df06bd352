package prekey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/la-ruche/keyserver/internal/device"
	"github.com/la-ruche/keyserver/internal/notification"
)

var tracer = otel.Tracer("github.com/la-ruche/keyserver/internal/prekey")

// Options tunes bundle selection.
type Options struct {
	// Candidates caps how many keyed devices FetchBundle inspects.
	Candidates int
	// LowWatermark triggers a replenish notification when a device's unused
	// prekey count drops below it. Zero disables the notification.
	LowWatermark int
}

// Service publishes device key material and hands out bundles.
type Service struct {
	devices  *device.Service
	repo     Repository
	notifier notification.Notifier
	logger   *slog.Logger
	opts     Options
}

// NewService wires the prekey service.
func NewService(devices *device.Service, repo Repository, notifier notification.Notifier, logger *slog.Logger, opts Options) *Service {
	if opts.Candidates <= 0 {
		opts.Candidates = 5
	}
	return &Service{devices: devices, repo: repo, notifier: notifier, logger: logger, opts: opts}
}

// Publish stores the device's long-term keys and its one-time prekeys and
// returns the device id. Republishing is idempotent: known key ids are left
// untouched, including their used flag.
func (s *Service) Publish(ctx context.Context, in PublishInput) (deviceID string, err error) {
	ctx, span := tracer.Start(ctx, "prekey.Publish", trace.WithAttributes(
		attribute.String("account.id", in.AccountID),
		attribute.Int("prekeys.count", len(in.Prekeys)),
	))
	defer func() { endSpan(span, err) }()

	keys, batch, err := validate(in)
	if err != nil {
		return "", err
	}

	deviceID = in.DeviceID
	if deviceID == "" {
		d, err := s.devices.Register(ctx, in.AccountID, in.DeviceName, false)
		if err != nil {
			return "", err
		}
		deviceID = d.ID
	}
	span.SetAttributes(attribute.String("device.id", deviceID))

	if err := s.devices.PublishKeys(ctx, in.AccountID, deviceID, keys); err != nil {
		return "", err
	}

	inserted, err := s.repo.Insert(ctx, in.AccountID, deviceID, batch)
	if err != nil {
		return "", err
	}
	s.logger.Info("prekeys published",
		slog.String("account_id", in.AccountID),
		slog.String("device_id", deviceID),
		slog.Int("offered", len(batch)),
		slog.Int("inserted", inserted),
	)
	return deviceID, nil
}

// FetchBundle returns a bundle for one of the target account's devices,
// consuming at most one one-time prekey. Devices are tried oldest first; when
// none has an unused prekey the oldest device is served without one.
func (s *Service) FetchBundle(ctx context.Context, accountID string) (b Bundle, err error) {
	ctx, span := tracer.Start(ctx, "prekey.FetchBundle", trace.WithAttributes(
		attribute.String("account.id", accountID),
	))
	defer func() { endSpan(span, err) }()

	candidates, err := s.devices.Keyed(ctx, accountID, s.opts.Candidates)
	if err != nil {
		return Bundle{}, err
	}
	if len(candidates) == 0 {
		return Bundle{}, ErrNoKeyedDevice
	}

	for _, d := range candidates {
		key, ok, err := s.repo.Claim(ctx, d.ID)
		if err != nil {
			return Bundle{}, err
		}
		if !ok {
			continue
		}
		span.SetAttributes(attribute.String("device.id", d.ID), attribute.Bool("prekey.claimed", true))
		s.checkWatermark(ctx, accountID, d.ID)
		bundle := bundleFor(accountID, d)
		bundle.OneTimePrekey = &key
		return bundle, nil
	}

	for _, d := range candidates {
		published, err := s.repo.HasAny(ctx, d.ID)
		if err != nil {
			return Bundle{}, err
		}
		if published {
			span.SetAttributes(attribute.String("device.id", candidates[0].ID), attribute.Bool("prekey.claimed", false))
			s.logger.Warn("serving bundle without one-time prekey",
				slog.String("account_id", accountID),
				slog.String("device_id", candidates[0].ID),
			)
			return bundleFor(accountID, candidates[0]), nil
		}
	}
	return Bundle{}, ErrNoPrekeysAvailable
}

func (s *Service) checkWatermark(ctx context.Context, accountID, deviceID string) {
	if s.opts.LowWatermark <= 0 || s.notifier == nil {
		return
	}
	left, err := s.repo.CountUnused(ctx, deviceID)
	if err != nil {
		s.logger.Warn("prekey count failed", slog.String("device_id", deviceID), slog.Any("error", err))
		return
	}
	if left >= s.opts.LowWatermark {
		return
	}
	msg := notification.Message{
		Kind:        notification.KindPrekeysLow,
		Destination: accountID,
		Body:        fmt.Sprintf("device %s has %d one-time prekeys left", deviceID, left),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("prekey notification failed", slog.String("device_id", deviceID), slog.Any("error", err))
	}
}

func validate(in PublishInput) (*device.PublishedKeys, []PrekeyInput, error) {
	keys, err := device.NewPublishedKeys(in.IdentityPub, in.SignedPrekeyPub, in.SignedPrekeySig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(in.Prekeys) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one prekey is required", ErrInvalidPayload)
	}
	if len(in.Prekeys) > MaxBatch {
		return nil, nil, fmt.Errorf("%w: at most %d prekeys per publish", ErrInvalidPayload, MaxBatch)
	}

	seen := make(map[uint32]struct{}, len(in.Prekeys))
	batch := make([]PrekeyInput, 0, len(in.Prekeys))
	for _, k := range in.Prekeys {
		if len(k.PublicKey) == 0 {
			return nil, nil, fmt.Errorf("%w: prekey %d has no key", ErrInvalidPayload, k.KeyID)
		}
		if _, dup := seen[k.KeyID]; dup {
			continue
		}
		seen[k.KeyID] = struct{}{}
		batch = append(batch, k)
	}
	return keys, batch, nil
}

func bundleFor(accountID string, d device.Device) Bundle {
	return Bundle{
		AccountID:       accountID,
		DeviceID:        d.ID,
		IdentityPub:     d.Keys.IdentityPub(),
		SignedPrekeyPub: d.Keys.SignedPrekeyPub(),
		SignedPrekeySig: d.Keys.SignedPrekeySig(),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNoKeyedDevice) && !errors.Is(err, ErrNoPrekeysAvailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
