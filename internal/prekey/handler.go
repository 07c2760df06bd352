package prekey

import (
	"encoding/base64"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/device"
	"github.com/la-ruche/keyserver/internal/middleware"
)

// Handler exposes key publication and bundle retrieval.
type Handler struct {
	service *Service
}

// NewHandler builds a prekey HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type prekeyPayload struct {
	ID     int64  `json:"id"`
	KeyB64 string `json:"keyB64"`
}

type publishRequest struct {
	DeviceID           string          `json:"deviceId"`
	DeviceName         string          `json:"deviceName"`
	IdentityPubB64     string          `json:"identityPubB64"`
	SignedPrekeyPubB64 string          `json:"signedPrekeyPubB64"`
	SignedPrekeySigB64 string          `json:"signedPrekeySigB64"`
	Prekeys            []prekeyPayload `json:"prekeys"`
}

type bundleResponse struct {
	UserID             string         `json:"userId"`
	DeviceID           string         `json:"deviceId"`
	IdentityPubB64     string         `json:"identityPubB64"`
	SignedPrekeyPubB64 string         `json:"signedPrekeyPubB64"`
	SignedPrekeySigB64 string         `json:"signedPrekeySigB64"`
	OneTimePrekey      *prekeyPayload `json:"oneTimePrekey,omitempty"`
}

// Publish stores the caller's device keys.
func (h *Handler) Publish(c *fiber.Ctx) error {
	var req publishRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	in, err := req.toInput(middleware.AccountID(c))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	deviceID, err := h.service.Publish(c.UserContext(), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPayload), errors.Is(err, device.ErrInvalidName):
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		case errors.Is(err, device.ErrForbidden):
			return fiber.NewError(http.StatusForbidden, "forbidden")
		default:
			return err
		}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"deviceId": deviceID})
}

// Bundle returns a prekey bundle for the account in the path.
func (h *Handler) Bundle(c *fiber.Ctx) error {
	accountID := strings.TrimSpace(c.Params("accountId"))
	if accountID == "" {
		return fiber.NewError(http.StatusBadRequest, "account id is required")
	}

	b, err := h.service.FetchBundle(c.UserContext(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoKeyedDevice):
			return fiber.NewError(http.StatusNotFound, "no device with keys")
		case errors.Is(err, ErrNoPrekeysAvailable):
			return fiber.NewError(http.StatusNotFound, "no prekeys available")
		default:
			return err
		}
	}

	resp := bundleResponse{
		UserID:             b.AccountID,
		DeviceID:           b.DeviceID,
		IdentityPubB64:     base64.StdEncoding.EncodeToString(b.IdentityPub),
		SignedPrekeyPubB64: base64.StdEncoding.EncodeToString(b.SignedPrekeyPub),
		SignedPrekeySigB64: base64.StdEncoding.EncodeToString(b.SignedPrekeySig),
	}
	if b.OneTimePrekey != nil {
		resp.OneTimePrekey = &prekeyPayload{
			ID:     int64(b.OneTimePrekey.KeyID),
			KeyB64: base64.StdEncoding.EncodeToString(b.OneTimePrekey.PublicKey),
		}
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func (r publishRequest) toInput(accountID string) (PublishInput, error) {
	identity, err := decodeB64(r.IdentityPubB64)
	if err != nil {
		return PublishInput{}, err
	}
	spk, err := decodeB64(r.SignedPrekeyPubB64)
	if err != nil {
		return PublishInput{}, err
	}
	sig, err := decodeB64(r.SignedPrekeySigB64)
	if err != nil {
		return PublishInput{}, err
	}

	prekeys := make([]PrekeyInput, 0, len(r.Prekeys))
	for _, p := range r.Prekeys {
		if p.ID < 0 || p.ID > math.MaxUint32 {
			return PublishInput{}, ErrInvalidPayload
		}
		pub, err := decodeB64(p.KeyB64)
		if err != nil {
			return PublishInput{}, err
		}
		prekeys = append(prekeys, PrekeyInput{KeyID: uint32(p.ID), PublicKey: pub})
	}

	return PublishInput{
		AccountID:       accountID,
		DeviceID:        strings.TrimSpace(r.DeviceID),
		DeviceName:      r.DeviceName,
		IdentityPub:     identity,
		SignedPrekeyPub: spk,
		SignedPrekeySig: sig,
		Prekeys:         prekeys,
	}, nil
}

// decodeB64 accepts padded or unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidPayload
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	return b, nil
}
