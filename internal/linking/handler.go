package linking

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/middleware"
)

// Handler exposes device linking endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Init starts a link for the authenticated account.
func (h *Handler) Init(c *fiber.Ctx) error {
	invite, err := h.service.Init(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"token":     invite.Token,
		"sas":       invite.SAS,
		"qr":        invite.QRPayload,
		"expiresIn": int64(invite.ExpiresIn.Seconds()),
	})
}

// Complete redeems a link token presented by the new device.
func (h *Handler) Complete(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return fiber.NewError(http.StatusBadRequest, "token is required")
	}

	linked, err := h.service.Complete(c.UserContext(), strings.TrimSpace(req.Token))
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			return fiber.NewError(http.StatusNotFound, "invalid or expired token")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"userId":   linked.AccountID,
		"deviceId": linked.DeviceID,
		"sas":      linked.SAS,
	})
}
