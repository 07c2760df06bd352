package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/middleware"
)

// Handler exposes account endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type meResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Me returns the profile of the authenticated account.
func (h *Handler) Me(c *fiber.Ctx) error {
	acc, err := h.service.FindByID(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusUnauthorized, "account not found")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(meResponse{ID: acc.ID, Username: acc.Username, CreatedAt: acc.CreatedAt})
}
