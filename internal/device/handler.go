package device

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/middleware"
)

// Handler exposes device endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a device HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type deviceResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Verified  bool       `json:"verified"`
	Published bool       `json:"published"`
	CreatedAt time.Time  `json:"createdAt"`
	LastSeen  *time.Time `json:"lastSeen"`
}

// List returns the authenticated account's devices.
func (h *Handler) List(c *fiber.Ctx) error {
	devices, err := h.service.List(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return err
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			ID:        d.ID,
			Name:      d.Name,
			Verified:  d.Verified,
			Published: d.Published(),
			CreatedAt: d.CreatedAt,
			LastSeen:  d.LastSeen,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"devices": out})
}
