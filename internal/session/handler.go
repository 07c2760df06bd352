package session

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/middleware"
)

// Handler exposes relay ticket issuance.
type Handler struct {
	tickets *Tickets
}

func NewHandler(tickets *Tickets) *Handler {
	return &Handler{tickets: tickets}
}

// IssueTicket returns a single-use relay ticket for the authenticated account.
func (h *Handler) IssueTicket(c *fiber.Ctx) error {
	ticket, ttl, err := h.tickets.Issue(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"token":     ticket,
		"expiresIn": int64(ttl.Seconds()),
	})
}
