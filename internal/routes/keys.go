package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/prekey"
)

// RegisterKeyRoutes wires prekey publication and bundle fetches.
func RegisterKeyRoutes(r fiber.Router, h *prekey.Handler, requireSession, idempotency fiber.Handler) {
	group := r.Group("/keys")
	group.Post("/publish", requireSession, idempotency, h.Publish)
	group.Get("/:accountId/bundle", h.Bundle)
}
