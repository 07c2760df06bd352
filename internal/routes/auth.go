package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/passkey"
	"github.com/la-ruche/keyserver/internal/session"
)

// AuthHandlers groups the authentication endpoints and their guards.
type AuthHandlers struct {
	Passkeys       *passkey.Handler
	Tickets        *session.Handler
	RegisterLimit  fiber.Handler
	LoginLimit     fiber.Handler
	RequireSession fiber.Handler
}

// RegisterAuthRoutes wires passkey ceremonies and relay ticket issuance.
func RegisterAuthRoutes(r fiber.Router, h AuthHandlers) {
	group := r.Group("/auth")
	group.Post("/register/options", h.RegisterLimit, h.Passkeys.RegisterOptions)
	group.Post("/register/verify", h.Passkeys.RegisterVerify)
	group.Post("/login/options", h.LoginLimit, h.Passkeys.LoginOptions)
	group.Post("/login/verify", h.Passkeys.LoginVerify)
	group.Post("/ws-token", h.RequireSession, h.Tickets.IssueTicket)
}
