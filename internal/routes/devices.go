package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/account"
	"github.com/la-ruche/keyserver/internal/device"
	"github.com/la-ruche/keyserver/internal/linking"
)

// RegisterDeviceRoutes wires the caller's profile, device list and linking.
func RegisterDeviceRoutes(r fiber.Router, me *account.Handler, devices *device.Handler, link *linking.Handler, requireSession fiber.Handler) {
	r.Get("/me", requireSession, me.Me)
	r.Get("/devices", requireSession, devices.List)

	group := r.Group("/device/link")
	group.Post("/init", requireSession, link.Init)
	// The new device has no session yet; the link token is its credential.
	group.Post("/complete", link.Complete)
}
