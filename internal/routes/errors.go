package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/infra"
)

// ErrorHandler renders handler errors. Storage outages surface as 503 and
// anything unexpected as a bare 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		case errors.Is(err, infra.ErrStoreUnavailable):
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage unavailable"})
		case errors.Is(err, context.DeadlineExceeded):
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "request timed out"})
		default:
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		}
	}
}
