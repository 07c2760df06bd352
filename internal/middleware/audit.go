package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit writes one structured line per request. Paths are logged by route
// pattern so account ids in URLs do not end up in the access log.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []slog.Attr{
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if id := AccountID(c); id != "" {
			attrs = append(attrs, slog.String("account_id", id))
		}
		if len(c.Response().Header.Peek(ReplayedHeader)) > 0 {
			attrs = append(attrs, slog.Bool("replayed", true))
		}

		level, msg := slog.LevelInfo, "request completed"
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				attrs = append(attrs, slog.String("error", fe.Message))
			} else {
				status = fiber.StatusInternalServerError
				attrs = append(attrs, slog.Any("error", err))
			}
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			level, msg = slog.LevelError, "request failed"
		case status >= fiber.StatusBadRequest:
			level, msg = slog.LevelWarn, "request rejected"
		}
		attrs = append(attrs, slog.Int("status", status))

		logger.LogAttrs(c.UserContext(), level, msg, attrs...)
		return err
	}
}
