package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	accountIDKey = "account_id"

	// SessionCookie carries the access token for browser clients.
	SessionCookie = "lr_session"
)

// SessionVerifier resolves an access token to the account it was issued for.
type SessionVerifier interface {
	Verify(token string) (string, error)
}

// SessionAuth requires a valid access token from the Authorization header or
// the session cookie and stores the account id in the request locals.
func SessionAuth(verifier SessionVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies(SessionCookie)
		}
		if token == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing session")
		}

		accountID, err := verifier.Verify(token)
		if err != nil || accountID == "" {
			return fiber.NewError(http.StatusUnauthorized, "invalid session")
		}

		c.Locals(accountIDKey, accountID)
		return c.Next()
	}
}

// AccountID returns the account resolved by SessionAuth, or "" when the
// request is unauthenticated.
func AccountID(c *fiber.Ctx) string {
	id, _ := c.Locals(accountIDKey).(string)
	return id
}

func bearerToken(header string) string {
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("bearer "):])
}
