package passkey

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/la-ruche/keyserver/internal/account"
	"github.com/la-ruche/keyserver/internal/middleware"
)

// ChallengeCookie carries the challenge token for browser clients.
const ChallengeCookie = "lr_webauthn_chal"

const challengeCookiePath = "/api/v1/auth"

// Handler exposes the passkey ceremonies.
type Handler struct {
	service       *Service
	secureCookies bool
}

// NewHandler constructs a passkey HTTP handler.
func NewHandler(service *Service, secureCookies bool) *Handler {
	return &Handler{service: service, secureCookies: secureCookies}
}

type beginRequest struct {
	Username string `json:"username"`
}

type finishRequest struct {
	Username       string          `json:"username"`
	ChallengeToken string          `json:"challengeToken"`
	Response       json.RawMessage `json:"response"`
}

type ceremonyResponse struct {
	Options        json.RawMessage `json:"options"`
	ChallengeToken string          `json:"challengeToken"`
	ExpiresIn      int64           `json:"expiresIn"`
}

// RegisterOptions starts a registration ceremony.
func (h *Handler) RegisterOptions(c *fiber.Ctx) error {
	var req beginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	ceremony, err := h.service.BeginRegistration(c.UserContext(), req.Username)
	if err != nil {
		return mapError(err)
	}
	return h.sendCeremony(c, ceremony)
}

// RegisterVerify completes a registration ceremony.
func (h *Handler) RegisterVerify(c *fiber.Ctx) error {
	req, err := h.parseFinish(c)
	if err != nil {
		return err
	}
	cred, err := h.service.FinishRegistration(c.UserContext(), req.Username, req.ChallengeToken, req.Response)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"ok":           true,
		"credentialId": base64.RawURLEncoding.EncodeToString(cred.ID),
	})
}

// LoginOptions starts an authentication ceremony.
func (h *Handler) LoginOptions(c *fiber.Ctx) error {
	var req beginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	ceremony, err := h.service.BeginLogin(c.UserContext(), req.Username)
	if err != nil {
		return mapError(err)
	}
	return h.sendCeremony(c, ceremony)
}

// LoginVerify completes an authentication ceremony and sets the session cookie.
func (h *Handler) LoginVerify(c *fiber.Ctx) error {
	req, err := h.parseFinish(c)
	if err != nil {
		return err
	}
	login, err := h.service.FinishLogin(c.UserContext(), req.Username, req.ChallengeToken, req.Response)
	if err != nil {
		return mapError(err)
	}
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    login.AccessToken,
		Path:     "/",
		MaxAge:   int(login.ExpiresIn / time.Second),
		Secure:   h.secureCookies,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"userId":      login.AccountID,
		"accessToken": login.AccessToken,
		"expiresIn":   int64(login.ExpiresIn.Seconds()),
	})
}

func (h *Handler) sendCeremony(c *fiber.Ctx, ceremony Ceremony) error {
	c.Cookie(&fiber.Cookie{
		Name:     ChallengeCookie,
		Value:    ceremony.ChallengeToken,
		Path:     challengeCookiePath,
		MaxAge:   int(ceremony.ExpiresIn / time.Second),
		Secure:   h.secureCookies,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return c.Status(http.StatusOK).JSON(ceremonyResponse{
		Options:        ceremony.Options,
		ChallengeToken: ceremony.ChallengeToken,
		ExpiresIn:      int64(ceremony.ExpiresIn.Seconds()),
	})
}

// parseFinish reads a finish request and clears the challenge cookie, which
// is single use whatever the outcome.
func (h *Handler) parseFinish(c *fiber.Ctx) (finishRequest, error) {
	var req finishRequest
	if err := c.BodyParser(&req); err != nil {
		return finishRequest{}, fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.ChallengeToken == "" {
		req.ChallengeToken = c.Cookies(ChallengeCookie)
	}
	req.ChallengeToken = strings.TrimSpace(req.ChallengeToken)
	c.Cookie(&fiber.Cookie{
		Name:     ChallengeCookie,
		Value:    "",
		Path:     challengeCookiePath,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   h.secureCookies,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
	})
	return req, nil
}

// mapError collapses verification failures into one outward message.
func mapError(err error) error {
	switch {
	case errors.Is(err, account.ErrInvalidUsername):
		return fiber.NewError(http.StatusBadRequest, "invalid username")
	case errors.Is(err, ErrUnknownAccount):
		return fiber.NewError(http.StatusNotFound, "unknown account")
	case errors.Is(err, ErrChallengeExpired):
		return fiber.NewError(http.StatusUnauthorized, "challenge expired")
	case errors.Is(err, ErrUnknownCredential),
		errors.Is(err, ErrAttestationFailed),
		errors.Is(err, ErrAssertionFailed),
		errors.Is(err, ErrCounterReplay):
		return fiber.NewError(http.StatusUnauthorized, "verification failed")
	default:
		return err
	}
}
