package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/la-ruche/keyserver/internal/account"
	"github.com/la-ruche/keyserver/internal/config"
	"github.com/la-ruche/keyserver/internal/device"
	"github.com/la-ruche/keyserver/internal/linking"
	"github.com/la-ruche/keyserver/internal/middleware"
	"github.com/la-ruche/keyserver/internal/notification"
	"github.com/la-ruche/keyserver/internal/passkey"
	"github.com/la-ruche/keyserver/internal/prekey"
	"github.com/la-ruche/keyserver/internal/session"
	"github.com/la-ruche/keyserver/internal/tokens"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Tokens tokens.Store
	Logger *slog.Logger
	// Provider overrides the WebAuthn relying party built from Cfg.
	Provider passkey.Provider
	// Parser overrides the WebAuthn response parser.
	Parser passkey.Parser
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Tokens == nil {
		return fmt.Errorf("token store is required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var (
		accountRepo account.Repository
		deviceRepo  device.Repository
		prekeyRepo  prekey.Repository
		credRepo    passkey.Repository
		linkAudit   linking.AuditRepository
	)
	if d.DB != nil {
		accountRepo = account.NewPostgresRepository(d.DB)
		deviceRepo = device.NewPostgresRepository(d.DB)
		prekeyRepo = prekey.NewPostgresRepository(d.DB)
		credRepo = passkey.NewPostgresRepository(d.DB)
		linkAudit = linking.NewPostgresAuditRepository(d.DB)
	} else {
		accountRepo = account.NewMemoryRepository()
		deviceRepo = device.NewMemoryRepository()
		prekeyRepo = prekey.NewMemoryRepository()
		credRepo = passkey.NewMemoryRepository()
		linkAudit = linking.NewMemoryAuditRepository()
	}

	provider := d.Provider
	if provider == nil {
		rp, err := passkey.NewProvider(passkey.RelyingParty{
			ID:          d.Cfg.RPID,
			DisplayName: d.Cfg.RPDisplayName,
			Origins:     d.Cfg.RPOrigins,
		})
		if err != nil {
			return fmt.Errorf("configure relying party: %w", err)
		}
		provider = rp
	}

	issuer := tokens.NewIssuer(d.Tokens)
	notifier := notification.NewLoggerNotifier(d.Logger)
	signer := session.NewSigner([]byte(d.Cfg.SessionSecret), d.Cfg.SessionTTL)

	accountSvc := account.NewService(accountRepo)
	deviceSvc := device.NewService(deviceRepo)
	passkeySvc := passkey.NewService(passkey.Deps{
		Accounts:        accountSvc,
		Credentials:     credRepo,
		Provider:        provider,
		Parser:          d.Parser,
		Tokens:          issuer,
		Sessions:        signer,
		ChallengeSecret: []byte(d.Cfg.SessionSecret),
		ChallengeTTL:    d.Cfg.ChallengeTTL,
		Logger:          d.Logger,
	})
	linkingSvc := linking.NewService(issuer, deviceSvc, linkAudit, notifier, d.Logger, linking.Options{
		TTL:       d.Cfg.LinkTTL,
		URIScheme: d.Cfg.LinkURIScheme,
	})
	prekeySvc := prekey.NewService(deviceSvc, prekeyRepo, notifier, d.Logger, prekey.Options{
		Candidates:   d.Cfg.BundleCandidates,
		LowWatermark: d.Cfg.PrekeyLowWatermark,
	})
	tickets := session.NewTickets(issuer, d.Cfg.RelayTicketTTL)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":    "ok",
			"requestId": middleware.RequestIDFrom(c),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	sessionAuth := middleware.SessionAuth(signer)

	RegisterAuthRoutes(api, AuthHandlers{
		Passkeys:       passkey.NewHandler(passkeySvc, d.Cfg.CookieSecure),
		Tickets:        session.NewHandler(tickets),
		RegisterLimit:  middleware.CeremonyRateLimit(d.Cache, "register", d.Cfg.AuthRateLimit, d.Logger),
		LoginLimit:     middleware.CeremonyRateLimit(d.Cache, "login", d.Cfg.AuthRateLimit, d.Logger),
		RequireSession: sessionAuth,
	})
	RegisterDeviceRoutes(api, account.NewHandler(accountSvc), device.NewHandler(deviceSvc), linking.NewHandler(linkingSvc), sessionAuth)
	RegisterKeyRoutes(api, prekey.NewHandler(prekeySvc), sessionAuth,
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))

	return nil
}
