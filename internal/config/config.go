package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultAppEnv     = "development"
	devSessionSecret  = "dev-session-secret-change-me"
	minSessionSecret  = 32
	defaultLinkScheme = "la-ruche"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME"         envDefault:"La Ruche"`
	AppEnv         string        `env:"APP_ENV"          envDefault:"development"`
	Port           string        `env:"PORT"             envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL"        envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL"  envDefault:"24h"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL"   envDefault:"12h"`
	CookieSecure  bool          `env:"COOKIE_SECURE" envDefault:"true"`

	RPID          string        `env:"RP_ID"          envDefault:"localhost"`
	RPDisplayName string        `env:"RP_NAME"        envDefault:"La Ruche"`
	RPOrigins     []string      `env:"RP_ORIGINS"     envDefault:"http://localhost:3000" envSeparator:","`
	ChallengeTTL  time.Duration `env:"CHALLENGE_TTL"  envDefault:"5m"`

	LinkTTL        time.Duration `env:"LINK_TTL"         envDefault:"5m"`
	LinkURIScheme  string        `env:"LINK_URI_SCHEME"  envDefault:"la-ruche"`
	RelayTicketTTL time.Duration `env:"RELAY_TICKET_TTL" envDefault:"60s"`

	BundleCandidates   int `env:"BUNDLE_CANDIDATES"    envDefault:"5"`
	PrekeyLowWatermark int `env:"PREKEY_LOW_WATERMARK" envDefault:"10"`
	AuthRateLimit      int `env:"AUTH_RATE_LIMIT"      envDefault:"10"`

	OTelEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.AppEnv == "" {
		cfg.AppEnv = defaultAppEnv
	}
	if cfg.LinkURIScheme == "" {
		cfg.LinkURIScheme = defaultLinkScheme
	}

	if cfg.IsDev() {
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = devSessionSecret
		}
	} else {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if len(cfg.SessionSecret) < minSessionSecret {
			return Config{}, fmt.Errorf("SESSION_SECRET must be at least %d bytes when APP_ENV=%s", minSessionSecret, cfg.AppEnv)
		}
	}

	if cfg.BundleCandidates <= 0 {
		return Config{}, fmt.Errorf("BUNDLE_CANDIDATES must be positive")
	}
	if cfg.ChallengeTTL <= 0 || cfg.LinkTTL <= 0 || cfg.RelayTicketTTL <= 0 || cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("token TTLs must be positive")
	}

	return cfg, nil
}

// IsDev reports whether the process runs in a development environment, where
// in-memory repositories and a default session secret are acceptable.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
