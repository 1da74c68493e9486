// Package config loads environment-based configuration for the identity
// provider and the YAML seed files for clients, resource servers and dev
// fixtures.
package config

import (
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the identity provider.
type Config struct {
	// Environment controls log format and dev-mode defaults.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Issuer is the OpenID issuer identifier, also used as the base URL
	// for discovery metadata.
	Issuer string `env:"IDP_ISSUER" envDefault:"http://localhost:8445"`

	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string `env:"IDP_LISTEN_ADDR" envDefault:":8445"`

	// JWKSFile points at the JSON Web Key Set holding the server signing
	// keys. Generate one with cmd/jwksgen.
	JWKSFile string `env:"IDP_JWKS_FILE" envDefault:"keys/server.jwks"`

	// Backend connection strings. Each one is optional: when set, the
	// corresponding backend is used, otherwise the provider falls back to
	// in-memory storage suitable for development and tests.
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MongoURI      string `env:"MONGODB_URI"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"rephlo_idp"`
	RedisURL      string `env:"REDIS_URL"`

	// Seed files. Clients and resource servers are provisioned from YAML
	// at startup. The fixture file seeds dev accounts and licenses and is
	// only read when Postgres is not configured.
	ClientsFile   string `env:"IDP_CLIENTS_FILE" envDefault:"config/clients.yml"`
	ResourcesFile string `env:"IDP_RESOURCES_FILE" envDefault:"config/resources.yml"`
	FixturesFile  string `env:"IDP_FIXTURES_FILE"`

	// Token and session lifetimes, in seconds. All must be positive.
	AccessTokenTTLSecs       int `env:"IDP_ACCESS_TOKEN_TTL" envDefault:"600"`
	AuthorizationCodeTTLSecs int `env:"IDP_AUTHORIZATION_CODE_TTL" envDefault:"60"`
	IDTokenTTLSecs           int `env:"IDP_ID_TOKEN_TTL" envDefault:"600"`
	RefreshTokenTTLSecs      int `env:"IDP_REFRESH_TOKEN_TTL" envDefault:"1209600"`
	GrantTTLSecs             int `env:"IDP_GRANT_TTL" envDefault:"2592000"`
	InteractionTTLSecs       int `env:"IDP_INTERACTION_TTL" envDefault:"3600"`
	SessionTTLSecs           int `env:"IDP_SESSION_TTL" envDefault:"1209600"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Issuer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("IDP_ISSUER must be an absolute URL, got %q", c.Issuer)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("IDP_LISTEN_ADDR must not be empty")
	}

	if c.ClientsFile == "" {
		return fmt.Errorf("IDP_CLIENTS_FILE must not be empty")
	}

	for name, secs := range map[string]int{
		"IDP_ACCESS_TOKEN_TTL":       c.AccessTokenTTLSecs,
		"IDP_AUTHORIZATION_CODE_TTL": c.AuthorizationCodeTTLSecs,
		"IDP_ID_TOKEN_TTL":           c.IDTokenTTLSecs,
		"IDP_REFRESH_TOKEN_TTL":      c.RefreshTokenTTLSecs,
		"IDP_GRANT_TTL":              c.GrantTTLSecs,
		"IDP_INTERACTION_TTL":        c.InteractionTTLSecs,
		"IDP_SESSION_TTL":            c.SessionTTLSecs,
	} {
		if secs <= 0 {
			return fmt.Errorf("%s must be a positive number of seconds, got %d", name, secs)
		}
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
