package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-bankauth/core"
)

const envPrefix = "BANKAUTH_"

type dbConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite3"`
	DSN         string `env:"DSN" envDefault:"file:bankauth.db?cache=shared"`
	Debug       bool   `env:"DEBUG"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type cacheConfig struct {
	Backend       string        `env:"BACKEND" envDefault:"memory"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	ReadCacheTTL  time.Duration `env:"READ_CACHE_TTL"`
}

type providerEnv struct {
	BaseURL       string   `env:"BASE_URL"`
	AuthURL       string   `env:"AUTH_URL"`
	TokenURL      string   `env:"TOKEN_URL"`
	ClientID      string   `env:"CLIENT_ID"`
	ClientSecret  string   `env:"CLIENT_SECRET"`
	APIKey        string   `env:"API_KEY"`
	RedirectURI   string   `env:"REDIRECT_URI"`
	Scopes        []string `env:"SCOPES" envSeparator:" "`
	VersionHeader string   `env:"VERSION_HEADER"`
	Version       string   `env:"VERSION"`
}

func (p providerEnv) configured() bool {
	return strings.TrimSpace(p.BaseURL) != ""
}

func (p providerEnv) providerConfig() core.ProviderConfig {
	return core.ProviderConfig{
		BaseURL:       p.BaseURL,
		AuthURL:       p.AuthURL,
		TokenURL:      p.TokenURL,
		ClientID:      p.ClientID,
		ClientSecret:  p.ClientSecret,
		APIKey:        p.APIKey,
		RedirectURI:   p.RedirectURI,
		Scopes:        p.Scopes,
		VersionHeader: p.VersionHeader,
		Version:       p.Version,
	}
}

// envConfig is the process configuration read from BANKAUTH_* variables.
type envConfig struct {
	DB               dbConfig      `envPrefix:"DB_"`
	Cache            cacheConfig   `envPrefix:"CACHE_"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	ExpirationBuffer time.Duration `env:"EXPIRATION_BUFFER"`
	RefreshTimeout   time.Duration `env:"REFRESH_TIMEOUT"`
	RetentionWindow  time.Duration `env:"RETENTION_WINDOW"`
	RateLimit        bool          `env:"RATE_LIMIT" envDefault:"true"`
	MetricsFile      string        `env:"METRICS_FILE"`

	OAuthBank   providerEnv `envPrefix:"OAUTHBANK_"`
	ConsentBank providerEnv `envPrefix:"CONSENTBANK_"`
	EndUserBank providerEnv `envPrefix:"ENDUSERBANK_"`
}

// loadEnv parses environ, or the process environment when environ is nil.
func loadEnv(environ map[string]string) (envConfig, error) {
	var cfg envConfig
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return envConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// serviceConfig returns runtime overrides for core.NewService. Zero values
// fall through to the core defaults.
func (c envConfig) serviceConfig() core.Config {
	cfg := core.Config{
		ExpirationBuffer: c.ExpirationBuffer,
		RefreshTimeout:   c.RefreshTimeout,
		RetentionWindow:  c.RetentionWindow,
		Providers:        map[string]core.ProviderConfig{},
	}
	sections := map[core.Provider]providerEnv{
		core.ProviderOAuthBank:   c.OAuthBank,
		core.ProviderConsentBank: c.ConsentBank,
		core.ProviderEndUserBank: c.EndUserBank,
	}
	for provider, section := range sections {
		if section.configured() {
			cfg.Providers[string(provider)] = section.providerConfig()
		}
	}
	return cfg
}
