package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultExpirationBuffer = 5 * time.Minute
	DefaultCacheGrace       = 60 * time.Second
	DefaultTokenExpiry      = 3600 * time.Second
	DefaultRefreshTimeout   = 30 * time.Second
	DefaultRetentionWindow  = 30 * 24 * time.Hour
	DefaultCacheKeyPrefix   = "bank_token:"
)

type RefreshConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

// ProviderConfig holds the static credentials for one provider. Fields a
// variant does not use are left empty.
type ProviderConfig struct {
	BaseURL       string   `koanf:"base_url" mapstructure:"base_url"`
	AuthURL       string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL      string   `koanf:"token_url" mapstructure:"token_url"`
	ClientID      string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret  string   `koanf:"client_secret" mapstructure:"client_secret"`
	APIKey        string   `koanf:"api_key" mapstructure:"api_key"`
	RedirectURI   string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes        []string `koanf:"scopes" mapstructure:"scopes"`
	VersionHeader string   `koanf:"version_header" mapstructure:"version_header"`
	Version       string   `koanf:"version" mapstructure:"version"`
}

// RequireClient reports ProviderNotConfigured when the client id or secret is
// missing.
func (c ProviderConfig) RequireClient(provider Provider) error {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return NewProviderNotConfiguredError(provider, "client id and secret are required")
	}
	return nil
}

func (c ProviderConfig) RequireAPIKey(provider Provider) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return NewProviderNotConfiguredError(provider, "api key is required")
	}
	return nil
}

type Config struct {
	ServiceName      string                    `koanf:"service_name" mapstructure:"service_name"`
	ExpirationBuffer time.Duration             `koanf:"expiration_buffer" mapstructure:"expiration_buffer"`
	CacheGrace       time.Duration             `koanf:"cache_grace" mapstructure:"cache_grace"`
	DefaultExpiry    time.Duration             `koanf:"default_expiry" mapstructure:"default_expiry"`
	RefreshTimeout   time.Duration             `koanf:"refresh_timeout" mapstructure:"refresh_timeout"`
	CacheKeyPrefix   string                    `koanf:"cache_key_prefix" mapstructure:"cache_key_prefix"`
	RetentionWindow  time.Duration             `koanf:"retention_window" mapstructure:"retention_window"`
	Refresh          RefreshConfig             `koanf:"refresh" mapstructure:"refresh"`
	Providers        map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:      "bankauth",
		ExpirationBuffer: DefaultExpirationBuffer,
		CacheGrace:       DefaultCacheGrace,
		DefaultExpiry:    DefaultTokenExpiry,
		RefreshTimeout:   DefaultRefreshTimeout,
		CacheKeyPrefix:   DefaultCacheKeyPrefix,
		RetentionWindow:  DefaultRetentionWindow,
		Refresh: RefreshConfig{
			MaxAttempts:    defaultRefreshMaxAttempts,
			InitialBackoff: defaultRefreshInitialBackoff,
			MaxBackoff:     defaultRefreshMaxBackoff,
		},
		Providers: map[string]ProviderConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.ExpirationBuffer < 0 {
		return fmt.Errorf("core: expiration_buffer must not be negative")
	}
	if c.CacheGrace < 0 {
		return fmt.Errorf("core: cache_grace must not be negative")
	}
	if c.DefaultExpiry < 0 {
		return fmt.Errorf("core: default_expiry must not be negative")
	}
	if c.RefreshTimeout < 0 {
		return fmt.Errorf("core: refresh_timeout must not be negative")
	}
	if c.Refresh.MaxAttempts < 0 {
		return fmt.Errorf("core: refresh.max_attempts must not be negative")
	}
	return nil
}

// Provider returns the static configuration for provider, or
// ProviderNotConfigured.
func (c Config) Provider(provider Provider) (ProviderConfig, error) {
	cfg, ok := c.Providers[string(provider.Normalize())]
	if !ok {
		return ProviderConfig{}, NewProviderNotConfiguredError(provider, "")
	}
	return cfg, nil
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ExpirationBuffer == 0 {
		c.ExpirationBuffer = defaults.ExpirationBuffer
	}
	if c.CacheGrace == 0 {
		c.CacheGrace = defaults.CacheGrace
	}
	if c.DefaultExpiry == 0 {
		c.DefaultExpiry = defaults.DefaultExpiry
	}
	if c.RefreshTimeout == 0 {
		c.RefreshTimeout = defaults.RefreshTimeout
	}
	if strings.TrimSpace(c.CacheKeyPrefix) == "" {
		c.CacheKeyPrefix = defaults.CacheKeyPrefix
	}
	if c.RetentionWindow == 0 {
		c.RetentionWindow = defaults.RetentionWindow
	}
	if c.Refresh.MaxAttempts == 0 {
		c.Refresh.MaxAttempts = defaults.Refresh.MaxAttempts
	}
	if c.Refresh.InitialBackoff == 0 {
		c.Refresh.InitialBackoff = defaults.Refresh.InitialBackoff
	}
	if c.Refresh.MaxBackoff == 0 {
		c.Refresh.MaxBackoff = defaults.Refresh.MaxBackoff
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	return c
}
