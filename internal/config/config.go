package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "voltrewards/libs/config"
)

// HTTPConfig holds the listen settings.
type HTTPConfig struct {
	Port string `yaml:"port" env:"ENGINE_HTTP_PORT"`
}

// DatabaseConfig holds the Postgres settings.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn" env:"ENGINE_POSTGRES_DSN"`
	MaxOpenConns int    `yaml:"maxOpenConns" env:"ENGINE_POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"maxIdleConns" env:"ENGINE_POSTGRES_MAX_IDLE_CONNS"`
}

// RedisConfig holds the debounce cache settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ENGINE_REDIS_ADDR"`
	Password string `yaml:"password" env:"ENGINE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"ENGINE_REDIS_DB"`
}

// ProviderConfig holds the vehicle telemetry provider settings.
type ProviderConfig struct {
	BaseURL       string        `yaml:"baseUrl" env:"ENGINE_PROVIDER_BASE_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"ENGINE_PROVIDER_TIMEOUT"`
	RetryAttempts int           `yaml:"retryAttempts" env:"ENGINE_PROVIDER_RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retryDelay" env:"ENGINE_PROVIDER_RETRY_DELAY"`
}

// WalletConfig holds the wallet/ledger collaborator settings.
type WalletConfig struct {
	BaseURL string        `yaml:"baseUrl" env:"ENGINE_WALLET_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"ENGINE_WALLET_TIMEOUT"`
}

// EngineConfig tunes the matching engine itself.
type EngineConfig struct {
	DebounceWindow      time.Duration `yaml:"debounceWindow" env:"ENGINE_DEBOUNCE_WINDOW"`
	StaleAfter          time.Duration `yaml:"staleAfter" env:"ENGINE_STALE_AFTER"`
	ReapInterval        time.Duration `yaml:"reapInterval" env:"ENGINE_REAP_INTERVAL"`
	ChargerRadiusMeters float64       `yaml:"chargerRadiusMeters" env:"ENGINE_CHARGER_RADIUS_METERS"`
	CampaignCacheTTL    time.Duration `yaml:"campaignCacheTtl" env:"ENGINE_CAMPAIGN_CACHE_TTL"`
	GrantPolicy         string        `yaml:"grantPolicy" env:"ENGINE_GRANT_POLICY"`
}

// Config defines incentive-engine configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Engine   EngineConfig   `yaml:"engine"`
}

// Load reads configuration via the shared helper and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:     HTTPConfig{Port: "8085"},
		Database: DatabaseConfig{MaxOpenConns: 25, MaxIdleConns: 5},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Provider: ProviderConfig{
			Timeout:       10 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
		},
		Wallet: WalletConfig{Timeout: 10 * time.Second},
		Engine: EngineConfig{
			DebounceWindow:      30 * time.Second,
			StaleAfter:          15 * time.Minute,
			ReapInterval:        5 * time.Minute,
			ChargerRadiusMeters: 500,
			CampaignCacheTTL:    30 * time.Second,
		},
	}

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		return nil, errors.New("config: provider base url required")
	}
	if strings.TrimSpace(cfg.Wallet.BaseURL) == "" {
		return nil, errors.New("config: wallet base url required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
