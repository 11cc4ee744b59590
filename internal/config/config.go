package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// saltPlaceholder is the well-known default shipped in example env files.
// Startup refuses to run with it.
const saltPlaceholder = "change-me-in-production-please-32ch"

const minSecretLen = 32

type Config struct {
	Env      string // development | production
	DB       DBConfig
	KV       KVConfig
	Upstream UpstreamConfig
	Intent   IntentConfig
	Tenant   TenantConfig
	Server   ServerConfig
	Log      LogConfig
}

type DBConfig struct {
	URL             string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type KVConfig struct {
	URL string // empty disables caching (no-op backend)
}

type UpstreamConfig struct {
	APIKey      string
	RPCURL      string
	EnhancedURL string
}

type IntentConfig struct {
	ServiceURL string // empty disables intent inference
}

type TenantConfig struct {
	APIKeySalt    string
	AdminAPIKey   string
	WebhookSecret string
}

type ServerConfig struct {
	Port           int
	HealthPort     int
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		DB: DBConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Password:        getEnv("DB_PASSWORD", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		},
		KV: KVConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Upstream: UpstreamConfig{
			APIKey:      getEnv("HELIUS_API_KEY", ""),
			RPCURL:      getEnv("HELIUS_RPC_URL", "https://mainnet.helius-rpc.com"),
			EnhancedURL: getEnv("HELIUS_API_URL", "https://api.helius.xyz"),
		},
		Intent: IntentConfig{
			ServiceURL: getEnv("INTENT_SERVICE_URL", ""),
		},
		Tenant: TenantConfig{
			APIKeySalt:    getEnv("API_KEY_SALT", ""),
			AdminAPIKey:   getEnv("ADMIN_API_KEY", ""),
			WebhookSecret: getEnv("APIX_WEBHOOK_SECRET", ""),
		},
		Server: ServerConfig{
			Port:       getEnvInt("PORT", 3000),
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("HELIUS_API_KEY is required")
	}
	if c.DB.URL == "" && c.DB.Password == "" {
		return fmt.Errorf("DATABASE_URL or DB_PASSWORD is required")
	}
	if err := validateSecret("API_KEY_SALT", c.Tenant.APIKeySalt); err != nil {
		return err
	}
	if c.Tenant.APIKeySalt == saltPlaceholder {
		return fmt.Errorf("API_KEY_SALT is the well-known placeholder, set a real salt")
	}
	if err := validateSecret("ADMIN_API_KEY", c.Tenant.AdminAPIKey); err != nil {
		return err
	}
	if err := validateSecret("APIX_WEBHOOK_SECRET", c.Tenant.WebhookSecret); err != nil {
		return err
	}
	if c.IsProduction() && len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}
	return nil
}

func validateSecret(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(value) < minSecretLen {
		return fmt.Errorf("%s must be at least %d characters", name, minSecretLen)
	}
	return nil
}

// DatabaseURL assembles the connection URL when only discrete parts are set.
func (c *Config) DatabaseURL() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "tokenflow")
	name := getEnv("DB_NAME", "tokenflow")
	ssl := getEnv("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, c.DB.Password, host, port, name, ssl)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
