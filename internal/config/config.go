package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Google    OAuthAppConfig  `yaml:"google"`
	Microsoft OAuthAppConfig  `yaml:"microsoft"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
	BaseURL string `yaml:"base_url"` // public URL of the API, used for OAuth redirects
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection settings for rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	TokenTTLHrs  int    `yaml:"token_ttl_hours"`
	CookieSecure bool   `yaml:"cookie_secure"`
}

// OAuthAppConfig holds one provider's OAuth application credentials.
type OAuthAppConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// TrackingConfig holds beacon settings.
type TrackingConfig struct {
	BaseURL         string `yaml:"base_url"`         // public URL of the tracking service
	CooldownSeconds int    `yaml:"cooldown_seconds"` // suppress hits this soon after send
	Port            int    `yaml:"port"`             // standalone beacon server port
}

// CooldownWindow returns the configured cooldown as a duration.
func (t TrackingConfig) CooldownWindow() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}

// RateLimitConfig holds per-user send limits.
type RateLimitConfig struct {
	SendPerMinute int `yaml:"send_per_minute"`
	SendPerDay    int `yaml:"send_per_day"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads .env (if present), then the YAML file when path is
// non-empty, then applies environment variable overrides. Env always wins so
// deployments can keep secrets out of the config file.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = loaded
	}

	overrideString(&cfg.Server.BaseURL, "BASE_URL")
	overrideInt(&cfg.Server.Port, "PORT")
	overrideString(&cfg.Database.URL, "DATABASE_URL")
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")
	overrideString(&cfg.Redis.Password, "REDIS_PASSWORD")
	overrideString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	overrideString(&cfg.Google.ClientID, "GOOGLE_CLIENT_ID")
	overrideString(&cfg.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	overrideString(&cfg.Microsoft.ClientID, "MICROSOFT_CLIENT_ID")
	overrideString(&cfg.Microsoft.ClientSecret, "MICROSOFT_CLIENT_SECRET")
	overrideString(&cfg.Tracking.BaseURL, "TRACKING_BASE_URL")
	overrideInt(&cfg.Tracking.CooldownSeconds, "TRACKING_COOLDOWN_SECONDS")
	overrideInt(&cfg.Tracking.Port, "TRACKING_PORT")

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Auth.TokenTTLHrs == 0 {
		c.Auth.TokenTTLHrs = 24
	}
	if c.Tracking.CooldownSeconds == 0 {
		c.Tracking.CooldownSeconds = 10
	}
	if c.Tracking.Port == 0 {
		c.Tracking.Port = 8081
	}
	if c.Tracking.BaseURL == "" {
		c.Tracking.BaseURL = c.Server.BaseURL
	}
	if c.RateLimit.SendPerMinute == 0 {
		c.RateLimit.SendPerMinute = 30
	}
	if c.RateLimit.SendPerDay == 0 {
		c.RateLimit.SendPerDay = 500
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
