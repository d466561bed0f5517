// Package config provides configuration loading for the identity server.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// insecureSecret is the development JWT secret. It is refused in production.
const insecureSecret = "change-me"

// Config represents the complete server configuration
type Config struct {
	// Env is "development" or "production"
	Env      string         `yaml:"env"`
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Store    StoreConfig    `yaml:"store"`
	Events   EventsConfig   `yaml:"events"`
	WaaS     WaaSConfig     `yaml:"waas"`
	Password PasswordConfig `yaml:"password"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is requests per second per client IP on /auth routes, 0 disables it
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// AuthConfig configures token issuance and claim approvals
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// AuthorityKey is the hex private key that signs claim approvals. An empty
	// key outside production means a throwaway key per process.
	AuthorityKey      string   `yaml:"authority_key"`
	ChainID           int64    `yaml:"chain_id"`
	VerifyingContract string   `yaml:"verifying_contract"`
	Product           string   `yaml:"product"`
	Reserved          []string `yaml:"reserved"`
	BlockedTerms      []string `yaml:"blocked_terms"`
}

// StoreConfig selects the identity store
type StoreConfig struct {
	// Driver is one of memory, redis, postgres, sqlite
	Driver        string `yaml:"driver"`
	RedisURL      string `yaml:"redis_url"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// EventsConfig configures identity event publishing
type EventsConfig struct {
	// RedisURL of the stream broker, empty drops events
	RedisURL string `yaml:"redis_url"`
}

// WaaSConfig configures the custodial wallet backend. Password identities
// are disabled when BaseURL is empty.
type WaaSConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ServiceToken string        `yaml:"service_token"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PasswordConfig tunes argon2id
type PasswordConfig struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
}

// DefaultConfig returns a Config suitable for local development
func DefaultConfig() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 5,
			RateBurst: 20,
		},
		Auth: AuthConfig{
			JWTSecret:         insecureSecret,
			ChainID:           137,
			VerifyingContract: "0x0000000000000000000000000000000000000000",
			Product:           "MetaSoccer",
		},
		Store: StoreConfig{
			Driver:        "memory",
			SQLitePath:    "./data/soccerid.db",
			MigrationsDir: "./migrations",
		},
		WaaS: WaaSConfig{
			Timeout: 15 * time.Second,
		},
		Password: PasswordConfig{
			MemoryKiB:   64 * 1024,
			Time:        3,
			Parallelism: 1,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Env, "SOCCERID_ENV", "ENV")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.Server.Addr, "HTTP_ADDR")
	if port := getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	set(&c.Auth.JWTSecret, "JWT_SECRET")
	set(&c.Auth.AuthorityKey, "AUTHORITY_PRIVATE_KEY")
	set(&c.Auth.VerifyingContract, "VERIFYING_CONTRACT")
	if v := getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Auth.ChainID = id
		}
	}
	set(&c.Store.Driver, "STORE_DRIVER")
	set(&c.Store.RedisURL, "REDIS_URL")
	set(&c.Store.PostgresDSN, "POSTGRES_DSN")
	set(&c.Store.SQLitePath, "SQLITE_PATH")
	set(&c.Events.RedisURL, "EVENTS_REDIS_URL")
	set(&c.WaaS.BaseURL, "WAAS_BASE_URL")
	set(&c.WaaS.ServiceToken, "WAAS_SERVICE_TOKEN")
}

// Production reports whether the production guards apply
func (c *Config) Production() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst < 1) {
		return errors.New("server.rate_limit must be >= 0 with a positive rate_burst")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Auth.ChainID <= 0 {
		return errors.New("auth.chain_id must be positive")
	}
	if !common.IsHexAddress(c.Auth.VerifyingContract) {
		return fmt.Errorf("auth.verifying_contract is not an address: %q", c.Auth.VerifyingContract)
	}
	if c.Production() {
		if c.Auth.JWTSecret == insecureSecret || len(c.Auth.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be set to at least 32 characters in production")
		}
		if c.Auth.AuthorityKey == "" {
			return errors.New("AUTHORITY_PRIVATE_KEY must be set in production")
		}
	}

	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.WaaS.BaseURL != "" && c.WaaS.Timeout <= 0 {
		return errors.New("waas.timeout must be positive")
	}
	if c.Password.MemoryKiB == 0 || c.Password.Time == 0 || c.Password.Parallelism == 0 {
		return errors.New("password argon2 parameters must be positive")
	}
	if c.Password.MemoryKiB > 1<<20 {
		return errors.New("password argon2 memory must not exceed 1 GiB")
	}
	return nil
}

// SlogLevel parses LogLevel
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
}
