package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, uint32(64*1024), cfg.Password.MemoryKiB)
	assert.False(t, cfg.Production())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soccerid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
server:
  addr: ":9090"
auth:
  chain_id: 80001
  reserved: [admin, staff]
store:
  driver: sqlite
  sqlite_path: /tmp/ids.db
waas:
  base_url: https://waas.example.com
  timeout: 5s
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, int64(80001), cfg.Auth.ChainID)
	assert.Equal(t, []string{"admin", "staff"}, cfg.Auth.Reserved)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.WaaS.Timeout)
	// untouched fields keep their defaults
	assert.Equal(t, uint32(3), cfg.Password.Time)
	require.NoError(t, cfg.Validate())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ENV":                   "production",
		"PORT":                  "7000",
		"JWT_SECRET":            strings.Repeat("s", 32),
		"AUTHORITY_PRIVATE_KEY": "0xabc",
		"CHAIN_ID":              "1",
		"STORE_DRIVER":          "redis",
		"REDIS_URL":             "redis://localhost:6379/0",
		"WAAS_BASE_URL":         "https://waas.example.com",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.True(t, cfg.Production())
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, int64(1), cfg.Auth.ChainID)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "https://waas.example.com", cfg.WaaS.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"production default secret", func(c *Config) { c.Env = "production"; c.Auth.AuthorityKey = "0x01" }, "JWT_SECRET"},
		{"production without authority", func(c *Config) { c.Env = "prod"; c.Auth.JWTSecret = strings.Repeat("s", 40) }, "AUTHORITY_PRIVATE_KEY"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "unknown store driver"},
		{"redis without url", func(c *Config) { c.Store.Driver = "redis" }, "redis_url"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "postgres_dsn"},
		{"bad contract", func(c *Config) { c.Auth.VerifyingContract = "nope" }, "verifying_contract"},
		{"bad chain", func(c *Config) { c.Auth.ChainID = 0 }, "chain_id"},
		{"negative chain", func(c *Config) { c.Auth.ChainID = -137 }, "chain_id"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"rate without burst", func(c *Config) { c.Server.RateBurst = 0 }, "rate_limit"},
		{"zero argon memory", func(c *Config) { c.Password.MemoryKiB = 0 }, "argon2"},
		{"argon memory above cap", func(c *Config) { c.Password.MemoryKiB = 2 << 20 }, "argon2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
