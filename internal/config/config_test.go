package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := load([]string{"-config", filepath.Join(t.TempDir(), "missing.json")}, envMap(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "", cfg.DBURL)
	assert.Equal(t, "admin", cfg.SuperuserRole)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Seed)
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": "9000",
		"dbUrl": "postgres://json",
		"logLevel": "debug",
		"shutdownTimeout": "3s",
		"kafkaBrokers": ["kafka:9092"],
		"logMaxBackups": 2
	}`), 0o600))

	env := envMap(map[string]string{
		"INVENTORY_DB_URL":       "postgres://env",
		"INVENTORY_AUTO_MIGRATE": "yes",
		"INVENTORY_CORS_ORIGINS": "http://a.local, http://b.local",
		"INVENTORY_LOG_LEVEL":    "  ",
		"INVENTORY_LOG_FILE":     "/var/log/inventory.log",
	})
	cfg, err := load([]string{"--config=" + path, "-port", "9100", "-log-format", "console"}, env, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port, "flag beats json")
	assert.Equal(t, "postgres://env", cfg.DBURL, "env beats json")
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "debug", cfg.LogLevel, "blank env is ignored")
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "/var/log/inventory.log", cfg.LogFile)
	assert.Equal(t, 2, cfg.LogMaxBackups)
	assert.Equal(t, 100, cfg.LogMaxSizeMB)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.CORSOrigins)
}

func TestConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":"7000"}`), 0o600))

	cfg, err := load(nil, envMap(map[string]string{"INVENTORY_CONFIG": path}), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
}

func TestJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":"9090","shutdownTimeout":"250ms","metrics":false}`), 0o600))

	cfg, err := load([]string{"-config", path}, envMap(nil), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.ShutdownTimeout)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, "info", cfg.LogLevel, "unset keys keep defaults")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"shutdownTimeout":"soon"}`), 0o600))
	_, err = load([]string{"-config", bad}, envMap(nil), io.Discard)
	assert.ErrorContains(t, err, "shutdownTimeout")
}

func TestBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port":`), 0o600))
	_, err := load([]string{"-config", path}, envMap(nil), io.Discard)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, false},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, false},
		{"non numeric port", func(c *Config) { c.Port = "http" }, false},
		{"broker without port", func(c *Config) { c.KafkaBrokers = []string{"kafka"} }, false},
		{"broker without topic", func(c *Config) { c.KafkaBrokers = []string{"kafka:9092"}; c.KafkaTopic = "" }, false},
		{"migrate without db", func(c *Config) { c.AutoMigrate = true }, false},
		{"dev mode superuser default", func(c *Config) { c.DefaultRole = "ADMIN" }, false},
		{"cors origin without scheme", func(c *Config) { c.CORSOrigins = []string{"admin.local"} }, false},
		{"superuser default with secret", func(c *Config) { c.DefaultRole = "admin"; c.JWTSecret = "s" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := def()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUnknownFlag(t *testing.T) {
	_, err := load([]string{"-nope"}, envMap(nil), io.Discard)
	assert.Error(t, err)
}
