package config

import (
	"testing"

	"github.com/mahesararslan/merge-communication-server/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const missingFile = "merge-gateway-test-missing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(logging.Discard(), missingFile)
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.Server.Address)
	assert.Equal(t, []string{"localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, AuthModeRemote, cfg.Auth.Mode)
	assert.Equal(t, "accessToken", cfg.Auth.CookieName)
	assert.Equal(t, "http://localhost:3000", cfg.Auth.URL, "auth falls back to the backend url")
	assert.Equal(t, BusDriverRedis, cfg.Bus.Driver)
	assert.Equal(t, 6379, cfg.Bus.Redis.Port)
	assert.Equal(t, "10s", cfg.Backend.Timeout.String())
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("BACKEND_URL", "http://api:3000/")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("ALLOWED_ORIGINS", "app.example.com, admin.example.com")

	cfg, err := Load(logging.Discard(), missingFile)
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Address)
	assert.Equal(t, "http://api:3000", cfg.Backend.URL)
	assert.Equal(t, "redis", cfg.Bus.Redis.Host)
	assert.Equal(t, []string{"app.example.com", "admin.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoadPrefixedEnvironment(t *testing.T) {
	t.Setenv("MERGE_BUS_DRIVER", "memory")
	t.Setenv("MERGE_AUTH_MODE", "jwt")
	t.Setenv("MERGE_AUTH_JWTSECRET", "s3cret")

	cfg, err := Load(logging.Discard(), missingFile)
	require.NoError(t, err)
	assert.Equal(t, BusDriverMemory, cfg.Bus.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("MERGE_AUTH_MODE", "jwt")
	_, err := Load(logging.Discard(), missingFile)
	assert.ErrorContains(t, err, "jwtSecret")
}
