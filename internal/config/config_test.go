package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("NOTIFY_SETTLE_DELAY", "")
	t.Setenv("GUARD_BACKEND", "")

	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, 1500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, "redis", cfg.GuardBackend)
	assert.False(t, cfg.Production())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("NOTIFY_SETTLE_DELAY", "2s")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("MIGRATE_ON_START", "0")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.False(t, cfg.MigrateOnStart)
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("X_DURATION", "soon")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_INT", "lots")

	assert.Equal(t, time.Minute, durationEnv("X_DURATION", time.Minute))
	assert.True(t, boolEnv("X_BOOL", true))
	assert.Equal(t, 7, intEnv("X_INT", 7))
}
