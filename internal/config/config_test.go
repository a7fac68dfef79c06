package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 11, cfg.WinScore)
	assert.Equal(t, 10*time.Millisecond, cfg.SimTick)
	assert.Equal(t, 500*time.Millisecond, cfg.SyncTick)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "session", cfg.SessionCookie)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WIN_SCORE", "5")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("ALLOWED_ORIGINS", "https://pong.example,https://admin.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.WinScore)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Len(t, cfg.AllowedOrigins, 2)
	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_Rejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WIN_SCORE", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "WIN_SCORE")

	t.Setenv("WIN_SCORE", "11")
	t.Setenv("SIM_TICK", "0s")
	_, err = Load()
	assert.ErrorContains(t, err, "SIM_TICK")

	t.Setenv("SIM_TICK", "10ms")
	t.Setenv("LOG_LEVEL", "loud")
	_, err = Load()
	assert.ErrorContains(t, err, "LOG_LEVEL")
}
