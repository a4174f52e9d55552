package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorly/backend/internal/gamification"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const testSecret = "0123456789abcdef0123"

func TestDefaultNeedsSecret(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = testSecret
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 30*24*time.Hour, cfg.RewardExpiry())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  shutdown_timeout: 3s
database:
  driver: memory
  host: db.internal
gamification:
  max_streak_freezes: 5
  events:
    lesson_completed:
      points: 75
      challenge_weight: 2
logging:
  level: debug
  format: console
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("DB_NAME", "tutorly_test")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port, "env wins over file")
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "tutorly_test", cfg.Database.Name)
	assert.Equal(t, "tutorly", cfg.Database.User, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Gamification.MaxStreakFreezes)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, devJWTSecret, cfg.Auth.JWTSecret, "memory driver falls back to the dev secret")

	table, err := cfg.EventTable()
	require.NoError(t, err)
	v, err := table.Value(gamification.EventLessonCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(75), v.Points)
	assert.Equal(t, 2, v.ChallengeWeight)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "unknown event override", body: "gamification:\n  events:\n    lesson_skipped:\n      points: 1\n"},
		{name: "negative points", body: "gamification:\n  events:\n    daily_login:\n      points: -3\n"},
		{name: "unknown driver", body: "database:\n  driver: sqlite\n"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "verbose"}},
		{name: "short jwt secret", env: map[string]string{"JWT_SECRET": "short"}},
		{name: "missing jwt secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "dev jwt secret with postgres", env: map[string]string{"JWT_SECRET": devJWTSecret}},
		{name: "malformed yaml", body: "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", writeConfig(t, tt.body))
			t.Setenv("JWT_SECRET", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
