package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data/meal-planner.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Second, cfg.Sync.Debounce)
	assert.Equal(t, 30, cfg.Sync.MetricsRetentionDays)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Telegram.Port)
	assert.Equal(t, "mealplanner:", cfg.Cloud.Prefix)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/meals.db
cloud:
  redis_url: redis://localhost:6379/0
sync:
  debounce: 5s
log:
  level: debug
telegram:
  allowed_user_ids: [1, 2]
`)
	t.Setenv("MEALPLANNER_LOG_LEVEL", "warn")
	t.Setenv("MEALPLANNER_AUTH_TOKEN_SECRET", "0123456789abcdef")
	t.Setenv("MEALPLANNER_SYNC_METRICS_RETENTION_DAYS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/meals.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Sync.Debounce)
	assert.Equal(t, 7, cfg.Sync.MetricsRetentionDays)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AllowedUserIDs)
	assert.NoError(t, cfg.RequireCloud())
	assert.True(t, cfg.AllowsTelegramUser(2))
	assert.False(t, cfg.AllowsTelegramUser(3))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("MEALPLANNER_LOG_FORMAT", "xml")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Format")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRequireSections(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.RequireCloud()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud.redis_url")
	assert.Contains(t, err.Error(), "auth.token_secret")

	assert.Error(t, cfg.RequireImporter())
	assert.Error(t, cfg.RequireTelegram())
	assert.True(t, cfg.AllowsTelegramUser(42))

	cfg.Groq.APIKey = "key"
	cfg.Telegram.BotToken = "token"
	cfg.Telegram.WebhookURL = "https://example.com/hook"
	assert.NoError(t, cfg.RequireImporter())
	assert.NoError(t, cfg.RequireTelegram())
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "sync.metrics_retention_days", envKey("MEALPLANNER_SYNC_METRICS_RETENTION_DAYS"))
	assert.Equal(t, "cloud.redis_url", envKey("MEALPLANNER_CLOUD_REDIS_URL"))
	assert.Equal(t, "groq.api_key", envKey("MEALPLANNER_GROQ_API_KEY"))
	assert.Equal(t, "debug", envKey("MEALPLANNER_DEBUG"))
}
