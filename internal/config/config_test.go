package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Contains(t, cfg.Source.URL, "hpps_prfdata.php?seq=307338")
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.NotEmpty(t, cfg.Source.UserAgent)
	assert.Equal(t, "Europe/Prague", cfg.Source.Location)
	assert.Equal(t, "data/measurements.db", cfg.Database.Path)
	assert.Equal(t, "*/30 * * * *", cfg.Schedule.Cron)
	assert.True(t, cfg.Schedule.RunOnStart)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.Window)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.False(t, cfg.API.DebugEnabled)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Empty(t, cfg.Telegram.Token)
	assert.Empty(t, cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)

	assert.Equal(t, "Europe/Prague", cfg.SourceLocation().String())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
source:
  url: http://localhost:9999/page
  timeout: 5s
database:
  path: /tmp/river.db
schedule:
  cron: "*/10 * * * *"
  run_on_start: false
retention:
  window: 48h
api:
  addr: 127.0.0.1:9000
  debug_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/page", cfg.Source.URL)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "/tmp/river.db", cfg.Database.Path)
	assert.Equal(t, "*/10 * * * *", cfg.Schedule.Cron)
	assert.False(t, cfg.Schedule.RunOnStart)
	assert.Equal(t, 48*time.Hour, cfg.Retention.Window)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Addr)
	assert.True(t, cfg.API.DebugEnabled)
	assert.Equal(t, "Europe/Prague", cfg.Source.Location, "unset keys keep their defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database:\n  path: /tmp/from-file.db\n")
	t.Setenv("RIVER_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("RIVER_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("RIVER_RETENTION_WINDOW", "24h")
	t.Setenv("RIVER_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.Database.Path)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Window)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
}

func TestLoad_ConventionalSecretNames(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "42:legacy")
	t.Setenv("OPENAI_API_KEY", "sk-legacy")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "42:legacy", cfg.Telegram.Token)
	assert.Equal(t, "sk-legacy", cfg.OpenAI.APIKey)

	t.Setenv("RIVER_TELEGRAM_TOKEN", "42:prefixed")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "42:prefixed", cfg.Telegram.Token, "the prefixed name wins")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RIVER_API_ADDR=:9191\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("RIVER_API_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.API.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"source.url is required":            "source:\n  url: \"\"\n",
		"source.timeout must be positive":   "source:\n  timeout: 0s\n",
		"invalid source.location":           "source:\n  location: Mars/Olympus\n",
		"retention.window must be positive": "retention:\n  window: -1h\n",
		"invalid schedule.cron":             "schedule:\n  cron: every half hour\n",
	}
	for want, body := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), want)
		})
	}
}

func TestSourceLocation_FallsBackToUTC(t *testing.T) {
	cfg := &Config{Source: SourceConfig{Location: "Nowhere/Town"}}
	assert.Equal(t, time.UTC, cfg.SourceLocation())
}
