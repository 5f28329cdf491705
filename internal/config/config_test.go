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

func TestLoad(t *testing.T) {
	t.Run("Should apply defaults without a file", func(t *testing.T) {
		t.Setenv("PRODFLOW_DATABASE_URL", "sqlite://:memory:")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "sqlite://:memory:", cfg.Database.URL)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)
		assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
		assert.Equal(t, 30*time.Second, cfg.Notifications.Timeout)
		assert.True(t, cfg.Scheduler.Enabled)
		assert.False(t, cfg.Debug())
	})

	t.Run("Should read a yaml file and let env override it", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "prodflow.yaml")
		content := `
log_level: debug
database:
  url: postgres://prod:secret@db:5432/prod
  max_open_conns: 10
notifications:
  webhook_url: https://hooks.example.test/qc
  timeout: 5s
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		t.Setenv("PRODFLOW_DATABASE_MAX_OPEN_CONNS", "3")

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.True(t, cfg.Debug())
		assert.Equal(t, "postgres://prod:secret@db:5432/prod", cfg.Database.URL)
		assert.Equal(t, 3, cfg.Database.MaxOpenConns)
		assert.Equal(t, "https://hooks.example.test/qc", cfg.Notifications.WebhookURL)
		assert.Equal(t, 5*time.Second, cfg.Notifications.Timeout)
	})

	t.Run("Should fall back to a sqlite file in the config dir", func(t *testing.T) {
		t.Setenv("PRODFLOW_DATABASE_URL", "")
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		t.Setenv("HOME", t.TempDir())

		cfg, err := Load("")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(cfg.Database.URL, "sqlite://"))
		assert.True(t, strings.HasSuffix(cfg.Database.URL, "prodflow.db"))
	})
}
