package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func setSecrets(t *testing.T) {
	t.Setenv("TRANSLOADIT_KEY", "tl-key")
	t.Setenv("TRANSLOADIT_SECRET", "tl-secret")
	t.Setenv("TRANSLOADIT_TEMPLATE_ID", "tpl")
	t.Setenv("TWELVE_LABS_API_KEY", "tw-key")
	t.Setenv("TWELVE_LABS_INDEX_ID", "idx")
}

func TestLoadAppliesDefaultsAndEnvSecrets(t *testing.T) {
	setSecrets(t)
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "tl-secret", cfg.Transloadit.Secret)
	require.Equal(t, "idx", cfg.TwelveLabs.IndexID)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "local", cfg.Storage.Type)
	require.Equal(t, 24*time.Hour, cfg.Storage.URLExpiry)
	require.Equal(t, 10*time.Second, cfg.TwelveLabs.PollInterval)
	require.Equal(t, []string{"visual", "conversation", "text_in_video", "logo"}, cfg.TwelveLabs.SearchOptions)
	require.Equal(t, "video/", cfg.Ingest.VideoPrefix)
	require.Equal(t, 4, cfg.Ingest.Retry.MaxAttempts)
	require.Equal(t, 64, cfg.Ingest.MaxTasks)
	require.Equal(t, 4, cfg.Ingest.GatewayConcurrency)
	require.True(t, cfg.Transloadit.Poll)
}

func TestLoadOverridesFromFile(t *testing.T) {
	setSecrets(t)
	cfg, err := Load(writeConfig(t, `
transloadit:
  poll: false
  notify_url: https://cats.example/api/v1/notifications/transcoder
twelvelabs:
  search_options: [visual]
  poll_interval: 2s
ingest:
  sweep_schedule: ""
`))
	require.NoError(t, err)
	require.False(t, cfg.Transloadit.Poll)
	require.Equal(t, "https://cats.example/api/v1/notifications/transcoder", cfg.Transloadit.NotifyURL)
	require.Equal(t, []string{"visual"}, cfg.TwelveLabs.SearchOptions)
	require.Equal(t, 2*time.Second, cfg.TwelveLabs.PollInterval)
	require.Empty(t, cfg.Ingest.SweepSchedule)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		secrets bool
		body    string
	}{
		{"missing secrets", false, "server:\n  port: 8080\n"},
		{"unknown search option", true, "twelvelabs:\n  search_options: [smell]\n"},
		{"bad threshold", true, "twelvelabs:\n  search_threshold: extreme\n"},
		{"bad notify url", true, "transloadit:\n  notify_url: not a url\n"},
		{"bad retry strategy", true, "ingest:\n  retry:\n    strategy: random\n"},
		{"unreadable file", true, "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.secrets {
				setSecrets(t)
			} else {
				for _, key := range []string{"TRANSLOADIT_KEY", "TRANSLOADIT_SECRET", "TRANSLOADIT_TEMPLATE_ID", "TWELVE_LABS_API_KEY", "TWELVE_LABS_INDEX_ID"} {
					t.Setenv(key, "")
				}
			}
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "cat", Password: "pw", DBName: "tube", SSLMode: "disable"}
	require.Contains(t, pg.DSN(), "host=db")
	require.Contains(t, pg.DSN(), "dbname=tube")

	lite := DatabaseConfig{Driver: "sqlite", Path: "./data/cattube.db"}
	require.Equal(t, "./data/cattube.db", lite.DSN())
}
