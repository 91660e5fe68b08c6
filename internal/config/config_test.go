package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/edgard/zapbot/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
gemini:
  api_key: test-key
gateway:
  base_url: http://localhost:8081
  api_key: gw-key
  instance: main
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultThanksToken, cfg.Router.ThanksToken)
	assert.Equal(t, 3, cfg.Knowledge.TopK)

	window, ok := cfg.Summary.Period("6h")
	require.True(t, ok)
	assert.Equal(t, 6*time.Hour, window)

	for _, name := range []string{QueueMedia, QueueSummary, QueueResponse} {
		q, ok := cfg.Queues[name]
		require.True(t, ok, name)
		assert.GreaterOrEqual(t, q.MaxAttempts, 1)
	}
}

func TestLoadPartialQueueKeepsDefaults(t *testing.T) {
	body := minimalConfig + `
queues:
  media-processing:
    max_attempts: 7
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	media := cfg.Queues[QueueMedia]
	assert.Equal(t, 7, media.MaxAttempts)
	assert.Equal(t, "exponential", media.Backoff)
	assert.Equal(t, 2*time.Second, media.BackoffDelay)
	assert.Equal(t, 2, media.Concurrency["audio"])
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ZAPBOT_GATEWAY_INSTANCE", "from-env")
	t.Setenv("ZAPBOT_ROUTER_THANKS_TOKEN", "valeu")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.Instance)
	assert.Equal(t, "valeu", cfg.Router.ThanksToken)
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing api key", "gateway:\n  base_url: http://x\n  api_key: k\n  instance: i\n"},
		{"bad driver", minimalConfig + "database:\n  driver: mysql\n"},
		{"unknown default period", minimalConfig + "summary:\n  default_period: 3d\n"},
		{"bad backoff", minimalConfig + "queues:\n  summary-generation:\n    backoff: linear\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, apperr.CodeConfig, apperr.Code(err))
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ZAPBOT_GEMINI_API_KEY", "k")
	t.Setenv("ZAPBOT_GATEWAY_BASE_URL", "http://gw")
	t.Setenv("ZAPBOT_GATEWAY_API_KEY", "k")
	t.Setenv("ZAPBOT_GATEWAY_INSTANCE", "i")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
}
