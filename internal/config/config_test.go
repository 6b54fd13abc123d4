package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 365, cfg.Workspace.DeprecationDays)
	assert.Equal(t, 30*time.Second, cfg.Registry.Timeout)
	assert.Equal(t, 3, cfg.Registry.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "patternbank", cfg.Observability.ServiceName)
	assert.False(t, cfg.Observability.Enabled)
	assert.Equal(t, 365*24*time.Hour, cfg.DeprecationThreshold())
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
workspace:
  deprecation_days: 180
registry:
  base_url: https://staging.example
  max_retries: 5
logging:
  level: debug
  format: json
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 180, cfg.Workspace.DeprecationDays)
	assert.Equal(t, "https://staging.example", cfg.Registry.BaseURL)
	assert.Equal(t, 5, cfg.Registry.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
registry:
  base_url: https://from-file.example
`, 0600)

	t.Setenv("PATTERNBANK_REGISTRY_BASE_URL", "https://from-env.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example", cfg.Registry.BaseURL)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "logging:\n  level: verbose\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"negative deprecation", "workspace:\n  deprecation_days: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content, 0600)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
