package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefaultXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filedrop.config")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data", "staging"), cfg.GetUploadDir())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<FileDrop>")
	assert.Contains(t, string(data), "<WidgetTimeoutMinutes>30</WidgetTimeoutMinutes>")
}

func TestLoadConfig_XMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filedrop.config")
	content := `<?xml version="1.0" encoding="UTF-8"?>
<FileDrop>
  <Server>
    <Port>9000</Port>
  </Server>
  <Staging>
    <MaxWidgets>4</MaxWidgets>
  </Staging>
</FileDrop>`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Staging.MaxWidgets)
	assert.Equal(t, 30, cfg.Staging.WidgetTimeoutMinutes, "unset fields keep defaults")
	assert.Equal(t, "0.0.0.0:9000", cfg.GetServerAddr())
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filedrop.yaml")
	content := `server:
  port: 7000
  bindAddress: 127.0.0.1
storage:
  uploadsDirectory: /var/lib/filedrop/staging
advanced:
  logLevel: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.GetServerAddr())
	assert.Equal(t, "/var/lib/filedrop/staging", cfg.GetUploadDir())
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.GetDataDir())
}

func TestLoadConfig_CreatesDefaultYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filedrop.yml")

	_, err := LoadConfig(path)
	require.NoError(t, err)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Staging.MaxWidgets)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("DATA_DIR", "/srv/filedrop")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "filedrop.config"))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/srv/filedrop", cfg.GetDataDir())
	assert.Equal(t, "/srv/filedrop/staging", cfg.GetUploadDir())
	assert.Equal(t, "warn", cfg.Advanced.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"malformed xml", "bad.config", "<FileDrop><Server>"},
		{"malformed yaml", "bad.yaml", "server: [unclosed"},
		{"bad port", "port.yaml", "server:\n  port: 70000\n"},
		{"bad timeout", "timeout.yaml", "staging:\n  widgetTimeoutMinutes: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.resolvePaths(dir)

	require.NoError(t, cfg.EnsureDirectories())
	_, err := os.Stat(cfg.GetUploadDir())
	assert.NoError(t, err)
}

func TestGetMultipartMemory(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(32<<20), cfg.GetMultipartMemory())

	cfg.Staging.MultipartMemoryMB = 0
	assert.Equal(t, int64(32<<20), cfg.GetMultipartMemory())

	cfg.Staging.MultipartMemoryMB = 1
	assert.Equal(t, int64(1<<20), cfg.GetMultipartMemory())
}
