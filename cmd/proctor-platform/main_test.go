package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(serverOptions{})
	require.NoError(t, err)

	assert.Equal(t, "proctor-platform", cfg.Server.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "1.0.0", cfg.Server.Version)
}

func TestLoadConfigAddressOverride(t *testing.T) {
	cfg, err := loadConfig(serverOptions{address: ":9191"})
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.Server.Address)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":7070"
  version: "2.1.0"
classifier:
  endpoint: http://localhost:9000/classify
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := loadConfig(serverOptions{configPath: path})
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "2.1.0", cfg.Server.Version)
	assert.Equal(t, "http://localhost:9000/classify", cfg.Classifier.Endpoint)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(serverOptions{configPath: "/nonexistent/config.yaml"})
	assert.Error(t, err)
}
