// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
database_url: postgres://file/db
redis:
  addr: file-redis:6379
  db: 2
providers:
  ollama_endpoint: http://file-ollama:11434
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_DB", "5")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL, "env wins over file")
	assert.Equal(t, "file-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Redis.DB)
	assert.Equal(t, "http://file-ollama:11434", cfg.Providers.OllamaEndpoint)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/leadrelay")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_DB", "")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadConfigRequiresDatabase(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "")

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadConfigCRMNeedsKey(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/leadrelay")
	t.Setenv("CRM_BASE_URL", "http://crm.internal")
	t.Setenv("CRM_API_KEY", "")

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRM_API_KEY")
}
