package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, "app.yaml", "server:\n  port: 9090\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "first-match", cfg.Auth.MergeStrategy)
	assert.Equal(t, "X-USER-ROLE", cfg.Auth.RoleKey)
	assert.Equal(t, "platform-admin", cfg.Auth.AdminRole)
	assert.True(t, cfg.PubSub.Enabled)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, "app.yaml", "database:\n  driver: sqlite\n")
	t.Setenv("ROCKET_AUTH_MERGE_STRATEGY", "most-permissive")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "most-permissive", cfg.Auth.MergeStrategy)
	assert.True(t, cfg.Database.IsSQLite())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, "app.yaml", "auth:\n  merge_strategy: loudest\nlog:\n  format: xml\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MergeStrategy")
	assert.Contains(t, err.Error(), "Format")
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable",
		DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "app"}.DSN())
	assert.Equal(t, "./data/app.db", DatabaseConfig{Driver: "sqlite", Path: "./data", Name: "app"}.DSN())
	assert.Equal(t, "file:t1?mode=memory&cache=shared", DatabaseConfig{Driver: "sqlite", Path: ":memory:", Name: "t1"}.DSN())
}

func TestLoadRulesFileKeepsKeyCase(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
entities:
  - name: page
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: userId, type: int}
rules:
  - role: user
    entity: page
    find: true
    save:
      checks:
        userId: X-USER-ID
    defaults:
      userId: X-USER-ID
`)
	f, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, f.Rules, 1)
	require.Len(t, f.Entities, 1)

	save := f.Rules[0]["save"].(map[string]any)
	checks := save["checks"].(map[string]any)
	assert.Equal(t, "X-USER-ID", checks["userId"])
	assert.Equal(t, true, f.Rules[0]["find"])

	page := f.Entities[0].(map[string]any)
	assert.Equal(t, "page", page["name"])
}

func TestLoadRulesFileMissing(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
