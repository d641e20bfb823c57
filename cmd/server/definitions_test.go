package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-guard/internal/authz"
	"rocket-guard/internal/config"
	"rocket-guard/internal/metadata"
	"rocket-guard/internal/store"
)

const rulesYAML = `
entities:
  - name: page
    table: pages
    primary_key: {field: id, type: int, generated: true}
    fields:
      - {name: id, type: int}
      - {name: title, type: string, required: true}
      - {name: userId, type: int, required: true}
rules:
  - role: user
    entity: page
    find: true
    save:
      checks: {userId: UID}
    defaults: {userId: UID}
`

func newTestStore(t *testing.T, name string) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{Driver: "sqlite", Name: name, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s
}

func TestLoadDefinitionsFromRulesFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o644))
	cfg := &config.Config{RulesFile: path}

	t.Run("check does not write", func(t *testing.T) {
		s := newTestStore(t, "cmd_check")
		defs, err := loadDefinitions(ctx, cfg, s, false)
		require.NoError(t, err)
		require.NotNil(t, defs.registry.GetEntity("page"))
		require.NoError(t, authz.CheckRules(authz.Config{}, defs.registry, defs.rules))

		persisted := metadata.NewRegistry()
		require.NoError(t, metadata.LoadAll(ctx, s.DB, persisted))
		assert.Empty(t, persisted.AllEntities())
	})

	t.Run("serve seeds entities", func(t *testing.T) {
		s := newTestStore(t, "cmd_seed")
		defs, err := loadDefinitions(ctx, cfg, s, true)
		require.NoError(t, err)
		assert.Len(t, defs.rules, 1)

		persisted := metadata.NewRegistry()
		require.NoError(t, metadata.LoadAll(ctx, s.DB, persisted))
		assert.NotNil(t, persisted.GetEntity("page"))

		exists, err := s.Dialect.TableExists(ctx, s.DB, "pages")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestLoadDefinitionsFromDatabase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "cmd_db")
	_, err := s.AddAccessRule(ctx, 0, map[string]any{"role": "guest", "entity": "page", "find": true})
	require.NoError(t, err)

	defs, err := loadDefinitions(ctx, &config.Config{}, s, false)
	require.NoError(t, err)
	require.Len(t, defs.rules, 1)
	assert.Equal(t, "guest", defs.rules[0]["role"])

	err = authz.CheckRules(authz.Config{}, defs.registry, defs.rules)
	assert.ErrorIs(t, err, authz.ErrConfiguration, "page is not defined in the database")
}

func TestAuthzConfigFromAuthSection(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{
		RoleKey: "roles", AnonymousRole: "anon", AdminRole: "root", MergeStrategy: "most-permissive",
	}}
	az := authzConfig(cfg)
	assert.Equal(t, "roles", az.RoleKey)
	assert.Equal(t, "anon", az.AnonymousRole)
	assert.Equal(t, "root", az.AdminRole)
	assert.Equal(t, authz.MostPermissive, az.MergeStrategy)
}
