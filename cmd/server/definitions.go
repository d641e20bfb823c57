package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"rocket-guard/internal/authz"
	"rocket-guard/internal/config"
	"rocket-guard/internal/metadata"
	"rocket-guard/internal/store"
)

// definitions are the entities and access rule documents the engine starts
// with.
type definitions struct {
	registry *metadata.Registry
	rules    []map[string]any
}

// loadDefinitions reads the persisted entities and overlays the ones of the
// rules file. The rules file, when configured, replaces the persisted access
// rules. With seed set, file entities are stored and their tables migrated.
func loadDefinitions(ctx context.Context, cfg *config.Config, db *store.Store, seed bool) (*definitions, error) {
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.DB, reg); err != nil {
		return nil, err
	}

	if cfg.RulesFile == "" {
		docs, err := metadata.LoadRuleDocuments(ctx, db.DB)
		if err != nil {
			return nil, fmt.Errorf("load access rules: %w", err)
		}
		return &definitions{registry: reg, rules: docs}, nil
	}

	file, err := config.LoadRulesFile(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	fileEntities, err := metadata.ParseEntities(file.Entities)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", cfg.RulesFile, err)
	}

	byName := make(map[string]*metadata.Entity)
	for _, e := range reg.AllEntities() {
		byName[e.Name] = e
	}
	migrator := store.NewMigrator(db)
	for _, e := range fileEntities {
		byName[e.Name] = e
		if !seed {
			continue
		}
		if err := db.PutEntity(ctx, e); err != nil {
			return nil, err
		}
		if err := migrator.Migrate(ctx, e); err != nil {
			return nil, fmt.Errorf("migrate entity %s: %w", e.Name, err)
		}
	}
	merged := make([]*metadata.Entity, 0, len(byName))
	for _, e := range byName {
		merged = append(merged, e)
	}
	reg.Load(merged)

	log.Info().Str("file", cfg.RulesFile).
		Int("entities", len(fileEntities)).
		Int("rules", len(file.Rules)).
		Msg("Rules file loaded")
	return &definitions{registry: reg, rules: file.Rules}, nil
}

func authzConfig(cfg *config.Config) authz.Config {
	return authz.Config{
		RoleKey:       cfg.Auth.RoleKey,
		RolePath:      cfg.Auth.RolePath,
		AnonymousRole: cfg.Auth.AnonymousRole,
		AdminRole:     cfg.Auth.AdminRole,
		MergeStrategy: authz.MergeStrategy(cfg.Auth.MergeStrategy),
	}
}
