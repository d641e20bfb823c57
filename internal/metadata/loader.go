package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// LoadAll reads all entity definitions from the _entities table and
// populates the registry.
func LoadAll(ctx context.Context, db *sql.DB, reg *Registry) error {
	entities, err := loadEntities(ctx, db)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	reg.Load(entities)

	log.Info().Int("entities", len(entities)).Msg("Loaded entities into registry")
	return nil
}

// LoadRuleDocuments reads the raw access rule documents from the
// _access_rules table, in registration order.
func LoadRuleDocuments(ctx context.Context, db *sql.DB) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, definition FROM _access_rules ORDER BY position, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var id string
		var defJSON []byte
		if err := rows.Scan(&id, &defJSON); err != nil {
			return nil, fmt.Errorf("scan access rule row: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(defJSON, &doc); err != nil {
			// Unreadable rules fail startup; skipping one would shift precedence.
			return nil, fmt.Errorf("access rule %s: invalid JSON: %w", id, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ParseEntities decodes entity definitions from a generic document list,
// e.g. the "entities" section of the config file.
func ParseEntities(docs []any) ([]*Entity, error) {
	entities := make([]*Entity, 0, len(docs))
	for i, d := range docs {
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("entity #%d: %w", i, err)
		}
		var e Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("entity #%d: %w", i, err)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("entity #%d: missing name", i)
		}
		if e.Table == "" {
			e.Table = e.Name
		}
		entities = append(entities, &e)
	}
	return entities, nil
}

func loadEntities(ctx context.Context, db *sql.DB) ([]*Entity, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, definition FROM _entities ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}

		var entity Entity
		if err := json.Unmarshal(defJSON, &entity); err != nil {
			log.Warn().Str("entity", name).Err(err).Msg("Skipping entity with invalid JSON")
			continue
		}
		if entity.Table == "" {
			entity.Table = entity.Name
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}
