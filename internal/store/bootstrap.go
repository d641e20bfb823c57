package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"rocket-guard/internal/metadata"
)

// Bootstrap creates the system tables holding entity definitions and access
// rules.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	return nil
}

// PutEntity stores (or replaces) an entity definition in _entities.
func (s *Store) PutEntity(ctx context.Context, ent *metadata.Entity) error {
	def, err := json.Marshal(ent)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", ent.Name, err)
	}
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		`INSERT INTO _entities (name, table_name, definition) VALUES (%s, %s, %s)
		 ON CONFLICT (name) DO UPDATE SET table_name = excluded.table_name, definition = excluded.definition`,
		pb.Add(ent.Name), pb.Add(ent.Table), pb.Add(string(def)),
	)
	if _, err := s.DB.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("save entity %s: %w", ent.Name, s.Dialect.MapError(err))
	}
	return nil
}

// AddAccessRule appends a rule document to _access_rules at the given
// position and returns its id.
func (s *Store) AddAccessRule(ctx context.Context, position int, doc map[string]any) (string, error) {
	def, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal access rule: %w", err)
	}
	id := uuid.NewString()
	pb := s.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _access_rules (id, position, definition) VALUES (%s, %s, %s)",
		pb.Add(id), pb.Add(position), pb.Add(string(def)),
	)
	if _, err := s.DB.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		return "", fmt.Errorf("save access rule: %w", err)
	}
	log.Debug().Str("id", id).Int("position", position).Msg("Access rule stored")
	return id, nil
}
