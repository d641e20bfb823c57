package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"rocket-guard/internal/metadata"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Migrate creates the entity's table, or adds the columns it is missing.
// Existing columns are never altered or dropped.
func (m *Migrator) Migrate(ctx context.Context, ent *metadata.Entity) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, ent.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}
	if !exists {
		return m.createTable(ctx, ent)
	}
	return m.alterTable(ctx, ent)
}

func (m *Migrator) createTable(ctx context.Context, ent *metadata.Entity) error {
	cols := make([]string, 0, len(ent.Fields))
	for i := range ent.Fields {
		cols = append(cols, m.columnDef(ent, &ent.Fields[i]))
	}

	sqlStr := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", QuoteIdent(ent.Table), strings.Join(cols, ",\n  "))
	if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create table %s: %w", ent.Table, err)
	}
	log.Info().Str("entity", ent.Name).Str("table", ent.Table).Msg("Table created")

	return m.createIndexes(ctx, ent)
}

func (m *Migrator) alterTable(ctx context.Context, ent *metadata.Entity) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, ent.Table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", ent.Table, err)
	}

	var added []string
	for _, f := range ent.Fields {
		if _, ok := existing[f.Name]; ok {
			continue
		}
		col := QuoteIdent(f.Name) + " " + m.store.Dialect.ColumnType(f.Type, f.Precision)
		if f.NotNull() {
			// Existing rows need a value for the new column.
			col += " NOT NULL DEFAULT " + m.backfill(f)
		}
		sqlStr := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdent(ent.Table), col)
		if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("add column %s.%s: %w", ent.Table, f.Name, err)
		}
		added = append(added, f.Name)
	}
	if len(added) > 0 {
		sort.Strings(added)
		log.Info().Str("entity", ent.Name).Strs("columns", added).Msg("Columns added")
	}

	return m.createIndexes(ctx, ent)
}

func (m *Migrator) columnDef(ent *metadata.Entity, f *metadata.Field) string {
	d := m.store.Dialect
	pk := ent.PrimaryKey
	isPK := f.Name == pk.Field
	name := QuoteIdent(f.Name)

	if isPK && pk.Generated && isIntegerType(pk.Type) {
		return name + " " + d.AutoIncrement(pk.Type) + " PRIMARY KEY"
	}

	col := name + " " + d.ColumnType(f.Type, f.Precision)
	if isPK {
		col += " PRIMARY KEY"
		if pk.Generated && pk.Type == "uuid" && d.UUIDDefault() != "" {
			col += " " + d.UUIDDefault()
		}
		return col
	}

	if f.NotNull() {
		col += " NOT NULL"
	}
	switch {
	case f.IsAuto():
		col += " DEFAULT " + m.now()
	case f.Default != nil:
		col += " DEFAULT " + m.literal(f.Default)
	}
	return col
}

func (m *Migrator) now() string {
	if m.store.Dialect.Name() == "sqlite" {
		return "(datetime('now'))"
	}
	return "NOW()"
}

// literal renders a field default as a SQL literal.
func (m *Migrator) literal(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if m.store.Dialect.Name() == "sqlite" {
			if val {
				return "1"
			}
			return "0"
		}
		return fmt.Sprintf("%t", val)
	case float64, float32, int, int64, int32:
		return fmt.Sprintf("%v", val)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(val), "'", "''") + "'"
	}
}

// backfill is the value given to existing rows when a NOT NULL column is
// added: the field default, or the zero value of its type.
func (m *Migrator) backfill(f metadata.Field) string {
	if f.Default != nil {
		return m.literal(f.Default)
	}
	switch {
	case f.IsAuto(), f.Type == "timestamp", f.Type == "date":
		// SQLite only accepts constant defaults on ADD COLUMN.
		if m.store.Dialect.Name() == "sqlite" {
			return "'1970-01-01 00:00:00'"
		}
		return m.now()
	case f.IsBoolean():
		return m.literal(false)
	case isIntegerType(f.Type), f.Type == "decimal", f.Type == "float":
		return "0"
	default:
		return "''"
	}
}

func (m *Migrator) createIndexes(ctx context.Context, ent *metadata.Entity) error {
	for _, f := range ent.Fields {
		if !f.Unique {
			continue
		}
		sqlStr := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			QuoteIdent("idx_"+ent.Table+"_"+f.Name), QuoteIdent(ent.Table), QuoteIdent(f.Name))
		if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("create unique index on %s.%s: %w", ent.Table, f.Name, err)
		}
	}
	return nil
}

func isIntegerType(t string) bool {
	return t == "int" || t == "integer" || t == "bigint"
}

// GenerateUUID returns a new random UUID for dialects without a database-side
// generator.
func GenerateUUID() string {
	return uuid.NewString()
}
