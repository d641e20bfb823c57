package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Register sqlite as database/sql driver

	"rocket-guard/internal/config"
	"rocket-guard/internal/entity"
)

var ErrUniqueViolation = errors.New("unique constraint violation")

// Querier is implemented by both *sql.DB and *sql.Tx.
type Querier = entity.Querier

// Store is the entity database: one connection pool and its dialect.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// New opens and pings the configured database. The driver defaults to
// postgres.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	dialect := NewDialect(driver)
	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := configurePool(ctx, db, driver, cfg); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Info().Str("driver", driver).Str("database", cfg.Name).Msg("Database connected")
	return &Store{DB: db, Dialect: dialect}, nil
}

func configurePool(ctx context.Context, db *sql.DB, driver string, cfg config.DatabaseConfig) error {
	if driver != "sqlite" {
		if cfg.PoolSize > 0 {
			db.SetMaxOpenConns(cfg.PoolSize)
		}
		return nil
	}

	// One writer. In-memory databases cannot use WAL.
	db.SetMaxOpenConns(1)
	pragmas := []string{"PRAGMA foreign_keys=ON"}
	if cfg.Path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() {
	s.DB.Close()
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// QueryRows runs a query and scans every row into an entity.Row. Columns in
// boolCols are converted from SQLite's 0/1 integers to bool.
func QueryRows(ctx context.Context, q Querier, boolCols map[string]bool, sqlStr string, args ...any) ([]entity.Row, error) {
	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	var out []entity.Row
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for rows.Next() {
		for i := range values {
			values[i] = nil
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(entity.Row, len(columns))
		for i, col := range columns {
			if boolCols[col] {
				row[col] = toBool(values[i])
				continue
			}
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// MapError maps a driver error to ErrUniqueViolation where it applies.
func MapError(dialect Dialect, err error) error {
	if err == nil {
		return nil
	}
	return dialect.MapError(err)
}

// normalizeValue turns driver values into JSON-friendly ones. SQLite hands
// back TEXT and timestamps as bytes.
func normalizeValue(v any) any {
	raw, ok := v.([]byte)
	if !ok {
		return v
	}
	s := string(raw)
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return s
}

func toBool(v any) any {
	switch val := v.(type) {
	case int64:
		return val != 0
	case int:
		return val != 0
	case float64:
		return val != 0
	default:
		return v
	}
}
