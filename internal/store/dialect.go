package store

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"strings"
)

// Dialect is the database-specific part of the store: DDL types,
// placeholders, schema introspection and error mapping.
type Dialect interface {
	Name() string
	DriverName() string
	NewParamBuilder() ParamBuilder

	// UUIDDefault is the DDL default for generated UUID keys, or "" when the
	// application generates them.
	UUIDDefault() string
	ColumnType(fieldType string, precision int) string
	AutoIncrement(fieldType string) string
	SystemTablesSQL() string

	TableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error)
	// GetColumns maps existing column names to their database types.
	GetColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]string, error)

	// InExpr and NotInExpr render list membership. An empty list is always
	// false for IN and always true for NOT IN.
	InExpr(field string, pb ParamBuilder, values []any) string
	NotInExpr(field string, pb ParamBuilder, values []any) string

	// MapError wraps unique-constraint failures with ErrUniqueViolation.
	MapError(err error) error
	// NeedsBoolFix reports whether booleans are stored as integers.
	NeedsBoolFix() bool
}

var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedIdents are SQL keywords likely to show up as entity or field names.
var reservedIdents = map[string]bool{
	"user": true, "order": true, "group": true, "select": true, "table": true,
	"from": true, "where": true, "limit": true, "offset": true, "default": true,
	"check": true, "column": true, "primary": true, "references": true, "end": true,
}

// QuoteIdent double-quotes an identifier unless it is a plain lower-case
// name. Postgres folds unquoted names to lower case, which would lose
// camelCase fields such as userId.
func QuoteIdent(name string) string {
	if plainIdent.MatchString(name) && !reservedIdents[name] {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// ParamBuilder collects query arguments and hands out their placeholders.
type ParamBuilder interface {
	Add(v any) string
	Params() []any
	Count() int
}

func NewDialect(driver string) Dialect {
	if driver == "sqlite" {
		return &SQLiteDialect{}
	}
	return &PostgresDialect{}
}

// paramBuilder numbers placeholders from 1: $1 for postgres, ?1 for sqlite.
type paramBuilder struct {
	prefix string
	params []any
}

func (p *paramBuilder) Add(v any) string {
	p.params = append(p.params, v)
	return p.prefix + strconv.Itoa(len(p.params))
}

func (p *paramBuilder) Params() []any { return p.params }
func (p *paramBuilder) Count() int    { return len(p.params) }

// expandList renders "field IN (?1, ?2)" style membership with one
// placeholder per value.
func expandList(field, op string, pb ParamBuilder, values []any) string {
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return field + " " + op + " (" + strings.Join(phs, ", ") + ")"
}
