package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// Repository implements entity.Operations for one entity over database/sql.
// Every operation runs on the caller's Tx when one is supplied.
type Repository struct {
	store  *Store
	entity *metadata.Entity
}

func NewRepository(s *Store, ent *metadata.Entity) *Repository {
	return &Repository{store: s, entity: ent}
}

var _ entity.Operations = (*Repository)(nil)

func (r *Repository) querier(tx entity.Querier) entity.Querier {
	if tx != nil {
		return tx
	}
	return r.store.DB
}

// columns validates a projection; an empty projection selects every field.
func (r *Repository) columns(fields []string) (string, error) {
	if len(fields) == 0 {
		return quoteIdents(r.entity.FieldNames()), nil
	}
	for _, f := range fields {
		if !r.entity.HasField(f) {
			return "", fmt.Errorf("%w: unknown field %s on %s", ErrInvalidQuery, f, r.entity.Name)
		}
	}
	return quoteIdents(fields), nil
}

// boolColumns lists the columns stored as integers that read back as bool.
func (r *Repository) boolColumns() map[string]bool {
	if !r.store.Dialect.NeedsBoolFix() {
		return nil
	}
	out := make(map[string]bool)
	for _, f := range r.entity.Fields {
		if f.IsBoolean() {
			out[f.Name] = true
		}
	}
	return out
}

func (r *Repository) query(ctx context.Context, q entity.Querier, sqlStr string, params []any) ([]entity.Row, error) {
	rows, err := QueryRows(ctx, q, r.boolColumns(), sqlStr, params...)
	if err != nil {
		return nil, r.store.Dialect.MapError(err)
	}
	return rows, nil
}

// Find selects rows matching args.Where, ordered by primary key. The
// "limit" and "offset" options page the result.
func (r *Repository) Find(ctx context.Context, args entity.FindArgs) ([]entity.Row, error) {
	cols, err := r.columns(args.Fields)
	if err != nil {
		return nil, err
	}
	pb := r.store.Dialect.NewParamBuilder()
	where, err := BuildWhere(r.store.Dialect, pb, r.entity, args.Where)
	if err != nil {
		return nil, err
	}

	sqlStr := fmt.Sprintf("SELECT %s FROM %s", cols, QuoteIdent(r.entity.Table))
	if where != "" {
		sqlStr += " WHERE " + where
	}
	if pk := r.entity.PrimaryKey.Field; pk != "" {
		sqlStr += " ORDER BY " + QuoteIdent(pk)
	}
	if limit, ok := intOption(args.Options, "limit"); ok && limit > 0 {
		sqlStr += " LIMIT " + pb.Add(limit)
		if offset, ok := intOption(args.Options, "offset"); ok && offset > 0 {
			sqlStr += " OFFSET " + pb.Add(offset)
		}
	}

	rows, err := r.query(ctx, r.querier(args.Tx), sqlStr, pb.Params())
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.entity.Name, err)
	}
	return rows, nil
}

// Count returns the number of rows matching args.Where.
func (r *Repository) Count(ctx context.Context, args entity.CountArgs) (int64, error) {
	pb := r.store.Dialect.NewParamBuilder()
	where, err := BuildWhere(r.store.Dialect, pb, r.entity, args.Where)
	if err != nil {
		return 0, err
	}
	sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM %s", QuoteIdent(r.entity.Table))
	if where != "" {
		sqlStr += " WHERE " + where
	}
	var n int64
	if err := r.querier(args.Tx).QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.entity.Name, err)
	}
	return n, nil
}

// Save updates the row identified by the input's primary key, or inserts a
// new row when the key is absent or matches nothing.
func (r *Repository) Save(ctx context.Context, args entity.SaveArgs) (entity.Row, error) {
	q := r.querier(args.Tx)
	if pkWhere, ok := r.primaryKeyWhere(args.Input); ok {
		set := make(entity.Row, len(args.Input))
		for k, v := range args.Input {
			if !r.entity.IsPrimaryKey(k) {
				set[k] = v
			}
		}
		rows, err := r.update(ctx, q, pkWhere, set, args.Fields)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows[0], nil
		}
	}
	return r.insert(ctx, q, args.Input, args.Fields)
}

// Insert writes every input row inside one transaction: the caller's when
// supplied, a local one otherwise.
func (r *Repository) Insert(ctx context.Context, args entity.InsertArgs) ([]entity.Row, error) {
	if args.Tx != nil {
		return r.insertAll(ctx, args.Tx, args.Inputs, args.Fields)
	}

	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := r.insertAll(ctx, tx, args.Inputs, args.Fields)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return rows, nil
}

func (r *Repository) insertAll(ctx context.Context, q entity.Querier, inputs []entity.Row, fields []string) ([]entity.Row, error) {
	out := make([]entity.Row, 0, len(inputs))
	for _, input := range inputs {
		row, err := r.insert(ctx, q, input, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Delete removes the rows matching args.Where and returns them.
func (r *Repository) Delete(ctx context.Context, args entity.DeleteArgs) ([]entity.Row, error) {
	cols, err := r.columns(args.Fields)
	if err != nil {
		return nil, err
	}
	pb := r.store.Dialect.NewParamBuilder()
	where, err := BuildWhere(r.store.Dialect, pb, r.entity, args.Where)
	if err != nil {
		return nil, err
	}
	sqlStr := fmt.Sprintf("DELETE FROM %s", QuoteIdent(r.entity.Table))
	if where != "" {
		sqlStr += " WHERE " + where
	}
	sqlStr += " RETURNING " + cols

	rows, err := r.query(ctx, r.querier(args.Tx), sqlStr, pb.Params())
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", r.entity.Name, err)
	}
	return rows, nil
}

// UpdateMany applies args.Input to every row matching args.Where.
func (r *Repository) UpdateMany(ctx context.Context, args entity.UpdateManyArgs) ([]entity.Row, error) {
	return r.update(ctx, r.querier(args.Tx), args.Where, args.Input, args.Fields)
}

func (r *Repository) update(ctx context.Context, q entity.Querier, w entity.Where, input entity.Row, fields []string) ([]entity.Row, error) {
	cols, err := r.columns(fields)
	if err != nil {
		return nil, err
	}
	keys, err := r.writableKeys(input)
	if err != nil {
		return nil, err
	}

	pb := r.store.Dialect.NewParamBuilder()
	var sets []string
	for _, k := range keys {
		sets = append(sets, fmt.Sprintf("%s = %s", QuoteIdent(k), pb.Add(input[k])))
	}
	for _, f := range r.entity.Fields {
		if f.Auto == "update" {
			sets = append(sets, QuoteIdent(f.Name)+" = CURRENT_TIMESTAMP")
		}
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: nothing to update on %s", ErrInvalidQuery, r.entity.Name)
	}

	where, err := BuildWhere(r.store.Dialect, pb, r.entity, w)
	if err != nil {
		return nil, err
	}
	sqlStr := fmt.Sprintf("UPDATE %s SET %s", QuoteIdent(r.entity.Table), strings.Join(sets, ", "))
	if where != "" {
		sqlStr += " WHERE " + where
	}
	sqlStr += " RETURNING " + cols

	rows, err := r.query(ctx, q, sqlStr, pb.Params())
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", r.entity.Name, err)
	}
	return rows, nil
}

func (r *Repository) insert(ctx context.Context, q entity.Querier, input entity.Row, fields []string) (entity.Row, error) {
	cols, err := r.columns(fields)
	if err != nil {
		return nil, err
	}
	values := make(entity.Row, len(input)+1)
	for k, v := range input {
		values[k] = v
	}
	pk := r.entity.PrimaryKey
	if pk.Generated && pk.Type == "uuid" && r.store.Dialect.UUIDDefault() == "" {
		if _, ok := values[pk.Field]; !ok {
			values[pk.Field] = GenerateUUID()
		}
	}
	keys, err := r.writableKeys(values)
	if err != nil {
		return nil, err
	}

	var sqlStr string
	pb := r.store.Dialect.NewParamBuilder()
	if len(keys) == 0 {
		sqlStr = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", QuoteIdent(r.entity.Table), cols)
	} else {
		phs := make([]string, len(keys))
		for i, k := range keys {
			phs[i] = pb.Add(values[k])
		}
		sqlStr = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			QuoteIdent(r.entity.Table), quoteIdents(keys), strings.Join(phs, ", "), cols)
	}

	rows, err := r.query(ctx, q, sqlStr, pb.Params())
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", r.entity.Name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: %w", r.entity.Name, sql.ErrNoRows)
	}
	return rows[0], nil
}

// writableKeys returns the sorted payload keys, rejecting unknown fields.
func (r *Repository) writableKeys(input entity.Row) ([]string, error) {
	keys := make([]string, 0, len(input))
	for k := range input {
		if !r.entity.HasField(k) {
			return nil, fmt.Errorf("%w: unknown field %s on %s", ErrInvalidQuery, k, r.entity.Name)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Repository) primaryKeyWhere(input entity.Row) (entity.Where, bool) {
	pks := r.entity.PrimaryKeys()
	if len(pks) == 0 {
		return entity.Where{}, false
	}
	var w entity.Where
	for _, pk := range pks {
		v, ok := input[pk]
		if !ok || v == nil {
			return entity.Where{}, false
		}
		w.Set(pk, entity.OpEq, v)
	}
	return w, true
}

func intOption(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
