package store

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// ErrInvalidQuery is wrapped by every error caused by a malformed predicate
// or payload, as opposed to a database failure.
var ErrInvalidQuery = errors.New("invalid query")

// BuildWhere renders w as a parameterized SQL boolean expression. Field
// conditions are ANDed in sorted field order; Or branches are grouped. An
// empty predicate renders "".
func BuildWhere(d Dialect, pb ParamBuilder, ent *metadata.Entity, w entity.Where) (string, error) {
	var parts []string

	fields := make([]string, 0, len(w.Fields))
	for f := range w.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !ent.HasField(field) {
			return "", fmt.Errorf("%w: unknown field %s on %s", ErrInvalidQuery, field, ent.Name)
		}
		cond := w.Fields[field]
		ops := make([]string, 0, len(cond))
		for op := range cond {
			ops = append(ops, op)
		}
		sort.Strings(ops)
		for _, op := range ops {
			clause, err := buildCondition(d, pb, field, op, cond[op])
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
		}
	}

	if len(w.Or) > 0 {
		branches := make([]string, 0, len(w.Or))
		for _, branch := range w.Or {
			sqlStr, err := BuildWhere(d, pb, ent, branch)
			if err != nil {
				return "", err
			}
			if sqlStr == "" {
				sqlStr = "1=1"
			}
			branches = append(branches, "("+sqlStr+")")
		}
		parts = append(parts, "("+strings.Join(branches, " OR ")+")")
	}

	return strings.Join(parts, " AND "), nil
}

func buildCondition(d Dialect, pb ParamBuilder, name, op string, value any) (string, error) {
	field := QuoteIdent(name)
	switch op {
	case entity.OpEq:
		if value == nil {
			return field + " IS NULL", nil
		}
		return fmt.Sprintf("%s = %s", field, pb.Add(value)), nil
	case entity.OpNeq:
		if value == nil {
			return field + " IS NOT NULL", nil
		}
		return fmt.Sprintf("%s != %s", field, pb.Add(value)), nil
	case entity.OpGt:
		return fmt.Sprintf("%s > %s", field, pb.Add(value)), nil
	case entity.OpGte:
		return fmt.Sprintf("%s >= %s", field, pb.Add(value)), nil
	case entity.OpLt:
		return fmt.Sprintf("%s < %s", field, pb.Add(value)), nil
	case entity.OpLte:
		return fmt.Sprintf("%s <= %s", field, pb.Add(value)), nil
	case entity.OpLike:
		return fmt.Sprintf("%s LIKE %s", field, pb.Add(value)), nil
	case entity.OpIn, entity.OpNotIn:
		values, ok := toSlice(value)
		if !ok {
			return "", fmt.Errorf("%w: %s on %s needs a list", ErrInvalidQuery, op, name)
		}
		if op == entity.OpIn {
			return d.InExpr(field, pb, values), nil
		}
		return d.NotInExpr(field, pb, values), nil
	}
	return "", fmt.Errorf("%w: unknown comparator %s on %s", ErrInvalidQuery, op, name)
}

func toSlice(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
