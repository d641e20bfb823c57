package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

// FindRequest is a parsed list/count/delete query.
type FindRequest struct {
	Where   entity.Where
	Fields  []string
	Page    int
	PerPage int
}

// Options returns the pass-through paging options for the entity layer.
func (r *FindRequest) Options() map[string]any {
	return map[string]any{
		"limit":  r.PerPage,
		"offset": (r.Page - 1) * r.PerPage,
	}
}

// ParseFindRequest reads the predicate, projection and paging from query
// parameters. The predicate is the JSON `where` parameter combined with any
// filter[field] or filter[field.op] parameters.
func ParseFindRequest(c *fiber.Ctx, ent *metadata.Entity) (*FindRequest, error) {
	req := &FindRequest{Page: 1, PerPage: defaultPerPage}

	if raw := c.Query("where"); raw != "" {
		w, err := parseWhereJSON([]byte(raw))
		if err != nil {
			return nil, err
		}
		req.Where = w
	}

	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		field, op := parseFilterKey(key[7 : len(key)-1])
		f := ent.GetField(field)
		if f == nil {
			return nil, &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown filter field: %s", field),
			}
		}
		if !entity.IsComparator(op) {
			return nil, InvalidPayloadError(fmt.Sprintf("Unknown filter operator: %s", op))
		}
		coerced, err := coerceValue(f, val, op)
		if err != nil {
			return nil, InvalidPayloadError(fmt.Sprintf("Invalid filter value for %s: %v", field, err))
		}
		req.Where.Set(field, op, coerced)
	}

	req.Fields = splitFields(c.Query("fields"))

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			req.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			req.PerPage = min(v, maxPerPage)
		}
	}

	return req, nil
}

func parseWhereJSON(raw []byte) (entity.Where, error) {
	var doc map[string]any
	if err := decodeJSON(raw, &doc); err != nil {
		return entity.Where{}, InvalidPayloadError("Invalid where: " + err.Error())
	}
	w, err := entity.ParseWhere(doc)
	if err != nil {
		return entity.Where{}, InvalidPayloadError("Invalid where: " + err.Error())
	}
	return w, nil
}

// decodeJSON unmarshals keeping integral numbers as int64.
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	switch out := v.(type) {
	case *map[string]any:
		*out = normalizeNumbers(*out).(map[string]any)
	case *[]any:
		*out = normalizeNumbers(*out).([]any)
	}
	return nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeNumbers(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeNumbers(inner)
		}
		return val
	}
	return v
}

// splitFields parses a comma-separated projection; "" means no projection.
func splitFields(raw string) []string {
	var fields []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// parseFilterKey splits "total.gte" into ("total", "gte") or "status" into ("status", "eq").
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}

// coerceValue converts string query param values to appropriate Go types based on field metadata.
func coerceValue(field *metadata.Field, val string, op string) (any, error) {
	if op == entity.OpIn || op == entity.OpNotIn {
		parts := strings.Split(val, ",")
		coerced := make([]any, len(parts))
		for i, p := range parts {
			v, err := coerceSingleValue(field, strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			coerced[i] = v
		}
		return coerced, nil
	}
	if val == "null" && (op == entity.OpEq || op == entity.OpNeq) {
		return nil, nil
	}

	return coerceSingleValue(field, val)
}

func coerceSingleValue(field *metadata.Field, val string) (any, error) {
	switch field.Type {
	case "int", "integer", "bigint":
		return strconv.ParseInt(val, 10, 64)
	case "decimal", "float":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
