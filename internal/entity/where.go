package entity

import (
	"fmt"
	"sort"
)

// Supported comparators inside a Condition.
const (
	OpEq    = "eq"
	OpNeq   = "neq"
	OpGt    = "gt"
	OpGte   = "gte"
	OpLt    = "lt"
	OpLte   = "lte"
	OpIn    = "in"
	OpNotIn = "not_in"
	OpLike  = "like"
)

// OrKey is the document key holding alternative branches of a Where.
const OrKey = "or"

var comparators = map[string]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true,
	OpLte: true, OpIn: true, OpNotIn: true, OpLike: true,
}

// IsComparator reports whether op is a known comparator.
func IsComparator(op string) bool {
	return comparators[op]
}

// Condition maps a comparator to its operand, e.g. {"eq": 42}.
type Condition map[string]any

// Where is the predicate tree understood by the entity layer. All field
// conditions are ANDed together; when Or is non-empty, at least one branch
// must also hold.
type Where struct {
	Fields map[string]Condition
	Or     []Where
}

// Set merges a single comparator into the predicate, overwriting only that
// field/comparator pair.
func (w *Where) Set(field, op string, value any) {
	if w.Fields == nil {
		w.Fields = make(map[string]Condition)
	}
	cond := w.Fields[field]
	if cond == nil {
		cond = make(Condition)
		w.Fields[field] = cond
	}
	cond[op] = value
}

// IsEmpty returns true if the predicate does not restrict anything.
func (w Where) IsEmpty() bool {
	return len(w.Fields) == 0 && len(w.Or) == 0
}

// FieldNames returns the constrained field names, sorted, including those
// referenced inside Or branches.
func (w Where) FieldNames() []string {
	seen := make(map[string]bool)
	w.collectFields(seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (w Where) collectFields(seen map[string]bool) {
	for name := range w.Fields {
		seen[name] = true
	}
	for _, branch := range w.Or {
		branch.collectFields(seen)
	}
}

// Clone returns a deep copy of the predicate structure. Operand values are
// shared.
func (w Where) Clone() Where {
	out := Where{}
	if w.Fields != nil {
		out.Fields = make(map[string]Condition, len(w.Fields))
		for field, cond := range w.Fields {
			c := make(Condition, len(cond))
			for op, v := range cond {
				c[op] = v
			}
			out.Fields[field] = c
		}
	}
	for _, branch := range w.Or {
		out.Or = append(out.Or, branch.Clone())
	}
	return out
}

// Document renders the predicate as a generic map, the shape used by rule
// expressions and JSON query parameters.
func (w Where) Document() map[string]any {
	doc := make(map[string]any, len(w.Fields)+1)
	for field, cond := range w.Fields {
		c := make(map[string]any, len(cond))
		for op, v := range cond {
			c[op] = v
		}
		doc[field] = c
	}
	if len(w.Or) > 0 {
		branches := make([]any, len(w.Or))
		for i, branch := range w.Or {
			branches[i] = branch.Document()
		}
		doc[OrKey] = branches
	}
	return doc
}

// ParseWhere converts a generic document ({"field": {"eq": v}, "or": [...]})
// into a Where. A bare value is shorthand for {"eq": value}.
func ParseWhere(doc map[string]any) (Where, error) {
	var w Where
	for key, raw := range doc {
		if key == OrKey {
			branches, ok := raw.([]any)
			if !ok {
				return Where{}, fmt.Errorf("where: %q must be a list", OrKey)
			}
			for i, b := range branches {
				bdoc, ok := toDocument(b)
				if !ok {
					return Where{}, fmt.Errorf("where: or[%d] must be an object", i)
				}
				branch, err := ParseWhere(bdoc)
				if err != nil {
					return Where{}, err
				}
				w.Or = append(w.Or, branch)
			}
			continue
		}

		cdoc, ok := toDocument(raw)
		if !ok {
			w.Set(key, OpEq, raw)
			continue
		}
		for op, v := range cdoc {
			if !IsComparator(op) {
				return Where{}, fmt.Errorf("where: unknown comparator %q on field %s", op, key)
			}
			w.Set(key, op, v)
		}
	}
	return w, nil
}

func toDocument(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Condition:
		return map[string]any(m), true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	}
	return nil, false
}
