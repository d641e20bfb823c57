package entity

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Matches evaluates the predicate against an in-memory row with the same
// meaning the store gives it in SQL: eq and neq against nil test for NULL,
// any other comparison against a missing value is false. Numbers compare by
// value whatever their Go type, so rows decoded from JSON still match.
func (w Where) Matches(row Row) bool {
	for field, cond := range w.Fields {
		for op, want := range cond {
			if !matchCondition(op, row[field], want) {
				return false
			}
		}
	}
	if len(w.Or) == 0 {
		return true
	}
	for _, branch := range w.Or {
		if branch.Matches(row) {
			return true
		}
	}
	return false
}

func matchCondition(op string, got, want any) bool {
	switch op {
	case OpEq:
		if want == nil || got == nil {
			return want == nil && got == nil
		}
		c, ok := compare(got, want)
		return ok && c == 0
	case OpNeq:
		if want == nil || got == nil {
			return want == nil && got != nil
		}
		c, ok := compare(got, want)
		return ok && c != 0
	case OpGt, OpGte, OpLt, OpLte:
		if got == nil || want == nil {
			return false
		}
		c, ok := compare(got, want)
		if !ok {
			return false
		}
		switch op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn, OpNotIn:
		if got == nil {
			return false
		}
		found := false
		for _, v := range listValues(want) {
			if c, ok := compare(got, v); ok && c == 0 {
				found = true
				break
			}
		}
		return found == (op == OpIn)
	case OpLike:
		s, ok := got.(string)
		pattern, pok := want.(string)
		return ok && pok && likePattern(pattern).MatchString(s)
	}
	return false
}

// compare orders two values. The second result is false when they are not
// comparable.
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := a.(bool); ok {
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return strings.Compare(toText(a), toText(b)), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func toText(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}

func listValues(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// likePattern translates SQL LIKE wildcards into an anchored regexp.
func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
