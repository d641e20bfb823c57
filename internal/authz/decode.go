package authz

import (
	"fmt"
	"strings"

	"rocket-guard/internal/entity"
)

// DecodeRules converts rule documents (as read from YAML, JSON or the
// _access_rules table) into rules, preserving their order.
//
// Clause values are true, false, null, {checks, fields} or {expr}. Check
// values are a claim name or {comparator: claim}. Defaults are a claim name
// or {expr}.
func DecodeRules(docs []map[string]any) ([]Rule, error) {
	rules := make([]Rule, 0, len(docs))
	for i, doc := range docs {
		r, err := decodeRule(doc)
		if err != nil {
			return nil, &ConfigError{Message: fmt.Sprintf("rule #%d: %v", i, err)}
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func decodeRule(doc map[string]any) (Rule, error) {
	doc = lowerKeys(doc)
	var r Rule
	var ok bool
	if r.Role, ok = doc["role"].(string); !ok || r.Role == "" {
		return Rule{}, fmt.Errorf("missing role")
	}
	if r.Entity, ok = doc["entity"].(string); !ok || r.Entity == "" {
		return Rule{}, fmt.Errorf("missing entity")
	}

	var err error
	if r.Find, err = decodeClause(doc["find"]); err != nil {
		return Rule{}, fmt.Errorf("find: %w", err)
	}
	if r.Save, err = decodeClause(doc["save"]); err != nil {
		return Rule{}, fmt.Errorf("save: %w", err)
	}
	if r.Delete, err = decodeClause(doc["delete"]); err != nil {
		return Rule{}, fmt.Errorf("delete: %w", err)
	}
	if raw, present := doc["insert"]; present {
		c, err := decodeClause(raw)
		if err != nil {
			return Rule{}, fmt.Errorf("insert: %w", err)
		}
		r.Insert = &c
	}
	for _, key := range []string{"updatemany", "update_many"} {
		if raw, present := doc[key]; present {
			c, err := decodeClause(raw)
			if err != nil {
				return Rule{}, fmt.Errorf("updateMany: %w", err)
			}
			r.UpdateMany = &c
		}
	}

	if raw, present := doc["defaults"]; present && raw != nil {
		defaults, ok := asDocument(raw)
		if !ok {
			return Rule{}, fmt.Errorf("defaults must be an object")
		}
		r.Defaults = make(map[string]Default, len(defaults))
		for field, spec := range defaults {
			d, err := decodeDefault(spec)
			if err != nil {
				return Rule{}, fmt.Errorf("defaults.%s: %w", field, err)
			}
			r.Defaults[field] = d
		}
	}
	return r, nil
}

func decodeClause(raw any) (Clause, error) {
	switch v := raw.(type) {
	case nil:
		return Deny(), nil
	case bool:
		if v {
			return Allow(), nil
		}
		return Deny(), nil
	}

	doc, ok := asDocument(raw)
	if !ok {
		return Clause{}, fmt.Errorf("unsupported clause %T", raw)
	}
	if src, ok := doc["expr"].(string); ok {
		return ExpressionClause(src)
	}

	c := Clause{Kind: Checked}
	if rawChecks, present := doc["checks"]; present && rawChecks != nil {
		checks, ok := asDocument(rawChecks)
		if !ok {
			return Clause{}, fmt.Errorf("checks must be an object")
		}
		c.Checks = make(map[string]Check, len(checks))
		for field, spec := range checks {
			chk, err := decodeCheck(spec)
			if err != nil {
				return Clause{}, fmt.Errorf("checks.%s: %w", field, err)
			}
			c.Checks[field] = chk
		}
	}
	if rawFields, present := doc["fields"]; present && rawFields != nil {
		list, ok := rawFields.([]any)
		if !ok {
			return Clause{}, fmt.Errorf("fields must be a list")
		}
		c.Fields = make([]string, 0, len(list))
		for _, f := range list {
			s, ok := f.(string)
			if !ok {
				return Clause{}, fmt.Errorf("fields must contain strings")
			}
			c.Fields = append(c.Fields, s)
		}
	}
	return c, nil
}

func decodeCheck(raw any) (Check, error) {
	if claim, ok := raw.(string); ok {
		return Check{Comparator: entity.OpEq, Claim: claim}, nil
	}
	doc, ok := asDocument(raw)
	if !ok || len(doc) != 1 {
		return Check{}, fmt.Errorf("check must be a claim name or {comparator: claim}")
	}
	for op, v := range doc {
		claim, ok := v.(string)
		if !ok {
			return Check{}, fmt.Errorf("claim for %s must be a string", op)
		}
		return Check{Comparator: op, Claim: claim}, nil
	}
	return Check{}, nil
}

func decodeDefault(raw any) (Default, error) {
	if claim, ok := raw.(string); ok {
		return FromClaim(claim), nil
	}
	doc, ok := asDocument(raw)
	if !ok {
		return Default{}, fmt.Errorf("default must be a claim name or {expr}")
	}
	src, ok := doc["expr"].(string)
	if !ok {
		return Default{}, fmt.Errorf("default object needs an expr")
	}
	return ExpressionDefault(src)
}

func asDocument(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprintf("%v", k)] = v
		}
		return out, true
	}
	return nil, false
}

// lowerKeys lower-cases the top-level keys; viper lower-cases nested keys
// anyway, so rule documents must not depend on key case.
func lowerKeys(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[strings.ToLower(k)] = v
	}
	return out
}
