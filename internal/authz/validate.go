package authz

import (
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// validate checks every rule against the entity metadata. It runs before
// anything is installed so that a bad rule set never half-registers.
func (e *Engine) validate(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		r := &rules[i]
		if r.Role == "" {
			return &ConfigError{Entity: r.Entity, Message: fmt.Sprintf("rule #%d has no role", i)}
		}
		ent := e.registry.GetEntity(r.Entity)
		if ent == nil {
			msg := fmt.Sprintf("unknown entity %q in rule for role %s", r.Entity, r.Role)
			if s := nearest(r.Entity, e.registry.EntityNames()); s != "" {
				msg += fmt.Sprintf(", did you mean %q?", s)
			}
			return &ConfigError{Message: msg}
		}
		key := r.Role + "\x00" + r.Entity
		if seen[key] {
			return &ConfigError{Entity: r.Entity, Message: fmt.Sprintf("duplicate rule for role %s", r.Role)}
		}
		seen[key] = true

		for _, op := range []Operation{OpFind, OpSave, OpInsert, OpDelete, OpUpdateMany} {
			if err := validateClause(ent, op, r.Clause(op)); err != nil {
				return err
			}
		}
		for _, field := range sortedKeys(r.Defaults) {
			if !ent.HasField(field) {
				return unknownField(ent, field, "default")
			}
			d := r.Defaults[field]
			if d.Func == nil && d.Claim == "" {
				return &ConfigError{Entity: ent.Name, Field: field, Message: "default has neither claim nor function"}
			}
		}
		for _, op := range []Operation{OpSave, OpInsert} {
			if err := checkMandatoryFields(ent, r, r.Clause(op)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateClause(ent *metadata.Entity, op Operation, c Clause) error {
	switch c.Kind {
	case Custom:
		if c.Func == nil {
			return &ConfigError{Entity: ent.Name, Message: fmt.Sprintf("%s clause has no function", op)}
		}
	case Checked:
		for _, field := range sortedKeys(c.Checks) {
			if !ent.HasField(field) {
				return unknownField(ent, field, string(op)+" check")
			}
			chk := c.Checks[field]
			if !entity.IsComparator(chk.Comparator) {
				return &ConfigError{Entity: ent.Name, Field: field, Message: fmt.Sprintf("unknown comparator %q", chk.Comparator)}
			}
			if chk.Claim == "" {
				return &ConfigError{Entity: ent.Name, Field: field, Message: "check has no claim"}
			}
		}
		for _, field := range c.Fields {
			if !ent.HasField(field) {
				return unknownField(ent, field, string(op)+" fields")
			}
		}
	}
	return nil
}

// checkMandatoryFields enforces that a restrictive write allow-list still
// lets a client create a row: every NOT NULL column without a default must be
// writable or injected by a rule default.
func checkMandatoryFields(ent *metadata.Entity, r *Rule, c Clause) error {
	if c.Kind != Checked || c.Fields == nil {
		return nil
	}
	for _, field := range ent.MandatoryFields() {
		if c.AllowsField(field) {
			continue
		}
		if _, ok := r.Defaults[field]; ok {
			continue
		}
		return &ConfigError{
			Entity:  ent.Name,
			Field:   field,
			Message: fmt.Sprintf("non-nullable field %s is missing from the save fields of role %s", field, r.Role),
		}
	}
	return nil
}

func unknownField(ent *metadata.Entity, field, where string) error {
	msg := fmt.Sprintf("unknown field %q in %s", field, where)
	if s := nearest(field, ent.FieldNames()); s != "" {
		msg += fmt.Sprintf(", did you mean %q?", s)
	}
	return &ConfigError{Entity: ent.Name, Message: msg}
}

// nearest returns the candidate with the smallest edit distance to name,
// ties broken alphabetically. It returns "" when nothing is close enough to
// be a plausible typo.
func nearest(name string, candidates []string) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	best, bestDist := "", -1
	for _, c := range sorted {
		d := levenshtein.ComputeDistance(name, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > max(len(name), len(best))/2+1 {
		return ""
	}
	return best
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
