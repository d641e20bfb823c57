package authz

import (
	"sort"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// CheckReadFields verifies a read projection against the clause's
// allow-list. An empty projection stands for every field of the entity.
func CheckReadFields(c Clause, ent *metadata.Entity, fields []string) error {
	if c.Fields == nil {
		return nil
	}
	if len(fields) == 0 {
		fields = ent.FieldNames()
	}
	for _, f := range fields {
		if !c.AllowsField(f) {
			return &FieldError{Field: f}
		}
	}
	return nil
}

// CheckWriteFields verifies that every key of every payload is in the
// clause's allow-list. Keys are visited in sorted order so the reported
// field is stable.
func CheckWriteFields(c Clause, inputs ...entity.Row) error {
	if c.Fields == nil {
		return nil
	}
	for _, input := range inputs {
		keys := make([]string, 0, len(input))
		for k := range input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !c.AllowsField(k) {
				return &FieldError{Field: k}
			}
		}
	}
	return nil
}
