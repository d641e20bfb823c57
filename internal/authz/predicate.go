package authz

import (
	"context"
	"fmt"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// BuildPredicate merges the row constraints of clause c into where.
//
// Unrestricted clauses return where unchanged. Checked clauses set
// {field: {comparator: claimValue}} for each check, leaving every other
// caller-supplied condition intact; a missing claim fails closed. Custom
// clauses return whatever their function returns. The caller's where is
// never modified.
func BuildPredicate(ctx context.Context, c Clause, where entity.Where, user *metadata.UserContext) (entity.Where, error) {
	switch c.Kind {
	case Unrestricted:
		return where, nil
	case Checked:
		where = where.Clone()
		for _, field := range sortedKeys(c.Checks) {
			chk := c.Checks[field]
			v, ok := user.Claim(chk.Claim)
			if !ok || v == nil {
				return entity.Where{}, ErrUnauthorized
			}
			where.Set(field, chk.Comparator, v)
		}
		return where, nil
	case Custom:
		out, err := c.Func(ctx, user, where)
		if err != nil {
			return entity.Where{}, fmt.Errorf("custom rule: %w", err)
		}
		return out, nil
	}
	return entity.Where{}, ErrUnauthorized
}

// primaryKeyWhere returns {pk: {eq: input[pk]}} for every primary key, and
// false if the input does not carry all of them.
func primaryKeyWhere(ent *metadata.Entity, input entity.Row) (entity.Where, bool) {
	pks := ent.PrimaryKeys()
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
