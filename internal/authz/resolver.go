package authz

import "fmt"

// MergeStrategy selects how rules of several matching roles are combined.
type MergeStrategy string

const (
	// FirstMatch picks the first registered rule whose role the caller holds.
	FirstMatch MergeStrategy = "first-match"

	// MostPermissive ranks the clauses of every matching role and picks the
	// most permissive one for the requested operation.
	MostPermissive MergeStrategy = "most-permissive"
)

// ResolvedRule is the rule chosen for one (roles, entity, operation) call.
// It is computed per request and never cached.
type ResolvedRule struct {
	Rule   *Rule
	Clause Clause
}

type mergeFunc func(rules []*Rule, roles RoleSet, op Operation, adminRole string) *Rule

func mergeFor(strategy MergeStrategy) (mergeFunc, error) {
	switch strategy {
	case "", FirstMatch:
		return firstMatch, nil
	case MostPermissive:
		return mostPermissive, nil
	}
	return nil, &ConfigError{Message: fmt.Sprintf("unknown merge strategy %q", strategy)}
}

// firstMatch relies on the store keeping rules in registration order with
// the admin rule last.
func firstMatch(rules []*Rule, roles RoleSet, _ Operation, _ string) *Rule {
	for _, r := range rules {
		if roles.Contains(r.Role) {
			return r
		}
	}
	return nil
}

// mostPermissive considers the admin rule only when no other role matched.
func mostPermissive(rules []*Rule, roles RoleSet, op Operation, adminRole string) *Rule {
	var best, admin *Rule
	for _, r := range rules {
		if !roles.Contains(r.Role) {
			continue
		}
		if r.Role == adminRole {
			admin = r
			continue
		}
		if best == nil || morePermissive(r.Clause(op), best.Clause(op)) {
			best = r
		}
	}
	if best == nil {
		return admin
	}
	return best
}

// permissiveness ranks a clause: unrestricted > checked without checks >
// checked with checks or custom > forbidden.
func permissiveness(c Clause) int {
	switch c.Kind {
	case Unrestricted:
		return 3
	case Checked:
		if len(c.Checks) == 0 {
			return 2
		}
		return 1
	case Custom:
		return 1
	}
	return 0
}

// morePermissive reports whether a strictly beats b. Equal clauses keep the
// earlier registered rule.
func morePermissive(a, b Clause) bool {
	pa, pb := permissiveness(a), permissiveness(b)
	if pa != pb {
		return pa > pb
	}
	switch {
	case a.Fields == nil && b.Fields == nil:
		return false
	case a.Fields == nil:
		return true
	case b.Fields == nil:
		return false
	}
	return len(a.Fields) > len(b.Fields)
}

// Resolve selects the effective clause for op. It fails with ErrUnauthorized
// when no role has a rule for the entity or the winning clause forbids op.
func (e *Engine) Resolve(roles RoleSet, entityName string, op Operation) (ResolvedRule, error) {
	rule := e.merge(e.rules.rulesFor(entityName), roles, op, e.roles.adminRole())
	if rule == nil {
		return ResolvedRule{}, ErrUnauthorized
	}
	clause := rule.Clause(op)
	if !clause.Allowed() {
		return ResolvedRule{Rule: rule}, ErrUnauthorized
	}
	return ResolvedRule{Rule: rule, Clause: clause}, nil
}
