package authz

import (
	"context"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// Operation names an intercepted entity operation.
type Operation string

const (
	OpFind       Operation = "find"
	OpCount      Operation = "count"
	OpSave       Operation = "save"
	OpInsert     Operation = "insert"
	OpDelete     Operation = "delete"
	OpUpdateMany Operation = "updateMany"
)

// ClauseKind tags the variant held by a Clause.
type ClauseKind int

const (
	// Forbidden is the zero value: an absent clause forbids the operation.
	Forbidden ClauseKind = iota
	Unrestricted
	Checked
	Custom
)

func (k ClauseKind) String() string {
	switch k {
	case Unrestricted:
		return "unrestricted"
	case Checked:
		return "checked"
	case Custom:
		return "custom"
	default:
		return "forbidden"
	}
}

// PredicateFunc computes the predicate for a Custom clause. Its return value
// replaces the caller's predicate verbatim.
type PredicateFunc func(ctx context.Context, user *metadata.UserContext, where entity.Where) (entity.Where, error)

// DefaultFunc computes a default value for one input row.
type DefaultFunc func(ctx context.Context, user *metadata.UserContext, input entity.Row) (any, error)

// Check compares a row field against a claim of the caller.
type Check struct {
	Comparator string
	Claim      string
}

// Clause is the permission for one operation within a Rule.
type Clause struct {
	Kind ClauseKind

	// Checks and Fields apply to Checked clauses. A nil Fields allows every
	// field.
	Checks map[string]Check
	Fields []string

	// Func applies to Custom clauses.
	Func PredicateFunc
}

// Allow returns an unrestricted clause.
func Allow() Clause { return Clause{Kind: Unrestricted} }

// Deny returns a forbidden clause.
func Deny() Clause { return Clause{} }

// Checks returns a Checked clause built from field → claim shorthands.
func Checks(checks map[string]string) Clause {
	c := Clause{Kind: Checked, Checks: make(map[string]Check, len(checks))}
	for field, claim := range checks {
		c.Checks[field] = Check{Comparator: entity.OpEq, Claim: claim}
	}
	return c
}

// CustomClause returns a clause backed by fn.
func CustomClause(fn PredicateFunc) Clause { return Clause{Kind: Custom, Func: fn} }

// WithFields returns a copy of c restricted to the given allow-list.
func (c Clause) WithFields(fields ...string) Clause {
	if c.Kind == Unrestricted {
		c.Kind = Checked
	}
	c.Fields = fields
	return c
}

// Allowed reports whether the clause permits the operation at all.
func (c Clause) Allowed() bool {
	return c.Kind != Forbidden
}

// restrictsRows reports whether the clause narrows which rows are visible.
func (c Clause) restrictsRows() bool {
	return c.Kind == Custom || (c.Kind == Checked && len(c.Checks) > 0)
}

// AllowsField reports whether field is in the allow-list.
func (c Clause) AllowsField(field string) bool {
	if c.Fields == nil {
		return true
	}
	for _, f := range c.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Default is a rule-declared default value: either a claim name or a
// computed function.
type Default struct {
	Claim string
	Func  DefaultFunc
}

// FromClaim returns a Default copying the named claim.
func FromClaim(claim string) Default { return Default{Claim: claim} }

// Computed returns a Default backed by fn.
func Computed(fn DefaultFunc) Default { return Default{Func: fn} }

// Rule is the access policy of one role on one entity.
type Rule struct {
	Role   string
	Entity string

	Find   Clause
	Save   Clause
	Delete Clause

	// Insert and UpdateMany fall back to Save when nil.
	Insert     *Clause
	UpdateMany *Clause

	Defaults map[string]Default
}

// Clause returns the clause governing op.
func (r *Rule) Clause(op Operation) Clause {
	switch op {
	case OpFind, OpCount:
		return r.Find
	case OpSave:
		return r.Save
	case OpInsert:
		if r.Insert != nil {
			return *r.Insert
		}
		return r.Save
	case OpDelete:
		return r.Delete
	case OpUpdateMany:
		if r.UpdateMany != nil {
			return *r.UpdateMany
		}
		return r.Save
	}
	return Deny()
}
