package authz

import (
	"context"
	"fmt"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// Undecorated entity operations, as handed to the hooks by the host.
type (
	FindFunc       func(ctx context.Context, args entity.FindArgs) ([]entity.Row, error)
	CountFunc      func(ctx context.Context, args entity.CountArgs) (int64, error)
	SaveFunc       func(ctx context.Context, args entity.SaveArgs) (entity.Row, error)
	InsertFunc     func(ctx context.Context, args entity.InsertArgs) ([]entity.Row, error)
	DeleteFunc     func(ctx context.Context, args entity.DeleteArgs) ([]entity.Row, error)
	UpdateManyFunc func(ctx context.Context, args entity.UpdateManyArgs) ([]entity.Row, error)
)

// stage names the step of an interception, reported when a call is rejected.
type stage string

const (
	stageRule      stage = "rule_resolved"
	stageFields    stage = "fields_checked"
	stagePredicate stage = "predicate_built"
	stageDefaults  stage = "defaults_applied"
)

// Hooks intercepts the operations of a single entity. Each hook runs
// role resolution, rule resolution, field checks, predicate building and
// defaults injection, then delegates to the original operation and returns
// its result verbatim.
type Hooks struct {
	engine *Engine
	entity *metadata.Entity
	find   FindFunc
}

// Hooks returns the hook set of an entity. find is the undecorated find of
// the same entity, used by the read-back that guards updates through save.
func (e *Engine) Hooks(entityName string, find FindFunc) (*Hooks, error) {
	ent := e.registry.GetEntity(entityName)
	if ent == nil {
		return nil, &ConfigError{Entity: entityName, Message: "unknown entity"}
	}
	return &Hooks{engine: e, entity: ent, find: find}, nil
}

type call struct {
	user     *metadata.UserContext
	roles    RoleSet
	resolved ResolvedRule
}

// begin runs the bypass check and resolves roles and the rule. bypass is
// true when the call must be passed through untouched.
func (h *Hooks) begin(ctx context.Context, op Operation, skipAuth *bool) (c call, bypass bool, err error) {
	req := entity.RequestFrom(ctx)
	if skipAuth != nil && *skipAuth {
		h.engine.recordBypass(h.entity.Name, op)
		return call{}, true, nil
	}
	if req == nil {
		if skipAuth != nil {
			return call{}, false, &ConfigError{Entity: h.entity.Name, Message: fmt.Sprintf("%s: skipAuth=false requires a request context", op)}
		}
		h.engine.recordBypass(h.entity.Name, op)
		return call{}, true, nil
	}
	if !h.engine.rules.isFrozen() {
		return call{}, false, &ConfigError{Message: "rules have not been registered"}
	}

	c.user = req.User
	c.roles = h.engine.Roles(c.user)
	c.resolved, err = h.engine.Resolve(c.roles, h.entity.Name, op)
	if err != nil {
		return c, false, h.reject(op, stageRule, c, err)
	}
	return c, false, nil
}

func (h *Hooks) reject(op Operation, st stage, c call, err error) error {
	h.engine.log.Debug().
		Str("entity", h.entity.Name).
		Str("operation", string(op)).
		Str("stage", string(st)).
		Strs("roles", c.roles).
		Err(err).
		Msg("Operation rejected")
	h.engine.record(h.entity.Name, op, err)
	return err
}

func (h *Hooks) allow(op Operation, c call) {
	role := ""
	if c.resolved.Rule != nil {
		role = c.resolved.Rule.Role
	}
	h.engine.log.Debug().
		Str("entity", h.entity.Name).
		Str("operation", string(op)).
		Str("role", role).
		Msg("Operation allowed")
	h.engine.record(h.entity.Name, op, nil)
}

// Find checks the read projection and narrows the predicate.
func (h *Hooks) Find(ctx context.Context, original FindFunc, args entity.FindArgs) ([]entity.Row, error) {
	c, bypass, err := h.begin(ctx, OpFind, args.SkipAuth)
	if err != nil {
		return nil, err
	}
	if bypass {
		return original(ctx, args)
	}
	if err := CheckReadFields(c.resolved.Clause, h.entity, args.Fields); err != nil {
		return nil, h.reject(OpFind, stageFields, c, err)
	}
	where, err := BuildPredicate(ctx, c.resolved.Clause, args.Where, c.user)
	if err != nil {
		return nil, h.reject(OpFind, stagePredicate, c, err)
	}
	args.Where = where
	h.allow(OpFind, c)
	return original(ctx, args)
}

// Count narrows the predicate with the find clause.
func (h *Hooks) Count(ctx context.Context, original CountFunc, args entity.CountArgs) (int64, error) {
	c, bypass, err := h.begin(ctx, OpCount, args.SkipAuth)
	if err != nil {
		return 0, err
	}
	if bypass {
		return original(ctx, args)
	}
	where, err := BuildPredicate(ctx, c.resolved.Clause, args.Where, c.user)
	if err != nil {
		return 0, h.reject(OpCount, stagePredicate, c, err)
	}
	args.Where = where
	h.allow(OpCount, c)
	return original(ctx, args)
}

// Save checks the payload, verifies ownership of an existing row through a
// read-back in the caller's transaction, and injects defaults.
func (h *Hooks) Save(ctx context.Context, original SaveFunc, args entity.SaveArgs) (entity.Row, error) {
	c, bypass, err := h.begin(ctx, OpSave, args.SkipAuth)
	if err != nil {
		return nil, err
	}
	if bypass {
		return original(ctx, args)
	}
	if args.Input == nil {
		args.Input = entity.Row{}
	}
	clause := c.resolved.Clause
	if err := CheckWriteFields(clause, args.Input); err != nil {
		return nil, h.reject(OpSave, stageFields, c, err)
	}

	if clause.restrictsRows() {
		if pkWhere, ok := primaryKeyWhere(h.entity, args.Input); ok {
			if err := h.readBack(ctx, c, pkWhere, args.Tx); err != nil {
				return nil, h.reject(OpSave, stagePredicate, c, err)
			}
		}
	}

	if err := ApplyDefaults(ctx, c.resolved.Rule.Defaults, c.user, args.Input); err != nil {
		return nil, h.reject(OpSave, stageDefaults, c, err)
	}
	h.allow(OpSave, c)
	return original(ctx, args)
}

// readBack runs the undecorated find with the save predicate restricted to
// the row's primary keys. No row means the caller may not touch it.
func (h *Hooks) readBack(ctx context.Context, c call, pkWhere entity.Where, tx entity.Querier) error {
	if h.find == nil {
		return &ConfigError{Entity: h.entity.Name, Message: "save read-back requires a find operation"}
	}
	where, err := BuildPredicate(ctx, c.resolved.Clause, pkWhere, c.user)
	if err != nil {
		return err
	}
	// A custom predicate may drop the where it was given. The keys always hold.
	where = where.Clone()
	for pk, cond := range pkWhere.Fields {
		where.Set(pk, entity.OpEq, cond[entity.OpEq])
	}
	rows, err := h.find(ctx, entity.FindArgs{
		Where:  where,
		Fields: h.entity.PrimaryKeys(),
		Tx:     tx,
	})
	if err != nil {
		return fmt.Errorf("read-back %s: %w", h.entity.Name, err)
	}
	if len(rows) == 0 {
		return ErrUnauthorized
	}
	return nil
}

// Insert checks and completes every row of a batch.
func (h *Hooks) Insert(ctx context.Context, original InsertFunc, args entity.InsertArgs) ([]entity.Row, error) {
	c, bypass, err := h.begin(ctx, OpInsert, args.SkipAuth)
	if err != nil {
		return nil, err
	}
	if bypass {
		return original(ctx, args)
	}
	for i := range args.Inputs {
		if args.Inputs[i] == nil {
			args.Inputs[i] = entity.Row{}
		}
	}
	if err := CheckWriteFields(c.resolved.Clause, args.Inputs...); err != nil {
		return nil, h.reject(OpInsert, stageFields, c, err)
	}
	if err := ApplyDefaults(ctx, c.resolved.Rule.Defaults, c.user, args.Inputs...); err != nil {
		return nil, h.reject(OpInsert, stageDefaults, c, err)
	}
	h.allow(OpInsert, c)
	return original(ctx, args)
}

// Delete checks the returned projection and narrows the predicate.
func (h *Hooks) Delete(ctx context.Context, original DeleteFunc, args entity.DeleteArgs) ([]entity.Row, error) {
	c, bypass, err := h.begin(ctx, OpDelete, args.SkipAuth)
	if err != nil {
		return nil, err
	}
	if bypass {
		return original(ctx, args)
	}
	if err := CheckReadFields(c.resolved.Clause, h.entity, args.Fields); err != nil {
		return nil, h.reject(OpDelete, stageFields, c, err)
	}
	where, err := BuildPredicate(ctx, c.resolved.Clause, args.Where, c.user)
	if err != nil {
		return nil, h.reject(OpDelete, stagePredicate, c, err)
	}
	args.Where = where
	h.allow(OpDelete, c)
	return original(ctx, args)
}

// UpdateMany checks the payload and narrows the predicate.
func (h *Hooks) UpdateMany(ctx context.Context, original UpdateManyFunc, args entity.UpdateManyArgs) ([]entity.Row, error) {
	c, bypass, err := h.begin(ctx, OpUpdateMany, args.SkipAuth)
	if err != nil {
		return nil, err
	}
	if bypass {
		return original(ctx, args)
	}
	if err := CheckWriteFields(c.resolved.Clause, args.Input); err != nil {
		return nil, h.reject(OpUpdateMany, stageFields, c, err)
	}
	where, err := BuildPredicate(ctx, c.resolved.Clause, args.Where, c.user)
	if err != nil {
		return nil, h.reject(OpUpdateMany, stagePredicate, c, err)
	}
	args.Where = where
	h.allow(OpUpdateMany, c)
	return original(ctx, args)
}
