package authz

import (
	"context"

	"rocket-guard/internal/entity"
)

// guarded decorates an entity.Operations with the hooks of its entity.
type guarded struct {
	hooks *Hooks
	ops   entity.Operations
}

// Guard wraps ops so every operation goes through the entity's hooks. The
// read-back inside save uses ops.Find directly.
func (e *Engine) Guard(entityName string, ops entity.Operations) (entity.Operations, error) {
	hooks, err := e.Hooks(entityName, ops.Find)
	if err != nil {
		return nil, err
	}
	return &guarded{hooks: hooks, ops: ops}, nil
}

func (g *guarded) Find(ctx context.Context, args entity.FindArgs) ([]entity.Row, error) {
	return g.hooks.Find(ctx, g.ops.Find, args)
}

func (g *guarded) Count(ctx context.Context, args entity.CountArgs) (int64, error) {
	return g.hooks.Count(ctx, g.ops.Count, args)
}

func (g *guarded) Save(ctx context.Context, args entity.SaveArgs) (entity.Row, error) {
	return g.hooks.Save(ctx, g.ops.Save, args)
}

func (g *guarded) Insert(ctx context.Context, args entity.InsertArgs) ([]entity.Row, error) {
	return g.hooks.Insert(ctx, g.ops.Insert, args)
}

func (g *guarded) Delete(ctx context.Context, args entity.DeleteArgs) ([]entity.Row, error) {
	return g.hooks.Delete(ctx, g.ops.Delete, args)
}

func (g *guarded) UpdateMany(ctx context.Context, args entity.UpdateManyArgs) ([]entity.Row, error) {
	return g.hooks.UpdateMany(ctx, g.ops.UpdateMany, args)
}
