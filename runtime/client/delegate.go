package client

import (
	"context"

	"github.com/satishbabariya/aegis/query/validate"
	"github.com/satishbabariya/aegis/runtime/types"
)

// ModelDelegate exposes the per-model operations. Obtain one with
// Client.Model("User").
type ModelDelegate struct {
	c     *Client
	model string
}

func (d *ModelDelegate) prepare(ctx context.Context, op string, args types.Record, mutation bool) (*HookContext, error) {
	if args == nil {
		args = types.Record{}
	}
	if d.c.opts.validateInput() {
		if err := d.c.validator.Validate(d.model, op, args); err != nil {
			return nil, err
		}
	}
	hc := &HookContext{Model: d.model, Operation: op, Args: args}
	if err := d.c.runBefore(ctx, hc, mutation); err != nil {
		return nil, err
	}
	return hc, nil
}

func (d *ModelDelegate) finish(ctx context.Context, hc *HookContext, result interface{}, err error, mutation bool) {
	hc.Result = result
	hc.Err = err
	d.c.runAfter(ctx, hc, mutation)
}

// FindMany returns every matching entity tree.
func (d *ModelDelegate) FindMany(ctx context.Context, args types.Record) (types.List, error) {
	hc, err := d.prepare(ctx, validate.OpFindMany, args, false)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().FindMany(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, false)
	return out, err
}

// FindUnique returns the uniquely-addressed entity, or nil when absent.
func (d *ModelDelegate) FindUnique(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpFindUnique, args, false)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().FindUnique(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, false)
	return out, err
}

// FindUniqueOrThrow is FindUnique signalling absence as NotFoundError.
func (d *ModelDelegate) FindUniqueOrThrow(ctx context.Context, args types.Record) (types.Record, error) {
	rec, err := d.FindUnique(ctx, args)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &types.NotFoundError{Model: d.model}
	}
	return rec, nil
}

// FindFirst returns the first matching entity, or nil when none match.
func (d *ModelDelegate) FindFirst(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpFindFirst, args, false)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().FindFirst(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, false)
	return out, err
}

// FindFirstOrThrow is FindFirst signalling absence as NotFoundError.
func (d *ModelDelegate) FindFirstOrThrow(ctx context.Context, args types.Record) (types.Record, error) {
	rec, err := d.FindFirst(ctx, args)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &types.NotFoundError{Model: d.model}
	}
	return rec, nil
}

// Create inserts an entity tree and returns it per select/include.
func (d *ModelDelegate) Create(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpCreate, args, true)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().Create(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// CreateMany inserts rows in input order and returns the inserted count.
func (d *ModelDelegate) CreateMany(ctx context.Context, args types.Record) (int64, error) {
	hc, err := d.prepare(ctx, validate.OpCreateMany, args, true)
	if err != nil {
		return 0, err
	}
	out, err := d.c.executor().CreateMany(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// CreateManyAndReturn inserts rows and returns the created entities.
func (d *ModelDelegate) CreateManyAndReturn(ctx context.Context, args types.Record) (types.List, error) {
	hc, err := d.prepare(ctx, validate.OpCreateManyAndReturn, args, true)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().CreateManyAndReturn(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// Update mutates one uniquely-addressed entity and returns it.
func (d *ModelDelegate) Update(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpUpdate, args, true)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().Update(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// UpdateMany applies one patch to every matching row.
func (d *ModelDelegate) UpdateMany(ctx context.Context, args types.Record) (int64, error) {
	hc, err := d.prepare(ctx, validate.OpUpdateMany, args, true)
	if err != nil {
		return 0, err
	}
	out, err := d.c.executor().UpdateMany(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// Upsert updates the matching entity or creates it.
func (d *ModelDelegate) Upsert(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpUpsert, args, true)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().Upsert(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// Delete removes one uniquely-addressed entity and returns it as it was.
func (d *ModelDelegate) Delete(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpDelete, args, true)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().Delete(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// DeleteMany removes every matching row.
func (d *ModelDelegate) DeleteMany(ctx context.Context, args types.Record) (int64, error) {
	hc, err := d.prepare(ctx, validate.OpDeleteMany, args, true)
	if err != nil {
		return 0, err
	}
	out, err := d.c.executor().DeleteMany(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, true)
	return out, err
}

// Count returns the number of matching rows.
func (d *ModelDelegate) Count(ctx context.Context, args types.Record) (int64, error) {
	hc, err := d.prepare(ctx, validate.OpCount, args, false)
	if err != nil {
		return 0, err
	}
	out, err := d.c.executor().CountAll(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, false)
	return out, err
}

// CountFields returns per-field non-null counts per the select argument.
func (d *ModelDelegate) CountFields(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpCount, args, false)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().Count(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, false)
	return out, err
}

// Aggregate computes _count/_avg/_sum/_min/_max over matching rows.
func (d *ModelDelegate) Aggregate(ctx context.Context, args types.Record) (types.Record, error) {
	hc, err := d.prepare(ctx, validate.OpAggregate, args, false)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().Aggregate(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, false)
	return out, err
}

// GroupBy groups matching rows and aggregates per group.
func (d *ModelDelegate) GroupBy(ctx context.Context, args types.Record) (types.List, error) {
	hc, err := d.prepare(ctx, validate.OpGroupBy, args, false)
	if err != nil {
		return nil, err
	}
	out, err := d.c.executor().GroupBy(ctx, d.model, hc.Args)
	d.finish(ctx, hc, out, err, false)
	return out, err
}
