package executor

import (
	"context"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// The planner orchestrates top-level mutations. Every mutation runs inside
// a transaction (reusing the caller's when one is open); nested relation
// operations share it, read-back happens inside it, and any failure —
// constraint violation, policy rejection, driver error — rolls the whole
// tree back.

// Create inserts an entity tree and reads it back per select/include.
func (e *Executor) Create(ctx context.Context, model string, args types.Record) (types.Record, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	data, _ := args["data"].(types.Record)
	if data == nil {
		data = types.Record{}
	}
	var result types.Record
	err = e.Transaction(ctx, func(tx *Executor) error {
		row, err := tx.createTree(ctx, m, data)
		if err != nil {
			return err
		}
		result, err = tx.readBack(ctx, m, idsOf(m, row), args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateMany inserts rows in input order and returns the inserted count.
// skipDuplicates maps to the database's ON CONFLICT DO NOTHING.
func (e *Executor) CreateMany(ctx context.Context, model string, args types.Record) (int64, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return 0, err
	}
	rows, err := dataRows(args["data"])
	if err != nil {
		return 0, err
	}
	skipDuplicates, _ := args["skipDuplicates"].(bool)

	var count int64
	err = e.Transaction(ctx, func(tx *Executor) error {
		prepared, fallback, err := tx.prepareBatch(m, rows)
		if err != nil {
			return err
		}
		if fallback {
			// A create policy needs database state; insert row by row so
			// each prospective row can be would-be checked.
			for _, row := range prepared {
				if _, err := tx.insertChecked(ctx, m, row, skipDuplicates); err != nil {
					return err
				}
				count++
			}
			return nil
		}
		if len(prepared) == 0 {
			return nil
		}
		stmt, err := tx.Compiler.BuildInsert(m, prepared, false, skipDuplicates)
		if err != nil {
			return err
		}
		res, err := tx.exec(ctx, m.Name, stmt)
		if err != nil {
			return err
		}
		count, _ = res.RowsAffected()
		return nil
	})
	return count, err
}

// CreateManyAndReturn inserts rows and reads the inserted entities back.
func (e *Executor) CreateManyAndReturn(ctx context.Context, model string, args types.Record) (types.List, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	rows, err := dataRows(args["data"])
	if err != nil {
		return nil, err
	}
	skipDuplicates, _ := args["skipDuplicates"].(bool)

	var result types.List
	err = e.Transaction(ctx, func(tx *Executor) error {
		prepared, _, err := tx.prepareBatch(m, rows)
		if err != nil {
			return err
		}
		var inserted []types.Record
		for _, row := range prepared {
			full, err := tx.insertChecked(ctx, m, row, skipDuplicates)
			if err != nil {
				return err
			}
			inserted = append(inserted, idsOf(m, full))
		}
		for _, ids := range inserted {
			rec, err := tx.readBack(ctx, m, ids, args)
			if err != nil {
				return err
			}
			if rec != nil {
				result = append(result, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update mutates one unique-addressed entity and reads it back. A missing
// or policy-filtered target surfaces as NotFoundError.
func (e *Executor) Update(ctx context.Context, model string, args types.Record) (types.Record, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	where, _ := args["where"].(types.Record)
	data, _ := args["data"].(types.Record)
	pred, err := e.Compiler.CompileWhereBare(m, where)
	if err != nil {
		return nil, err
	}
	var result types.Record
	err = e.Transaction(ctx, func(tx *Executor) error {
		ids, err := tx.updateTree(ctx, m, pred, data)
		if err != nil {
			return err
		}
		result, err = tx.readBack(ctx, m, ids, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateMany applies one patch to every matching row and returns the count.
func (e *Executor) UpdateMany(ctx context.Context, model string, args types.Record) (int64, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return 0, err
	}
	where, _ := args["where"].(types.Record)
	data, _ := args["data"].(types.Record)
	limit := limitArg(args)

	var count int64
	err = e.Transaction(ctx, func(tx *Executor) error {
		pred, err := tx.mutationFilter(m, where, schema.OpUpdate)
		if err != nil {
			return err
		}
		touchUpdatedAt(m, data)
		var assigns []ast.Assign
		for _, key := range sortedDataKeys(data) {
			f := m.Field(key)
			if f == nil || f.IsRelation() {
				return types.Internalf("updateMany data references unknown scalar %s.%s", m.Name, key)
			}
			a, err := tx.Compiler.Assignment(m, f, data[key])
			if err != nil {
				return err
			}
			assigns = append(assigns, a)
		}
		postUpdate := tx.Policy != nil && m.HasPolicies(schema.OpPostUpdate)

		if postUpdate || (limit != nil && !tx.Dialect.SupportsUpdateDeleteLimit()) {
			// Pre-select the affected ids: the dialect lacks a native
			// limit, or the updated rows must be re-checked afterwards.
			targets, err := tx.selectRows(ctx, m, pred, m.IDFields, limit)
			if err != nil {
				return err
			}
			for _, ids := range targets {
				stmt := tx.Compiler.BuildUpdate(m, idPredicate(m, ids), assigns, nil, false)
				if _, err := tx.exec(ctx, m.Name, stmt); err != nil {
					return err
				}
				if postUpdate {
					if err := tx.checkPostUpdate(ctx, m, ids); err != nil {
						return err
					}
				}
				count++
			}
			return nil
		}

		stmt := tx.Compiler.BuildUpdate(m, pred, assigns, limit, false)
		res, err := tx.exec(ctx, m.Name, stmt)
		if err != nil {
			return err
		}
		count, _ = res.RowsAffected()
		return nil
	})
	return count, err
}

// Upsert selects under the open transaction and branches to update or
// create.
func (e *Executor) Upsert(ctx context.Context, model string, args types.Record) (types.Record, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	where, _ := args["where"].(types.Record)
	createData, _ := args["create"].(types.Record)
	updateData, _ := args["update"].(types.Record)

	var result types.Record
	err = e.Transaction(ctx, func(tx *Executor) error {
		pred, err := tx.Compiler.CompileWhereBare(m, where)
		if err != nil {
			return err
		}
		existing, err := tx.selectRows(ctx, m, pred, m.IDFields, ast.IntPtr(1))
		if err != nil {
			return err
		}
		var ids types.Record
		if len(existing) > 0 {
			ids, err = tx.updateTree(ctx, m, pred, updateData)
		} else {
			var row types.Record
			if createData == nil {
				createData = types.Record{}
			}
			row, err = tx.createTree(ctx, m, createData)
			if row != nil {
				ids = idsOf(m, row)
			}
		}
		if err != nil {
			return err
		}
		result, err = tx.readBack(ctx, m, ids, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes one unique-addressed entity, returning it as it was.
func (e *Executor) Delete(ctx context.Context, model string, args types.Record) (types.Record, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	where, _ := args["where"].(types.Record)

	var result types.Record
	err = e.Transaction(ctx, func(tx *Executor) error {
		pred, err := tx.mutationFilter(m, where, schema.OpDelete)
		if err != nil {
			return err
		}
		targets, err := tx.selectRows(ctx, m, pred, m.IDFields, ast.IntPtr(1))
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return &types.NotFoundError{Model: m.Name}
		}
		ids := targets[0]
		result, err = tx.readBack(ctx, m, ids, args)
		if err != nil {
			return err
		}
		stmt := tx.Compiler.BuildDelete(m, idPredicate(m, ids), nil, false)
		_, err = tx.exec(ctx, m.Name, stmt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteMany removes every matching row and returns the count.
func (e *Executor) DeleteMany(ctx context.Context, model string, args types.Record) (int64, error) {
	m, err := e.Schema.Model(model)
	if err != nil {
		return 0, err
	}
	where, _ := args["where"].(types.Record)
	limit := limitArg(args)

	var count int64
	err = e.Transaction(ctx, func(tx *Executor) error {
		pred, err := tx.mutationFilter(m, where, schema.OpDelete)
		if err != nil {
			return err
		}
		if limit != nil && !tx.Dialect.SupportsUpdateDeleteLimit() {
			targets, err := tx.selectRows(ctx, m, pred, m.IDFields, limit)
			if err != nil {
				return err
			}
			for _, ids := range targets {
				stmt := tx.Compiler.BuildDelete(m, idPredicate(m, ids), nil, false)
				if _, err := tx.exec(ctx, m.Name, stmt); err != nil {
					return err
				}
				count++
			}
			return nil
		}
		stmt := tx.Compiler.BuildDelete(m, pred, limit, false)
		res, err := tx.exec(ctx, m.Name, stmt)
		if err != nil {
			return err
		}
		count, _ = res.RowsAffected()
		return nil
	})
	return count, err
}

// mutationFilter conjoins the user where with the operation's policy
// pre-filter.
func (e *Executor) mutationFilter(m *schema.Model, where types.Record, op schema.Operation) (ast.Expr, error) {
	pred, err := e.Compiler.CompileWhereBare(m, where)
	if err != nil {
		return nil, err
	}
	if e.Policy == nil {
		return pred, nil
	}
	polPred, err := e.Policy.FilterPredicate(m, op)
	if err != nil {
		return nil, err
	}
	return ast.And(pred, polPred), nil
}

// readBack re-reads the mutated root entity inside the transaction using
// the read path, honoring select/include/omit. The read-policy rewrite
// applies: a row the caller may not read back surfaces as a policy error
// rather than leaking.
func (e *Executor) readBack(ctx context.Context, m *schema.Model, ids types.Record, args types.Record) (types.Record, error) {
	readArgs := types.Record{"where": whereOf(m, ids)}
	for _, k := range []string{"select", "include", "omit"} {
		if v, ok := args[k]; ok {
			readArgs[k] = v
		}
	}
	rec, err := e.FindUnique(ctx, m.Name, readArgs)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if e.Policy != nil && m.HasPolicies(schema.OpRead) {
			return nil, &types.PolicyError{Model: m.Name, Operation: string(schema.OpRead)}
		}
		return nil, types.Internalf("mutated %s row disappeared during read-back", m.Name)
	}
	return rec, nil
}

// checkPostUpdate re-selects the updated row against the post-update allow
// set; absence means the mutation violated it and the transaction aborts.
func (e *Executor) checkPostUpdate(ctx context.Context, m *schema.Model, ids types.Record) error {
	if e.Policy == nil || !m.HasPolicies(schema.OpPostUpdate) {
		return nil
	}
	pred, err := e.Policy.Predicate(m, "", schema.OpPostUpdate)
	if err != nil {
		return err
	}
	rows, err := e.selectRows(ctx, m, ast.And(idPredicate(m, ids), pred), m.IDFields, ast.IntPtr(1))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &types.PolicyError{Model: m.Name, Operation: string(schema.OpPostUpdate)}
	}
	return nil
}

// selectRows reads bare-table columns for planner bookkeeping (target
// location, id collection). Output transforms apply per field type.
func (e *Executor) selectRows(ctx context.Context, m *schema.Model, pred ast.Expr, fields []string, limit *int) ([]types.Record, error) {
	sel := &ast.SelectStmt{
		From:  &ast.Table{Name: m.Table(), Model: m.Name},
		Where: pred,
		Limit: limit,
	}
	for _, name := range fields {
		f := m.Field(name)
		if f == nil {
			return nil, types.Internalf("selectRows references unknown field %s.%s", m.Name, name)
		}
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: ast.Col("", f.Column()), Alias: f.Name})
	}
	for _, id := range m.IDs() {
		sel.OrderBy = append(sel.OrderBy, ast.OrderItem{X: ast.Col("", id.Column())})
	}
	rows, err := e.query(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		rec := types.Record{}
		for _, name := range fields {
			f := m.Field(name)
			v, err := e.Dialect.TransformOutput(f.Type, row[f.Name])
			if err != nil {
				return nil, err
			}
			rec[f.Name] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

// idPredicate builds the bare-table predicate addressing one row by ids.
func idPredicate(m *schema.Model, ids types.Record) ast.Expr {
	var pred ast.Expr = ast.True()
	for _, id := range m.IDs() {
		pred = ast.And(pred, ast.Eq(ast.Col("", id.Column()), ast.Val(ids[id.Name])))
	}
	return pred
}

func idsOf(m *schema.Model, row types.Record) types.Record {
	out := types.Record{}
	for _, id := range m.IDFields {
		out[id] = row[id]
	}
	return out
}

func whereOf(m *schema.Model, ids types.Record) types.Record {
	out := types.Record{}
	for k, v := range ids {
		out[k] = v
	}
	return out
}

func limitArg(args types.Record) *int {
	if n, ok := intArgValue(args["limit"]); ok {
		return &n
	}
	return nil
}

func intArgValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func dataRows(v interface{}) ([]types.Record, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case types.Record:
		return []types.Record{x}, nil
	case []types.Record:
		return x, nil
	case []interface{}:
		out := make([]types.Record, 0, len(x))
		for _, e := range x {
			rec, ok := e.(types.Record)
			if !ok {
				return nil, types.Internalf("data entry is not an object")
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return nil, types.Internalf("data has unexpected type %T", v)
}
