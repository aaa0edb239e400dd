package executor

import (
	"context"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// nestedCtx binds one non-owned relation write to its parent row: either
// the child model carries the FK, or an implicit join table links the two.
type nestedCtx struct {
	e         *Executor
	parent    *schema.Model
	child     *schema.Model
	field     *schema.Field
	parentRow types.Record
	link      *schema.RelationLink
	jt        *schema.JoinTable
}

// runNestedWrites executes one relation's manipulation object against the
// parent ids, in the fixed nested-operation order.
func (e *Executor) runNestedWrites(ctx context.Context, m *schema.Model, parentRow types.Record, w relationWrite) error {
	n := &nestedCtx{
		e:         e,
		parent:    m,
		child:     w.field.RelatedModel(),
		field:     w.field,
		parentRow: parentRow,
	}
	if jt, ok := e.Schema.ImplicitJoinTable(m, w.field); ok {
		n.jt = jt
	} else {
		link, err := e.Schema.RelationPairs(m, w.field)
		if err != nil {
			return err
		}
		if link.OwnedByModel {
			return types.Internalf("owned relation %s.%s routed to nested writes", m.Name, w.field.Name)
		}
		n.link = link
	}

	for _, op := range nestedOpOrder {
		v, ok := w.ops[op]
		if !ok {
			continue
		}
		if err := n.run(ctx, op, v); err != nil {
			return err
		}
	}
	return nil
}

func (n *nestedCtx) run(ctx context.Context, op string, v interface{}) error {
	switch op {
	case "create":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := n.createChild(ctx, row); err != nil {
				return err
			}
		}
		return nil
	case "createMany":
		spec, _ := v.(types.Record)
		rows, err := dataRows(spec["data"])
		if err != nil {
			return err
		}
		skipDuplicates, _ := spec["skipDuplicates"].(bool)
		return n.createManyChildren(ctx, rows, skipDuplicates)
	case "connect":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, where := range rows {
			if err := n.connect(ctx, where); err != nil {
				return err
			}
		}
		return nil
	case "connectOrCreate":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, spec := range rows {
			where, _ := spec["where"].(types.Record)
			create, _ := spec["create"].(types.Record)
			err := n.connect(ctx, where)
			if types.IsNotFound(err) {
				err = n.createChild(ctx, create)
			}
			if err != nil {
				return err
			}
		}
		return nil
	case "disconnect":
		if b, ok := v.(bool); ok {
			if !b {
				return nil
			}
			return n.disconnect(ctx, nil)
		}
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, where := range rows {
			if err := n.disconnect(ctx, where); err != nil {
				return err
			}
		}
		return nil
	case "set":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		return n.set(ctx, rows)
	case "update":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, spec := range rows {
			where, _ := spec["where"].(types.Record)
			data, ok := spec["data"].(types.Record)
			if !ok {
				// To-one updates may carry the patch directly.
				data = spec
				where = nil
			}
			pred, err := n.childPredicate(where)
			if err != nil {
				return err
			}
			if _, err := n.e.updateTree(ctx, n.child, pred, data); err != nil {
				return err
			}
		}
		return nil
	case "updateMany":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, spec := range rows {
			where, _ := spec["where"].(types.Record)
			data, _ := spec["data"].(types.Record)
			if err := n.updateManyChildren(ctx, where, data); err != nil {
				return err
			}
		}
		return nil
	case "upsert":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, spec := range rows {
			where, _ := spec["where"].(types.Record)
			create, _ := spec["create"].(types.Record)
			update, _ := spec["update"].(types.Record)
			pred, err := n.childPredicate(where)
			if err != nil {
				return err
			}
			existing, err := n.e.selectRows(ctx, n.child, pred, n.child.IDFields, ast.IntPtr(1))
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				_, err = n.e.updateTree(ctx, n.child, pred, update)
			} else {
				err = n.createChild(ctx, create)
			}
			if err != nil {
				return err
			}
		}
		return nil
	case "delete":
		if b, ok := v.(bool); ok {
			if !b {
				return nil
			}
			return n.deleteChildren(ctx, nil, true)
		}
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		for _, where := range rows {
			if err := n.deleteChildren(ctx, where, true); err != nil {
				return err
			}
		}
		return nil
	case "deleteMany":
		rows, err := dataRows(v)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return n.deleteChildren(ctx, types.Record{}, false)
		}
		for _, where := range rows {
			if err := n.deleteChildren(ctx, where, false); err != nil {
				return err
			}
		}
		return nil
	}
	return types.Internalf("unsupported nested operation %s on %s.%s", op, n.parent.Name, n.field.Name)
}

// scope is the bare-table predicate restricting the child table to rows
// belonging to the parent.
func (n *nestedCtx) scope() ast.Expr {
	if n.jt != nil {
		sub := &ast.SelectStmt{
			Columns: []ast.SelectItem{{Expr: ast.Col("", n.jt.OtherFK)}},
			From:    &ast.Table{Name: n.jt.Table},
			Where:   ast.Eq(ast.Col("", n.jt.ParentFK), ast.Val(n.parentRow[n.parent.IDFields[0]])),
		}
		return &ast.InSelect{X: ast.Col("", n.child.IDs()[0].Column()), Sel: sub}
	}
	var pred ast.Expr = ast.True()
	for _, p := range n.link.Pairs {
		pred = ast.And(pred, ast.Eq(ast.Col("", n.child.Field(p.FK).Column()), ast.Val(n.parentRow[p.PK])))
	}
	return pred
}

// childPredicate combines a unique where with the parent scope.
func (n *nestedCtx) childPredicate(where types.Record) (ast.Expr, error) {
	if where == nil {
		return n.scope(), nil
	}
	pred, err := n.e.Compiler.CompileWhereBare(n.child, where)
	if err != nil {
		return nil, err
	}
	return ast.And(pred, n.scope()), nil
}

// fkAssigns maps child FK fields to the parent's referenced values.
func (n *nestedCtx) fkAssigns() types.Record {
	out := types.Record{}
	if n.link == nil {
		return out
	}
	for _, p := range n.link.Pairs {
		out[p.FK] = n.parentRow[p.PK]
	}
	return out
}

func (n *nestedCtx) createChild(ctx context.Context, data types.Record) error {
	merged := types.Record{}
	for k, v := range data {
		merged[k] = v
	}
	if n.jt == nil {
		for k, v := range n.fkAssigns() {
			merged[k] = v
		}
	}
	row, err := n.e.createTree(ctx, n.child, merged)
	if err != nil {
		return err
	}
	if n.jt != nil {
		return n.insertJoinRow(ctx, row[n.child.IDFields[0]])
	}
	return nil
}

func (n *nestedCtx) createManyChildren(ctx context.Context, rows []types.Record, skipDuplicates bool) error {
	merged := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		m := types.Record{}
		for k, v := range row {
			m[k] = v
		}
		for k, v := range n.fkAssigns() {
			m[k] = v
		}
		merged = append(merged, m)
	}
	if n.jt != nil {
		for _, row := range merged {
			if err := n.createChild(ctx, row); err != nil {
				return err
			}
		}
		return nil
	}
	prepared, fallback, err := n.e.prepareBatch(n.child, merged)
	if err != nil {
		return err
	}
	if fallback || len(prepared) == 0 {
		for _, row := range prepared {
			if _, err := n.e.insertChecked(ctx, n.child, row, skipDuplicates); err != nil {
				return err
			}
		}
		return nil
	}
	stmt, err := n.e.Compiler.BuildInsert(n.child, prepared, false, skipDuplicates)
	if err != nil {
		return err
	}
	_, err = n.e.exec(ctx, n.child.Name, stmt)
	return err
}

// connect attaches an existing child: an FK update on the child table, or
// a join-table insert for many-to-many. Connecting an already-connected
// row is a no-op.
func (n *nestedCtx) connect(ctx context.Context, where types.Record) error {
	if n.jt != nil {
		pred, err := n.e.Compiler.CompileWhereBare(n.child, where)
		if err != nil {
			return err
		}
		rows, err := n.e.selectRows(ctx, n.child, pred, n.child.IDFields, ast.IntPtr(1))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &types.NotFoundError{Model: n.child.Name}
		}
		return n.insertJoinRow(ctx, rows[0][n.child.IDFields[0]])
	}

	pred, err := n.e.Compiler.CompileWhereBare(n.child, where)
	if err != nil {
		return err
	}
	if n.e.Policy != nil {
		polPred, err := n.e.Policy.FilterPredicate(n.child, schema.OpUpdate)
		if err != nil {
			return err
		}
		pred = ast.And(pred, polPred)
	}
	var assigns []ast.Assign
	for _, p := range n.link.Pairs {
		assigns = append(assigns, ast.Assign{
			Column: n.child.Field(p.FK).Column(),
			Value:  ast.Val(n.parentRow[p.PK]),
		})
	}
	stmt := n.e.Compiler.BuildUpdate(n.child, pred, assigns, nil, false)
	res, err := n.e.exec(ctx, n.child.Name, stmt)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return &types.NotFoundError{Model: n.child.Name}
	}
	return nil
}

// disconnect detaches children. A nil where detaches every connected row.
// Disconnecting an unrelated row is a no-op.
func (n *nestedCtx) disconnect(ctx context.Context, where types.Record) error {
	if n.jt != nil {
		var otherPred ast.Expr
		if where != nil {
			pred, err := n.e.Compiler.CompileWhereBare(n.child, where)
			if err != nil {
				return err
			}
			rows, err := n.e.selectRows(ctx, n.child, pred, n.child.IDFields, ast.IntPtr(1))
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			otherPred = ast.Eq(ast.Col("", n.jt.OtherFK), ast.Val(rows[0][n.child.IDFields[0]]))
		}
		del := &ast.DeleteStmt{
			Table: &ast.Table{Name: n.jt.Table},
			Where: ast.And(ast.Eq(ast.Col("", n.jt.ParentFK), ast.Val(n.parentRow[n.parent.IDFields[0]])), otherPred),
		}
		_, err := n.e.exec(ctx, "", del)
		return err
	}

	pred := n.scope()
	if where != nil {
		wherePred, err := n.e.Compiler.CompileWhereBare(n.child, where)
		if err != nil {
			return err
		}
		pred = ast.And(pred, wherePred)
	}
	var assigns []ast.Assign
	for _, p := range n.link.Pairs {
		assigns = append(assigns, ast.Assign{Column: n.child.Field(p.FK).Column(), Value: &ast.NullConst{}})
	}
	stmt := n.e.Compiler.BuildUpdate(n.child, pred, assigns, nil, false)
	_, err := n.e.exec(ctx, n.child.Name, stmt)
	return err
}

// set replaces the relation's membership: it first disconnects every
// currently-connected row not in the provided set, then connects the
// listed rows. Setting the current membership leaves it unchanged.
func (n *nestedCtx) set(ctx context.Context, wheres []types.Record) error {
	var keep ast.Expr = ast.False()
	for _, where := range wheres {
		pred, err := n.e.Compiler.CompileWhereBare(n.child, where)
		if err != nil {
			return err
		}
		keep = ast.Or(keep, pred)
	}

	if n.jt != nil {
		var keepIDs []interface{}
		if len(wheres) > 0 {
			rows, err := n.e.selectRows(ctx, n.child, keep, n.child.IDFields, nil)
			if err != nil {
				return err
			}
			for _, row := range rows {
				keepIDs = append(keepIDs, row[n.child.IDFields[0]])
			}
		}
		del := &ast.DeleteStmt{
			Table: &ast.Table{Name: n.jt.Table},
			Where: ast.Eq(ast.Col("", n.jt.ParentFK), ast.Val(n.parentRow[n.parent.IDFields[0]])),
		}
		if len(keepIDs) > 0 {
			items := make([]ast.Expr, len(keepIDs))
			for i, id := range keepIDs {
				items[i] = ast.Val(id)
			}
			del.Where = ast.And(del.Where, &ast.InList{X: ast.Col("", n.jt.OtherFK), Items: items, Not: true})
		}
		if _, err := n.e.exec(ctx, "", del); err != nil {
			return err
		}
		for _, id := range keepIDs {
			if err := n.insertJoinRow(ctx, id); err != nil {
				return err
			}
		}
		return nil
	}

	if err := n.disconnectExcept(ctx, keep, len(wheres) > 0); err != nil {
		return err
	}
	for _, where := range wheres {
		if err := n.connect(ctx, where); err != nil {
			return err
		}
	}
	return nil
}

func (n *nestedCtx) disconnectExcept(ctx context.Context, keep ast.Expr, hasKeep bool) error {
	pred := n.scope()
	if hasKeep {
		pred = ast.And(pred, ast.Not(keep))
	}
	var assigns []ast.Assign
	for _, p := range n.link.Pairs {
		assigns = append(assigns, ast.Assign{Column: n.child.Field(p.FK).Column(), Value: &ast.NullConst{}})
	}
	stmt := n.e.Compiler.BuildUpdate(n.child, pred, assigns, nil, false)
	_, err := n.e.exec(ctx, n.child.Name, stmt)
	return err
}

func (n *nestedCtx) updateManyChildren(ctx context.Context, where, data types.Record) error {
	pred, err := n.childPredicate(where)
	if err != nil {
		return err
	}
	if n.e.Policy != nil {
		polPred, err := n.e.Policy.FilterPredicate(n.child, schema.OpUpdate)
		if err != nil {
			return err
		}
		pred = ast.And(pred, polPred)
	}
	touchUpdatedAt(n.child, data)
	var assigns []ast.Assign
	for _, key := range sortedDataKeys(data) {
		f := n.child.Field(key)
		if f == nil || f.IsRelation() {
			return types.Internalf("updateMany data references unknown scalar %s.%s", n.child.Name, key)
		}
		a, err := n.e.Compiler.Assignment(n.child, f, data[key])
		if err != nil {
			return err
		}
		assigns = append(assigns, a)
	}
	stmt := n.e.Compiler.BuildUpdate(n.child, pred, assigns, nil, false)
	_, err = n.e.exec(ctx, n.child.Name, stmt)
	return err
}

// deleteChildren removes connected rows. strict reports NotFound when a
// targeted delete matches nothing.
func (n *nestedCtx) deleteChildren(ctx context.Context, where types.Record, strict bool) error {
	pred, err := n.childPredicate(where)
	if err != nil {
		return err
	}
	if n.e.Policy != nil {
		polPred, err := n.e.Policy.FilterPredicate(n.child, schema.OpDelete)
		if err != nil {
			return err
		}
		pred = ast.And(pred, polPred)
	}

	if n.jt != nil {
		// Remove membership rows first, then the entities.
		rows, err := n.e.selectRows(ctx, n.child, pred, n.child.IDFields, nil)
		if err != nil {
			return err
		}
		if strict && len(rows) == 0 {
			return &types.NotFoundError{Model: n.child.Name}
		}
		for _, row := range rows {
			id := row[n.child.IDFields[0]]
			del := &ast.DeleteStmt{
				Table: &ast.Table{Name: n.jt.Table},
				Where: ast.Eq(ast.Col("", n.jt.OtherFK), ast.Val(id)),
			}
			if _, err := n.e.exec(ctx, "", del); err != nil {
				return err
			}
			stmt := n.e.Compiler.BuildDelete(n.child, idPredicate(n.child, row), nil, false)
			if _, err := n.e.exec(ctx, n.child.Name, stmt); err != nil {
				return err
			}
		}
		return nil
	}

	stmt := n.e.Compiler.BuildDelete(n.child, pred, nil, false)
	res, err := n.e.exec(ctx, n.child.Name, stmt)
	if err != nil {
		return err
	}
	if strict {
		if affected, _ := res.RowsAffected(); affected == 0 {
			return &types.NotFoundError{Model: n.child.Name}
		}
	}
	return nil
}

func (n *nestedCtx) insertJoinRow(ctx context.Context, otherID interface{}) error {
	stmt := &ast.InsertStmt{
		Table:             &ast.Table{Name: n.jt.Table},
		Columns:           []string{n.jt.ParentFK, n.jt.OtherFK},
		Rows:              [][]ast.Expr{{ast.Val(n.parentRow[n.parent.IDFields[0]]), ast.Val(otherID)}},
		ConflictDoNothing: true,
	}
	_, err := n.e.exec(ctx, "", stmt)
	return err
}
