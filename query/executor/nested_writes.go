package executor

import (
	"context"
	"sort"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// nestedOpOrder is the execution order of nested relation operations. It
// preserves referential integrity under the common patterns: rows are
// released (disconnect/set/delete) before new rows arrive, connects run
// before targeted updates.
var nestedOpOrder = []string{
	"disconnect", "set", "delete", "deleteMany",
	"create", "createMany", "connect", "connectOrCreate",
	"update", "updateMany", "upsert",
}

// relationWrite is one relation field's manipulation object within
// create/update data.
type relationWrite struct {
	field *schema.Field
	ops   types.Record
}

// splitData partitions create/update data into scalar values, owned-side
// relation writes (the current model carries the FK, so they resolve to FK
// assignments before insert), and non-owned nested writes (run against the
// parent ids afterwards).
func (e *Executor) splitData(m *schema.Model, data types.Record) (scalars types.Record, owned, nested []relationWrite, err error) {
	scalars = types.Record{}
	for _, key := range sortedDataKeys(data) {
		v := data[key]
		f := m.Field(key)
		if f == nil {
			return nil, nil, nil, types.Internalf("data references unknown field %s.%s", m.Name, key)
		}
		if !f.IsRelation() {
			scalars[key] = v
			continue
		}
		ops, ok := v.(types.Record)
		if !ok {
			return nil, nil, nil, types.Internalf("relation %s.%s requires a manipulation object", m.Name, key)
		}
		if _, isM2M := e.Schema.ImplicitJoinTable(m, f); !isM2M && !f.IsToMany() {
			link, lerr := e.Schema.RelationPairs(m, f)
			if lerr != nil {
				return nil, nil, nil, lerr
			}
			if link.OwnedByModel {
				owned = append(owned, relationWrite{field: f, ops: ops})
				continue
			}
		}
		nested = append(nested, relationWrite{field: f, ops: ops})
	}
	return scalars, owned, nested, nil
}

// createTree inserts one entity with its nested writes and returns the row
// values the planner knows (input data, generated values, database ids).
func (e *Executor) createTree(ctx context.Context, m *schema.Model, data types.Record) (types.Record, error) {
	scalars, owned, nested, err := e.splitData(m, data)
	if err != nil {
		return nil, err
	}

	// Owned-side references resolve to FK assignments pre-insert.
	for _, w := range owned {
		assigns, err := e.resolveOwnedRelation(ctx, m, w)
		if err != nil {
			return nil, err
		}
		for k, v := range assigns {
			scalars[k] = v
		}
	}

	row, err := e.insertChecked(ctx, m, scalars, false)
	if err != nil {
		return nil, err
	}

	for _, w := range nested {
		if err := e.runNestedWrites(ctx, m, row, w); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// prepareBatch fills generated values for createMany rows and reports
// whether any create policy needs per-row database checks.
func (e *Executor) prepareBatch(m *schema.Model, rows []types.Record) ([]types.Record, bool, error) {
	fallback := false
	prepared := make([]types.Record, 0, len(rows))
	for _, row := range rows {
		copied := types.Record{}
		for k, v := range row {
			copied[k] = v
		}
		if err := e.fillGenerated(m, copied); err != nil {
			return nil, false, err
		}
		if e.Policy != nil && e.Policy.NeedsCheck(m, schema.OpCreate) {
			allowed, decided := e.Policy.CheckCreateLocal(m, copied)
			if decided && !allowed {
				return nil, false, &types.PolicyError{Model: m.Name, Operation: string(schema.OpCreate)}
			}
			if !decided {
				fallback = true
			}
		}
		prepared = append(prepared, copied)
	}
	return prepared, fallback, nil
}

// insertChecked fills generated values, enforces the create policy (in
// memory where possible, otherwise via a would-be select inside the
// transaction), inserts, and returns the row including database-assigned
// ids.
func (e *Executor) insertChecked(ctx context.Context, m *schema.Model, scalars types.Record, skipDuplicates bool) (types.Record, error) {
	if err := e.fillGenerated(m, scalars); err != nil {
		return nil, err
	}

	postCheck := false
	if e.Policy != nil && e.Policy.NeedsCheck(m, schema.OpCreate) {
		allowed, decided := e.Policy.CheckCreateLocal(m, scalars)
		if decided && !allowed {
			return nil, &types.PolicyError{Model: m.Name, Operation: string(schema.OpCreate)}
		}
		postCheck = !decided
	}

	needIDs := false
	for _, id := range m.IDFields {
		if _, ok := scalars[id]; !ok {
			needIDs = true
		}
	}

	stmt, err := e.Compiler.BuildInsert(m, []types.Record{scalars}, needIDs && e.Dialect.SupportsReturning(), skipDuplicates)
	if err != nil {
		return nil, err
	}

	row := types.Record{}
	for k, v := range scalars {
		row[k] = v
	}

	if needIDs && e.Dialect.SupportsReturning() {
		returned, err := e.execReturning(ctx, m.Name, stmt)
		if err != nil {
			return nil, err
		}
		if len(returned) == 0 {
			return nil, types.Internalf("insert into %s returned no ids", m.Name)
		}
		for _, id := range m.IDs() {
			v, err := e.Dialect.TransformOutput(id.Type, returned[0][id.Name])
			if err != nil {
				return nil, err
			}
			row[id.Name] = v
		}
	} else {
		res, err := e.exec(ctx, m.Name, stmt)
		if err != nil {
			return nil, err
		}
		if needIDs {
			// Without RETURNING the only recoverable id is a single
			// autoincrement column.
			last, err := res.LastInsertId()
			if err != nil || len(m.IDFields) != 1 {
				return nil, types.Internalf("cannot recover generated id for %s", m.Name)
			}
			row[m.IDFields[0]] = last
		}
	}

	if postCheck {
		pred, err := e.Policy.Predicate(m, "", schema.OpCreate)
		if err != nil {
			return nil, err
		}
		found, err := e.selectRows(ctx, m, ast.And(idPredicate(m, idsOf(m, row)), pred), m.IDFields, ast.IntPtr(1))
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, &types.PolicyError{Model: m.Name, Operation: string(schema.OpCreate)}
		}
	}
	return row, nil
}

// updateTree updates the row matching targetPred, runs nested writes, and
// returns the (possibly renewed) id values.
func (e *Executor) updateTree(ctx context.Context, m *schema.Model, targetPred ast.Expr, data types.Record) (types.Record, error) {
	pred := targetPred
	if e.Policy != nil {
		polPred, err := e.Policy.FilterPredicate(m, schema.OpUpdate)
		if err != nil {
			return nil, err
		}
		pred = ast.And(pred, polPred)
	}

	scalars, owned, nested, err := e.splitData(m, data)
	if err != nil {
		return nil, err
	}

	// The parent row carries every column nested scopes join on.
	fields := parentFields(e, m, nested)
	targets, err := e.selectRows(ctx, m, pred, fields, ast.IntPtr(1))
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, &types.NotFoundError{Model: m.Name}
	}
	parentRow := targets[0]

	for _, w := range owned {
		assigns, err := e.resolveOwnedRelation(ctx, m, w)
		if err != nil {
			return nil, err
		}
		for k, v := range assigns {
			scalars[k] = v
		}
	}

	touchUpdatedAt(m, scalars)
	var assigns []ast.Assign
	for _, key := range sortedDataKeys(scalars) {
		f := m.Field(key)
		a, err := e.Compiler.Assignment(m, f, scalars[key])
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, a)
	}
	if len(assigns) > 0 {
		stmt := e.Compiler.BuildUpdate(m, idPredicate(m, idsOf(m, parentRow)), assigns, nil, false)
		if _, err := e.exec(ctx, m.Name, stmt); err != nil {
			return nil, err
		}
	}

	// Id updates renew the addressing tuple for everything that follows.
	newIDs := idsOf(m, parentRow)
	for _, id := range m.IDFields {
		if v, ok := scalars[id]; ok {
			if _, isOp := v.(types.Record); !isOp {
				newIDs[id] = v
				parentRow[id] = v
			}
		}
	}

	for _, w := range nested {
		if err := e.runNestedWrites(ctx, m, parentRow, w); err != nil {
			return nil, err
		}
	}

	if err := e.checkPostUpdate(ctx, m, newIDs); err != nil {
		return nil, err
	}
	return newIDs, nil
}

// parentFields collects the id fields plus every local field nested writes
// join through.
func parentFields(e *Executor, m *schema.Model, nested []relationWrite) []string {
	fields := append([]string{}, m.IDFields...)
	seen := map[string]bool{}
	for _, f := range fields {
		seen[f] = true
	}
	for _, w := range nested {
		link, err := e.Schema.RelationPairs(m, w.field)
		if err != nil {
			continue // implicit m2m joins through ids only
		}
		for _, p := range link.Pairs {
			name := p.PK
			if link.OwnedByModel {
				name = p.FK
			}
			if !seen[name] {
				seen[name] = true
				fields = append(fields, name)
			}
		}
	}
	return fields
}

// resolveOwnedRelation turns create/connect/connectOrCreate/disconnect on
// an owned to-one relation into FK column assignments.
func (e *Executor) resolveOwnedRelation(ctx context.Context, m *schema.Model, w relationWrite) (types.Record, error) {
	f := w.field
	related := f.RelatedModel()
	link, err := e.Schema.RelationPairs(m, f)
	if err != nil {
		return nil, err
	}

	assignFrom := func(target types.Record) types.Record {
		out := types.Record{}
		for _, p := range link.Pairs {
			out[p.FK] = target[p.PK]
		}
		return out
	}

	for _, op := range sortedDataKeys(w.ops) {
		v := w.ops[op]
		switch op {
		case "create":
			data, _ := v.(types.Record)
			childRow, err := e.createTree(ctx, related, data)
			if err != nil {
				return nil, err
			}
			return assignFrom(childRow), nil
		case "connect":
			where, _ := v.(types.Record)
			target, err := e.findConnectTarget(ctx, related, where, link)
			if err != nil {
				return nil, err
			}
			if target == nil {
				return nil, &types.NotFoundError{Model: related.Name}
			}
			return assignFrom(target), nil
		case "connectOrCreate":
			spec, _ := v.(types.Record)
			where, _ := spec["where"].(types.Record)
			target, err := e.findConnectTarget(ctx, related, where, link)
			if err != nil {
				return nil, err
			}
			if target == nil {
				data, _ := spec["create"].(types.Record)
				childRow, err := e.createTree(ctx, related, data)
				if err != nil {
					return nil, err
				}
				return assignFrom(childRow), nil
			}
			return assignFrom(target), nil
		case "disconnect":
			out := types.Record{}
			for _, p := range link.Pairs {
				out[p.FK] = nil
			}
			return out, nil
		case "update":
			// Update through the current FK values.
			spec, _ := v.(types.Record)
			data := spec
			if nested, ok := spec["data"].(types.Record); ok {
				data = nested
			}
			pred, err := e.ownedTargetPredicate(ctx, m, link, related)
			if err != nil {
				return nil, err
			}
			if _, err := e.updateTree(ctx, related, pred, data); err != nil {
				return nil, err
			}
			return types.Record{}, nil
		default:
			return nil, types.Internalf("unsupported operation %s on owned relation %s.%s", op, m.Name, f.Name)
		}
	}
	return types.Record{}, nil
}

// ownedTargetPredicate addresses the row currently connected through an
// owned FK. It relies on the enclosing updateTree having located the
// parent; used only for nested update on owned to-one relations.
func (e *Executor) ownedTargetPredicate(ctx context.Context, m *schema.Model, link *schema.RelationLink, related *schema.Model) (ast.Expr, error) {
	sub := &ast.SelectStmt{
		From: &ast.Table{Name: m.Table(), Alias: "p", Model: m.Name},
	}
	var pred ast.Expr = ast.True()
	for _, p := range link.Pairs {
		sub.Columns = []ast.SelectItem{{Expr: ast.Col("p", m.Field(p.FK).Column())}}
		pred = ast.And(pred, &ast.InSelect{X: ast.Col("", related.Field(p.PK).Column()), Sel: sub})
	}
	return pred, nil
}

// findConnectTarget reads the referenced columns of a connect target.
func (e *Executor) findConnectTarget(ctx context.Context, related *schema.Model, where types.Record, link *schema.RelationLink) (types.Record, error) {
	pred, err := e.Compiler.CompileWhereBare(related, where)
	if err != nil {
		return nil, err
	}
	if e.Policy != nil {
		polPred, err := e.Policy.FilterPredicate(related, schema.OpRead)
		if err != nil {
			return nil, err
		}
		pred = ast.And(pred, polPred)
	}
	var fields []string
	for _, p := range link.Pairs {
		fields = append(fields, p.PK)
	}
	rows, err := e.selectRows(ctx, related, pred, fields, ast.IntPtr(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func sortedDataKeys(m types.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
