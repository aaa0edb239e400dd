package compiler

import (
	"sort"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// projectRelation compiles one included/selected relation. To-one relations
// at the flat level left-join the related table and alias its columns with
// the path separator; to-many relations aggregate into a JSON column so the
// whole subtree arrives in one round-trip.
func (c *Compiler) projectRelation(st *state, m *schema.Model, parentAlias, path string, sel *ast.SelectStmt, f *schema.Field, args types.Record) (*RelationSel, error) {
	childPath := f.Name
	if path != "" {
		childPath = path + PathSep + f.Name
	}

	if !f.IsToMany() {
		related := f.RelatedModel()
		a := st.alias()
		on, err := c.joinCondition(m, parentAlias, f, related, a)
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, ast.Join{
			Kind:   ast.JoinLeft,
			Target: &ast.Table{Name: related.Table(), Alias: a, Model: related.Name},
			On:     on,
		})
		child, err := c.project(st, related, a, childPath, sel, args)
		if err != nil {
			return nil, err
		}
		return &RelationSel{Field: f, Name: f.Name, Strategy: StrategyFlat, Child: child}, nil
	}

	sub, child, err := c.buildToManyJSON(st, m, parentAlias, f, args)
	if err != nil {
		return nil, err
	}

	alias := childPath
	if c.Dialect.SupportsLateralJoin() {
		// LEFT JOIN LATERAL (SELECT jsonb_agg(…) AS v FROM …) sub ON TRUE.
		subAlias := st.alias()
		sub.Columns[0].Alias = "v"
		sel.Joins = append(sel.Joins, ast.Join{
			Kind:   ast.JoinLeftLateral,
			Target: &ast.SubselectRef{Sel: sub, Alias: subAlias},
			On:     ast.True(),
		})
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: ast.Col(subAlias, "v"), Alias: alias})
	} else {
		// Correlated scalar subquery.
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: &ast.Subquery{Sel: sub}, Alias: alias})
	}
	return &RelationSel{Field: f, Name: f.Name, Strategy: StrategyJSON, Alias: alias, Child: child}, nil
}

// joinCondition builds the ON predicate joining a to-one relation.
func (c *Compiler) joinCondition(m *schema.Model, parentAlias string, f *schema.Field, related *schema.Model, relatedAlias string) (ast.Expr, error) {
	link, err := c.Schema.RelationPairs(m, f)
	if err != nil {
		return nil, err
	}
	var on ast.Expr = ast.True()
	for _, p := range link.Pairs {
		if link.OwnedByModel {
			on = ast.And(on, ast.Eq(
				ast.Col(relatedAlias, related.Field(p.PK).Column()),
				ast.Col(parentAlias, m.Field(p.FK).Column()),
			))
		} else {
			on = ast.And(on, ast.Eq(
				ast.Col(relatedAlias, related.Field(p.FK).Column()),
				ast.Col(parentAlias, m.Field(p.PK).Column()),
			))
		}
	}
	return on, nil
}

// buildToManyJSON builds the aggregating subquery for a to-many relation:
// SELECT json_agg(json_object(…)) FROM related WHERE <scoped to parent>.
// A relation that needs pagination, ordering or distinct is wrapped in an
// inner select before aggregation.
func (c *Compiler) buildToManyJSON(st *state, m *schema.Model, parentAlias string, f *schema.Field, args types.Record) (*ast.SelectStmt, *Shape, error) {
	related := f.RelatedModel()
	inner, innerAlias, err := c.relationScope(st, m, parentAlias, f)
	if err != nil {
		return nil, nil, err
	}

	if where, ok := args["where"].(types.Record); ok {
		pred, err := c.compileWhere(st, related, innerAlias, where)
		if err != nil {
			return nil, nil, err
		}
		inner.Where = ast.And(inner.Where, pred)
	}

	orderBy, err := c.compileOrderArgs(st, related, innerAlias, inner, args)
	if err != nil {
		return nil, nil, err
	}

	needsWrap := args["take"] != nil || args["skip"] != nil || args["cursor"] != nil || args["distinct"] != nil

	if !needsWrap {
		obj, child, err := c.jsonObjectShape(st, related, innerAlias, args)
		if err != nil {
			return nil, nil, err
		}
		agg := &ast.JSONAgg{X: obj, OrderBy: orderBy}
		inner.Columns = []ast.SelectItem{{Expr: agg}}
		return inner, child, nil
	}

	// Wrapped form: paginate rows first, aggregate the wrapper.
	obj, child, err := c.jsonObjectShape(st, related, innerAlias, args)
	if err != nil {
		return nil, nil, err
	}
	inner.Columns = []ast.SelectItem{{Expr: c.Dialect.JSONValue(obj), Alias: "row"}}
	inner.OrderBy = orderBy
	if err := c.applyTakeSkipCursor(st, related, innerAlias, inner, args); err != nil {
		return nil, nil, err
	}
	if distinct, ok := args["distinct"]; ok {
		if err := c.applyDistinct(related, innerAlias, inner, distinct); err != nil {
			return nil, nil, err
		}
	}
	wrapAlias := st.alias()
	outer := &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: &ast.JSONAgg{X: c.Dialect.JSONValue(ast.Col(wrapAlias, "row"))}}},
		From:    &ast.SubselectRef{Sel: inner, Alias: wrapAlias},
	}
	return outer, child, nil
}

// jsonObjectShape builds the JSON object for one entity of a JSON-strategy
// subtree, including nested relations as embedded JSON values.
func (c *Compiler) jsonObjectShape(st *state, m *schema.Model, alias string, args types.Record) (*ast.JSONObject, *Shape, error) {
	shape := &Shape{Model: m}
	obj := &ast.JSONObject{}

	selectArg, hasSelect := args["select"].(types.Record)
	includeArg, _ := args["include"].(types.Record)
	omitArg, _ := args["omit"].(types.Record)

	wantScalar := func(f *schema.Field) bool {
		if hasSelect {
			v, ok := selectArg[f.Name]
			b, isBool := v.(bool)
			return ok && (!isBool || b)
		}
		if omitArg != nil {
			if v, ok := omitArg[f.Name].(bool); ok && v {
				return false
			}
		}
		return true
	}

	for _, inh := range c.scalarsWithBase(m) {
		f := inh.field
		if inh.ancestor != nil {
			// Inherited delegate scalars join at the flat level only; JSON
			// subtrees do not include them.
			continue
		}
		if !wantScalar(f) {
			continue
		}
		obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: f.Name, Val: ast.Col(alias, f.Column())})
		shape.Fields = append(shape.Fields, FieldSel{Field: f, Alias: f.Name})
	}

	seen := map[string]bool{}
	for _, fs := range shape.Fields {
		seen[fs.Field.Name] = true
	}
	for _, id := range m.IDs() {
		if !seen[id.Name] {
			obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: id.Name, Val: ast.Col(alias, id.Column())})
			shape.Fields = append(shape.Fields, FieldSel{Field: id, Alias: id.Name})
			shape.Extras = append(shape.Extras, id.Name)
		}
	}

	for name, ce := range m.ComputedFields {
		f := m.Field(name)
		if f == nil || !wantScalar(f) {
			continue
		}
		col, err := c.CompileExpr(st, m, alias, ce, nil)
		if err != nil {
			return nil, nil, err
		}
		obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: name, Val: col})
		shape.Fields = append(shape.Fields, FieldSel{Field: f, Alias: name})
	}

	relArgs := map[string]interface{}{}
	if hasSelect {
		for k, v := range selectArg {
			if f := m.Field(k); f != nil && f.IsRelation() {
				relArgs[k] = v
			}
		}
	}
	for k, v := range includeArg {
		if k != "_count" {
			relArgs[k] = v
		}
	}
	names := make([]string, 0, len(relArgs))
	for k := range relArgs {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		v := relArgs[name]
		if b, ok := v.(bool); ok && !b {
			continue
		}
		f := m.Field(name)
		if f == nil || !f.IsRelation() {
			return nil, nil, types.Internalf("projection of unknown relation %s.%s", m.Name, name)
		}
		nested, _ := v.(types.Record)
		if nested == nil {
			nested = types.Record{}
		}

		if f.IsToMany() {
			sub, child, err := c.buildToManyJSON(st, m, alias, f, nested)
			if err != nil {
				return nil, nil, err
			}
			obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: name, Val: c.Dialect.JSONValue(&ast.Subquery{Sel: sub})})
			shape.Relations = append(shape.Relations, &RelationSel{Field: f, Name: name, Strategy: StrategyJSON, Alias: name, Child: child})
			continue
		}

		// Nested to-one: a correlated scalar subquery yielding one object
		// or NULL.
		related := f.RelatedModel()
		sub, subAlias, err := c.relationScope(st, m, alias, f)
		if err != nil {
			return nil, nil, err
		}
		childObj, child, err := c.jsonObjectShape(st, related, subAlias, nested)
		if err != nil {
			return nil, nil, err
		}
		sub.Columns = []ast.SelectItem{{Expr: childObj}}
		sub.Limit = ast.IntPtr(1)
		obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: name, Val: c.Dialect.JSONValue(&ast.Subquery{Sel: sub})})
		shape.Relations = append(shape.Relations, &RelationSel{Field: f, Name: name, Strategy: StrategyJSON, Alias: name, Child: child})
	}

	if countArg := countRequest(selectArg, includeArg); countArg != nil {
		countObj := &ast.JSONObject{}
		spec, _ := countArg["select"].(types.Record)
		var cnames []string
		if spec == nil {
			for _, rf := range m.Relations() {
				if rf.IsToMany() {
					cnames = append(cnames, rf.Name)
				}
			}
		} else {
			for k := range spec {
				cnames = append(cnames, k)
			}
			sort.Strings(cnames)
		}
		for _, cn := range cnames {
			rf := m.Field(cn)
			if rf == nil || !rf.IsToMany() {
				return nil, nil, types.Internalf("_count of non to-many field %s.%s", m.Name, cn)
			}
			var where types.Record
			if spec != nil {
				if nested, ok := spec[cn].(types.Record); ok {
					where, _ = nested["where"].(types.Record)
				}
			}
			count, err := c.relationCount(st, m, alias, rf, where)
			if err != nil {
				return nil, nil, err
			}
			countObj.Pairs = append(countObj.Pairs, ast.JSONPair{Key: cn, Val: count})
			shape.Counts = append(shape.Counts, cn)
		}
		obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: "_count", Val: c.Dialect.JSONValue(countObj)})
		shape.CountAlias = "_count"
	}

	return obj, shape, nil
}

// projectDelegates packs descendant-only fields of a delegate read into
// synthetic JSON columns so the assembler can reconstruct concrete types.
func (c *Compiler) projectDelegates(st *state, m *schema.Model, alias, prefix string, sel *ast.SelectStmt, shape *Shape) error {
	for _, d := range c.Schema.DelegateDescendants(m) {
		a := st.alias()
		var on ast.Expr = ast.True()
		for _, id := range m.IDFields {
			df := d.Field(id)
			if df == nil {
				return types.Internalf("descendant %s lacks shared id field %s", d.Name, id)
			}
			on = ast.And(on, ast.Eq(ast.Col(a, df.Column()), ast.Col(alias, m.Field(id).Column())))
		}
		sel.Joins = append(sel.Joins, ast.Join{
			Kind:   ast.JoinLeft,
			Target: &ast.Table{Name: d.Table(), Alias: a, Model: d.Name},
			On:     on,
		})

		obj := &ast.JSONObject{}
		for _, f := range d.Scalars() {
			obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: f.Name, Val: ast.Col(a, f.Column())})
		}
		colAlias := prefix + DelegatePrefix + d.Name
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: obj, Alias: colAlias})
		shape.Delegates = append(shape.Delegates, DelegateSel{Model: d, Alias: colAlias})
	}
	return nil
}
