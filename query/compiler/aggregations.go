package compiler

import (
	"strings"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// Aggregate operator names accepted in aggregate/groupBy selections.
var aggregateOps = []string{"_count", "_avg", "_sum", "_min", "_max"}

func isAggregateOp(s string) bool {
	for _, op := range aggregateOps {
		if s == op {
			return true
		}
	}
	return false
}

// AggSel maps one result-column alias back to its aggregate op and field.
type AggSel struct {
	Alias string
	Op    string // "", for groupBy by-columns
	Field *schema.Field
}

// AggQuery is a compiled count/aggregate/groupBy statement with the
// metadata to fold its row(s) back into nested result objects.
type AggQuery struct {
	Stmt *ast.SelectStmt
	Sels []AggSel
}

// CompileCount compiles count. A select argument distinguishes _all from
// per-field non-null counts; where/take/skip/cursor narrow the counted set.
func (c *Compiler) CompileCount(model string, args types.Record) (*AggQuery, error) {
	m, err := c.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	st := &state{}
	inner, alias, err := c.countScope(st, m, args)
	if err != nil {
		return nil, err
	}

	sel, hasSelect := args["select"].(types.Record)
	if !hasSelect {
		inner.Columns = []ast.SelectItem{{Expr: &ast.FuncCall{Name: "COUNT", Star: true}, Alias: "_count"}}
		return &AggQuery{Stmt: inner, Sels: []AggSel{{Alias: "_count", Op: "_count"}}}, nil
	}

	q := &AggQuery{Stmt: inner}
	for _, key := range sortedKeys(sel) {
		if b, ok := sel[key].(bool); ok && !b {
			continue
		}
		if key == "_all" {
			inner.Columns = append(inner.Columns, ast.SelectItem{Expr: &ast.FuncCall{Name: "COUNT", Star: true}, Alias: "_all"})
			q.Sels = append(q.Sels, AggSel{Alias: "_all", Op: "_count"})
			continue
		}
		f := m.Field(key)
		if f == nil || f.IsRelation() {
			return nil, types.Internalf("count select references unknown scalar %s.%s", m.Name, key)
		}
		inner.Columns = append(inner.Columns, ast.SelectItem{
			Expr:  &ast.FuncCall{Name: "COUNT", Args: []ast.Expr{ast.Col(alias, f.Column())}},
			Alias: key,
		})
		q.Sels = append(q.Sels, AggSel{Alias: key, Op: "_count", Field: f})
	}
	return q, nil
}

// countScope builds the FROM/WHERE skeleton shared by count and aggregate.
// take/skip wrap the scope in a subselect so the aggregate sees the
// paginated set.
func (c *Compiler) countScope(st *state, m *schema.Model, args types.Record) (*ast.SelectStmt, string, error) {
	alias := st.alias()
	sel := &ast.SelectStmt{
		From: &ast.Table{Name: m.Table(), Alias: alias, Model: m.Name},
	}
	if where, ok := args["where"].(types.Record); ok {
		pred, err := c.compileWhere(st, m, alias, where)
		if err != nil {
			return nil, "", err
		}
		sel.Where = pred
	}
	if args["take"] == nil && args["skip"] == nil && args["cursor"] == nil {
		return sel, alias, nil
	}
	if err := c.applyOrderPagination(st, m, alias, sel, args); err != nil {
		return nil, "", err
	}
	// The wrapper must carry every scalar the aggregates may reference.
	for _, f := range m.Scalars() {
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: ast.Col(alias, f.Column()), Alias: f.Column()})
	}
	wrapAlias := st.alias()
	outer := &ast.SelectStmt{From: &ast.SubselectRef{Sel: sel, Alias: wrapAlias}}
	return outer, wrapAlias, nil
}

// CompileAggregate compiles aggregate: _count/_avg/_sum/_min/_max over
// scalar fields in one statement.
func (c *Compiler) CompileAggregate(model string, args types.Record) (*AggQuery, error) {
	m, err := c.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	st := &state{}
	sel, alias, err := c.countScope(st, m, args)
	if err != nil {
		return nil, err
	}

	q := &AggQuery{Stmt: sel}
	for _, op := range aggregateOps {
		spec, ok := args[op]
		if !ok {
			continue
		}
		if b, isBool := spec.(bool); isBool {
			if op == "_count" && b {
				sel.Columns = append(sel.Columns, ast.SelectItem{Expr: &ast.FuncCall{Name: "COUNT", Star: true}, Alias: "_count"})
				q.Sels = append(q.Sels, AggSel{Alias: "_count", Op: "_count"})
			}
			continue
		}
		fields, ok := spec.(types.Record)
		if !ok {
			return nil, types.Internalf("%s must be an object of fields", op)
		}
		for _, name := range sortedKeys(fields) {
			if b, isBool := fields[name].(bool); isBool && !b {
				continue
			}
			if op == "_count" && name == "_all" {
				sel.Columns = append(sel.Columns, ast.SelectItem{Expr: &ast.FuncCall{Name: "COUNT", Star: true}, Alias: "_count" + PathSep + "_all"})
				q.Sels = append(q.Sels, AggSel{Alias: "_count" + PathSep + "_all", Op: "_count"})
				continue
			}
			f := m.Field(name)
			if f == nil || f.IsRelation() {
				return nil, types.Internalf("%s references unknown scalar %s.%s", op, m.Name, name)
			}
			a := op + PathSep + name
			sel.Columns = append(sel.Columns, ast.SelectItem{
				Expr:  &ast.FuncCall{Name: aggFuncName(op), Args: []ast.Expr{ast.Col(alias, f.Column())}},
				Alias: a,
			})
			q.Sels = append(q.Sels, AggSel{Alias: a, Op: op, Field: f})
		}
	}
	if len(q.Sels) == 0 {
		return nil, types.Internalf("aggregate requires at least one aggregation")
	}
	return q, nil
}

// CompileGroupBy compiles groupBy: by-columns plus aggregations, with
// having filtering on aggregate results.
func (c *Compiler) CompileGroupBy(model string, args types.Record) (*AggQuery, error) {
	m, err := c.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	st := &state{}
	alias := st.alias()
	sel := &ast.SelectStmt{
		From: &ast.Table{Name: m.Table(), Alias: alias, Model: m.Name},
	}
	if where, ok := args["where"].(types.Record); ok {
		pred, err := c.compileWhere(st, m, alias, where)
		if err != nil {
			return nil, err
		}
		sel.Where = pred
	}

	by, err := byFields(args["by"])
	if err != nil {
		return nil, err
	}
	q := &AggQuery{Stmt: sel}
	for _, name := range by {
		f := m.Field(name)
		if f == nil || f.IsRelation() {
			return nil, types.Internalf("groupBy by references unknown scalar %s.%s", m.Name, name)
		}
		sel.GroupBy = append(sel.GroupBy, ast.Col(alias, f.Column()))
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: ast.Col(alias, f.Column()), Alias: name})
		q.Sels = append(q.Sels, AggSel{Alias: name, Field: f})
	}
	for _, op := range aggregateOps {
		spec, ok := args[op]
		if !ok {
			continue
		}
		if b, isBool := spec.(bool); isBool {
			if op == "_count" && b {
				sel.Columns = append(sel.Columns, ast.SelectItem{Expr: &ast.FuncCall{Name: "COUNT", Star: true}, Alias: "_count"})
				q.Sels = append(q.Sels, AggSel{Alias: "_count", Op: "_count"})
			}
			continue
		}
		fields, ok := spec.(types.Record)
		if !ok {
			return nil, types.Internalf("%s must be an object of fields", op)
		}
		for _, name := range sortedKeys(fields) {
			if b, isBool := fields[name].(bool); isBool && !b {
				continue
			}
			f := m.Field(name)
			if f == nil || f.IsRelation() {
				return nil, types.Internalf("%s references unknown scalar %s.%s", op, m.Name, name)
			}
			a := op + PathSep + name
			sel.Columns = append(sel.Columns, ast.SelectItem{
				Expr:  &ast.FuncCall{Name: aggFuncName(op), Args: []ast.Expr{ast.Col(alias, f.Column())}},
				Alias: a,
			})
			q.Sels = append(q.Sels, AggSel{Alias: a, Op: op, Field: f})
		}
	}

	if having, ok := args["having"].(types.Record); ok {
		pred, err := c.compileHaving(st, m, alias, having)
		if err != nil {
			return nil, err
		}
		sel.Having = pred
	}

	if ob, ok := args["orderBy"]; ok {
		items, err := c.groupOrder(m, alias, by, ob)
		if err != nil {
			return nil, err
		}
		sel.OrderBy = items
	} else {
		sel.OrderBy = append([]ast.OrderItem{}, groupDefaultOrder(sel.GroupBy)...)
	}
	if take, ok := intArg(args["take"]); ok {
		sel.Limit = ast.IntPtr(take)
	}
	if skip, ok := intArg(args["skip"]); ok {
		sel.Offset = ast.IntPtr(skip)
	}
	return q, nil
}

func groupDefaultOrder(groupBy []ast.Expr) []ast.OrderItem {
	items := make([]ast.OrderItem, len(groupBy))
	for i, g := range groupBy {
		items[i] = ast.OrderItem{X: g}
	}
	return items
}

func (c *Compiler) groupOrder(m *schema.Model, alias string, by []string, ob interface{}) ([]ast.OrderItem, error) {
	var entries []types.Record
	switch x := ob.(type) {
	case types.Record:
		entries = []types.Record{x}
	case []interface{}:
		for _, e := range x {
			rec, ok := e.(types.Record)
			if !ok {
				return nil, types.Internalf("orderBy entry is not an object")
			}
			entries = append(entries, rec)
		}
	default:
		return nil, types.Internalf("orderBy has unexpected type %T", ob)
	}
	var items []ast.OrderItem
	for _, entry := range entries {
		for _, key := range sortedKeys(entry) {
			if isAggregateOp(key) {
				fields, ok := entry[key].(types.Record)
				if !ok {
					return nil, types.Internalf("orderBy %s must be an object", key)
				}
				for _, name := range sortedKeys(fields) {
					desc, _, err := sortDirection(fields[name])
					if err != nil {
						return nil, err
					}
					f := m.Field(name)
					if f == nil {
						return nil, types.Internalf("orderBy references unknown field %s.%s", m.Name, name)
					}
					items = append(items, ast.OrderItem{
						X:    &ast.FuncCall{Name: aggFuncName(key), Args: []ast.Expr{ast.Col(alias, f.Column())}},
						Desc: desc,
					})
				}
				continue
			}
			if !containsStr(by, key) {
				return nil, types.Internalf("groupBy orderBy field %s is not in by", key)
			}
			desc, _, err := sortDirection(entry[key])
			if err != nil {
				return nil, err
			}
			items = append(items, ast.OrderItem{X: ast.Col(alias, m.Field(key).Column()), Desc: desc})
		}
	}
	return items, nil
}

// compileHaving compiles having filters: scalar filters against grouped
// columns and aggregate filters ({_avg: {gt: …}}) against aggregate calls.
func (c *Compiler) compileHaving(st *state, m *schema.Model, alias string, having types.Record) (ast.Expr, error) {
	var conj []ast.Expr
	for _, key := range sortedKeys(having) {
		v := having[key]
		switch key {
		case "AND", "OR", "NOT":
			subs, err := c.havingList(st, m, alias, v)
			if err != nil {
				return nil, err
			}
			switch key {
			case "AND":
				conj = append(conj, ast.And(subs...))
			case "OR":
				conj = append(conj, ast.Or(subs...))
			default:
				conj = append(conj, ast.Not(ast.And(subs...)))
			}
			continue
		}
		f := m.Field(key)
		if f == nil || f.IsRelation() {
			return nil, types.Internalf("having references unknown scalar %s.%s", m.Name, key)
		}
		spec, ok := v.(types.Record)
		if !ok {
			conj = append(conj, ast.Eq(ast.Col(alias, f.Column()), ast.Val(v)))
			continue
		}
		for _, op := range sortedKeys(spec) {
			if isAggregateOp(op) {
				aggSpec, ok := spec[op].(types.Record)
				if !ok {
					return nil, types.Internalf("having %s on %s.%s must be an object", op, m.Name, key)
				}
				agg := &ast.FuncCall{Name: aggFuncName(op), Args: []ast.Expr{ast.Col(alias, f.Column())}}
				for _, cmp := range sortedKeys(aggSpec) {
					pred, err := comparePred(agg, cmp, aggSpec[cmp])
					if err != nil {
						return nil, err
					}
					conj = append(conj, pred)
				}
				continue
			}
			pred, err := comparePred(ast.Col(alias, f.Column()), op, spec[op])
			if err != nil {
				return nil, err
			}
			conj = append(conj, pred)
		}
	}
	return ast.And(conj...), nil
}

func (c *Compiler) havingList(st *state, m *schema.Model, alias string, v interface{}) ([]ast.Expr, error) {
	var entries []types.Record
	switch x := v.(type) {
	case types.Record:
		entries = []types.Record{x}
	case []interface{}:
		for _, e := range x {
			rec, ok := e.(types.Record)
			if !ok {
				return nil, types.Internalf("having combinator entry is not an object")
			}
			entries = append(entries, rec)
		}
	default:
		return nil, types.Internalf("having combinator has unexpected type %T", v)
	}
	out := make([]ast.Expr, 0, len(entries))
	for _, e := range entries {
		pred, err := c.compileHaving(st, m, alias, e)
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	return out, nil
}

func comparePred(l ast.Expr, op string, v interface{}) (ast.Expr, error) {
	switch op {
	case "equals":
		return ast.Eq(l, ast.Val(v)), nil
	case "not":
		return ast.Ne(l, ast.Val(v)), nil
	case "lt":
		return &ast.Binary{Op: "<", L: l, R: ast.Val(v)}, nil
	case "lte":
		return &ast.Binary{Op: "<=", L: l, R: ast.Val(v)}, nil
	case "gt":
		return &ast.Binary{Op: ">", L: l, R: ast.Val(v)}, nil
	case "gte":
		return &ast.Binary{Op: ">=", L: l, R: ast.Val(v)}, nil
	case "in":
		items, err := valueList(v)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return ast.False(), nil
		}
		return &ast.InList{X: l, Items: items}, nil
	}
	return nil, types.Internalf("unknown comparison %s", op)
}

func aggFuncName(op string) string {
	switch op {
	case "_count":
		return "COUNT"
	default:
		return strings.ToUpper(strings.TrimPrefix(op, "_"))
	}
}

func byFields(v interface{}) ([]string, error) {
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, types.Internalf("by entry is not a string")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, types.Internalf("groupBy requires by")
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
