// Package compiler translates validated query-argument trees into the SQL
// AST. It owns filter, ordering, pagination and projection strategy; the
// dialect only renders what is built here.
package compiler

import (
	"fmt"
	"sort"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/query/dialect"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// Strategy selects how a relation is read back.
type Strategy string

// Read strategies.
const (
	// StrategyFlat left-joins the relation and aliases its columns with a
	// path separator; the assembler folds rows by id tuples.
	StrategyFlat Strategy = "flat"
	// StrategyJSON aggregates the relation into a JSON column so the whole
	// tree arrives in one round-trip.
	StrategyJSON Strategy = "json"
)

// PathSep separates path segments in flat column aliases.
const PathSep = "$"

// DelegatePrefix prefixes the synthetic JSON columns carrying
// descendant-only fields of delegate reads.
const DelegatePrefix = "$delegate$"

// Compiler builds SQL statements for one schema/dialect pair.
type Compiler struct {
	Schema  *schema.Schema
	Dialect dialect.Dialect
}

// New creates a compiler.
func New(s *schema.Schema, d dialect.Dialect) *Compiler {
	return &Compiler{Schema: s, Dialect: d}
}

// state carries per-compilation alias numbering.
type state struct {
	n int
}

func (st *state) alias() string {
	a := fmt.Sprintf("t%d", st.n)
	st.n++
	return a
}

// FieldSel is one projected scalar and the result-column alias carrying it.
type FieldSel struct {
	Field *schema.Field
	Alias string
}

// RelationSel is one projected relation.
type RelationSel struct {
	Field    *schema.Field
	Name     string
	Strategy Strategy
	Alias    string // JSON strategy: the column carrying the JSON value
	Child    *Shape
}

// DelegateSel is one descendant of a delegate read, packed into a synthetic
// JSON column.
type DelegateSel struct {
	Model *schema.Model
	Alias string
}

// Shape describes the projected tree; the assembler folds rows with it.
type Shape struct {
	Model      *schema.Model
	Path       string
	Fields     []FieldSel
	Extras     []string // aliases added for bookkeeping, stripped from output
	Relations  []*RelationSel
	CountAlias string   // "" when _count was not requested
	Counts     []string // counted relation names
	Delegates  []DelegateSel
}

// ReadQuery is a compiled read: the statement plus the shape to reassemble
// its rows with.
type ReadQuery struct {
	Stmt  *ast.SelectStmt
	Shape *Shape
}

// ExprContext is the callback context handed to $expr escape hatches; the
// callback receives it and produces a raw predicate.
type ExprContext struct {
	// Alias is the table alias of the model the filter applies to.
	Alias string
	// Quote quotes an identifier for the active dialect.
	Quote func(string) string
}

// ExprFunc is the $expr callback signature: it returns a raw SQL fragment
// with ? placeholders and its bound arguments.
type ExprFunc func(ctx ExprContext) (string, []interface{})

// CompileFindMany compiles findMany/findFirst arguments.
func (c *Compiler) CompileFindMany(model string, args types.Record) (*ReadQuery, error) {
	m, err := c.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	st := &state{}
	return c.compileRead(st, m, args, true)
}

// CompileFindUnique compiles findUnique arguments.
func (c *Compiler) CompileFindUnique(model string, args types.Record) (*ReadQuery, error) {
	m, err := c.Schema.Model(model)
	if err != nil {
		return nil, err
	}
	st := &state{}
	q, err := c.compileRead(st, m, args, false)
	if err != nil {
		return nil, err
	}
	q.Stmt.Limit = ast.IntPtr(1)
	return q, nil
}

func (c *Compiler) compileRead(st *state, m *schema.Model, args types.Record, multi bool) (*ReadQuery, error) {
	alias := st.alias()
	sel := &ast.SelectStmt{
		From: &ast.Table{Name: m.Table(), Alias: alias, Model: m.Name},
	}

	if where, ok := args["where"].(types.Record); ok {
		pred, err := c.compileWhere(st, m, alias, where)
		if err != nil {
			return nil, err
		}
		if b, ok := pred.(*ast.BoolConst); !ok || !b.Value {
			sel.Where = pred
		}
	}

	shape, err := c.project(st, m, alias, "", sel, args)
	if err != nil {
		return nil, err
	}

	if multi {
		if err := c.applyOrderPagination(st, m, alias, sel, args); err != nil {
			return nil, err
		}
	}

	if distinct, ok := args["distinct"]; ok {
		if err := c.applyDistinct(m, alias, sel, distinct); err != nil {
			return nil, err
		}
	}

	return &ReadQuery{Stmt: sel, Shape: shape}, nil
}

// project builds the SELECT column list and the result shape from
// select/include/omit.
func (c *Compiler) project(st *state, m *schema.Model, alias, path string, sel *ast.SelectStmt, args types.Record) (*Shape, error) {
	shape := &Shape{Model: m, Path: path}

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

	prefix := ""
	if path != "" {
		prefix = path + PathSep
	}

	// Scalars, with ancestor tables supplying inherited delegate fields.
	for _, f := range c.scalarsWithBase(m) {
		if !wantScalar(f.field) {
			continue
		}
		a := prefix + f.field.Name
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: ast.Col(f.alias(st, c, m, alias, sel), f.field.Column()), Alias: a})
		shape.Fields = append(shape.Fields, FieldSel{Field: f.field, Alias: a})
	}

	// Id fields always ride along so the assembler can fold and the planner
	// can read back.
	seen := map[string]bool{}
	for _, fs := range shape.Fields {
		seen[fs.Field.Name] = true
	}
	for _, id := range m.IDs() {
		if !seen[id.Name] {
			a := prefix + id.Name
			sel.Columns = append(sel.Columns, ast.SelectItem{Expr: ast.Col(alias, id.Column()), Alias: a})
			shape.Fields = append(shape.Fields, FieldSel{Field: id, Alias: a})
			shape.Extras = append(shape.Extras, a)
		}
	}

	// Computed fields selected explicitly.
	for name, ce := range m.ComputedFields {
		f := m.Field(name)
		if f == nil || !wantScalar(f) {
			continue
		}
		col, err := c.CompileExpr(st, m, alias, ce, nil)
		if err != nil {
			return nil, err
		}
		a := prefix + name
		sel.Columns = append(sel.Columns, ast.SelectItem{Expr: col, Alias: a})
		shape.Fields = append(shape.Fields, FieldSel{Field: f, Alias: a})
	}

	// Relations from select or include.
	relArgs := map[string]interface{}{}
	if hasSelect {
		for k, v := range selectArg {
			if f := m.Field(k); f != nil && f.IsRelation() {
				relArgs[k] = v
			}
		}
	}
	for k, v := range includeArg {
		if k == "_count" {
			continue
		}
		relArgs[k] = v
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
			return nil, types.Internalf("projection of unknown relation %s.%s", m.Name, name)
		}
		nested, _ := v.(types.Record)
		if nested == nil {
			nested = types.Record{}
		}
		rel, err := c.projectRelation(st, m, alias, path, sel, f, nested)
		if err != nil {
			return nil, err
		}
		shape.Relations = append(shape.Relations, rel)
	}

	// _count selection.
	if countArg := countRequest(selectArg, includeArg); countArg != nil {
		if err := c.projectCount(st, m, alias, prefix, sel, shape, countArg); err != nil {
			return nil, err
		}
	}

	// Delegate reads pack descendant-only fields into synthetic JSON columns.
	if m.IsDelegate {
		if err := c.projectDelegates(st, m, alias, prefix, sel, shape); err != nil {
			return nil, err
		}
	}

	return shape, nil
}

// inheritedField pairs a field with the join alias its column lives at.
type inheritedField struct {
	field    *schema.Field
	ancestor *schema.Model
	joined   *string
}

func (f *inheritedField) alias(st *state, c *Compiler, m *schema.Model, rootAlias string, sel *ast.SelectStmt) string {
	if f.ancestor == nil {
		return rootAlias
	}
	if *f.joined == "" {
		// Join the ancestor table once, on the shared id columns.
		a := st.alias()
		var on ast.Expr = ast.True()
		for _, id := range m.IDFields {
			on = ast.And(on, ast.Eq(ast.Col(a, f.ancestor.Field(id).Column()), ast.Col(rootAlias, m.Field(id).Column())))
		}
		sel.Joins = append(sel.Joins, ast.Join{
			Kind:   ast.JoinInner,
			Target: &ast.Table{Name: f.ancestor.Table(), Alias: a, Model: f.ancestor.Name},
			On:     on,
		})
		*f.joined = a
	}
	return *f.joined
}

// scalarsWithBase lists the model's own scalars plus those inherited from
// its delegate ancestors, sharing one join alias per ancestor.
func (c *Compiler) scalarsWithBase(m *schema.Model) []*inheritedField {
	var out []*inheritedField
	for _, f := range m.Scalars() {
		out = append(out, &inheritedField{field: f})
	}
	for _, base := range c.Schema.DelegateChain(m) {
		joined := new(string)
		for _, f := range base.Scalars() {
			if m.Field(f.Name) != nil {
				continue
			}
			out = append(out, &inheritedField{field: f, ancestor: base, joined: joined})
		}
	}
	return out
}

func countRequest(selectArg, includeArg types.Record) types.Record {
	for _, src := range []types.Record{selectArg, includeArg} {
		v, ok := src["_count"]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case bool:
			if x {
				return types.Record{}
			}
		case types.Record:
			return x
		}
	}
	return nil
}

// projectCount compiles _count into a JSON object of scalar count
// subselects, one per counted relation, honoring any where narrowing. The
// counts run against the underlying tables, not the assembled arrays.
func (c *Compiler) projectCount(st *state, m *schema.Model, alias, prefix string, sel *ast.SelectStmt, shape *Shape, arg types.Record) error {
	spec, _ := arg["select"].(types.Record)
	var names []string
	if spec == nil {
		for _, f := range m.Relations() {
			if f.IsToMany() {
				names = append(names, f.Name)
			}
		}
	} else {
		for k := range spec {
			names = append(names, k)
		}
		sort.Strings(names)
	}

	obj := &ast.JSONObject{}
	for _, name := range names {
		f := m.Field(name)
		if f == nil || !f.IsToMany() {
			return types.Internalf("_count of non to-many field %s.%s", m.Name, name)
		}
		var where types.Record
		if spec != nil {
			if nested, ok := spec[name].(types.Record); ok {
				where, _ = nested["where"].(types.Record)
			}
		}
		count, err := c.relationCount(st, m, alias, f, where)
		if err != nil {
			return err
		}
		obj.Pairs = append(obj.Pairs, ast.JSONPair{Key: name, Val: count})
		shape.Counts = append(shape.Counts, name)
	}

	shape.CountAlias = prefix + "_count"
	sel.Columns = append(sel.Columns, ast.SelectItem{Expr: obj, Alias: shape.CountAlias})
	return nil
}

// relationCount builds SELECT COUNT(*) over a to-many relation scoped to
// the parent row.
func (c *Compiler) relationCount(st *state, m *schema.Model, alias string, f *schema.Field, where types.Record) (ast.Expr, error) {
	inner, innerAlias, err := c.relationScope(st, m, alias, f)
	if err != nil {
		return nil, err
	}
	inner.Columns = []ast.SelectItem{{Expr: &ast.FuncCall{Name: "COUNT", Star: true}}}
	if where != nil {
		pred, err := c.compileWhere(st, f.RelatedModel(), innerAlias, where)
		if err != nil {
			return nil, err
		}
		inner.Where = ast.And(inner.Where, pred)
	}
	return &ast.Subquery{Sel: inner}, nil
}

// relationScope builds the skeleton SELECT over the related table filtered
// to rows belonging to the parent row at parentAlias.
func (c *Compiler) relationScope(st *state, m *schema.Model, parentAlias string, f *schema.Field) (*ast.SelectStmt, string, error) {
	related := f.RelatedModel()
	a := st.alias()
	sel := &ast.SelectStmt{
		From: &ast.Table{Name: related.Table(), Alias: a, Model: related.Name},
	}

	if jt, ok := c.Schema.ImplicitJoinTable(m, f); ok {
		// Many-to-many: related ids come from the implicit join table.
		idCol := related.IDs()[0].Column()
		parentID := m.IDs()[0].Column()
		jtSel := &ast.SelectStmt{
			Columns: []ast.SelectItem{{Expr: ast.Col("", jt.OtherFK)}},
			From:    &ast.Table{Name: jt.Table},
			Where:   ast.Eq(ast.Col("", jt.ParentFK), ast.Col(parentAlias, parentID)),
		}
		sel.Where = &ast.InSelect{X: ast.Col(a, idCol), Sel: jtSel}
		return sel, a, nil
	}

	link, err := c.Schema.RelationPairs(m, f)
	if err != nil {
		return nil, "", err
	}
	var on ast.Expr = ast.True()
	for _, p := range link.Pairs {
		if link.OwnedByModel {
			// Parent owns the FK: related.pk = parent.fk.
			on = ast.And(on, ast.Eq(
				ast.Col(a, related.Field(p.PK).Column()),
				ast.Col(parentAlias, m.Field(p.FK).Column()),
			))
		} else {
			// Related side owns the FK: related.fk = parent.pk.
			on = ast.And(on, ast.Eq(
				ast.Col(a, related.Field(p.FK).Column()),
				ast.Col(parentAlias, m.Field(p.PK).Column()),
			))
		}
	}
	sel.Where = on
	return sel, a, nil
}
