package compiler

import (
	"strings"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// CompileWhere compiles a where tree against the model at the given table
// alias. Exposed for the policy transformer and the query-builder surface.
func (c *Compiler) CompileWhere(m *schema.Model, alias string, where types.Record) (ast.Expr, error) {
	st := &state{n: 100} // distinct alias space for standalone predicates
	return c.compileWhere(st, m, alias, where)
}

func (c *Compiler) compileWhere(st *state, m *schema.Model, alias string, where types.Record) (ast.Expr, error) {
	var conj []ast.Expr
	for _, key := range sortedKeys(where) {
		v := where[key]
		switch key {
		case "AND":
			sub, err := c.compileLogicalList(st, m, alias, v)
			if err != nil {
				return nil, err
			}
			conj = append(conj, ast.And(sub...))
		case "OR":
			sub, err := c.compileLogicalList(st, m, alias, v)
			if err != nil {
				return nil, err
			}
			conj = append(conj, ast.Or(sub...))
		case "NOT":
			sub, err := c.compileLogicalList(st, m, alias, v)
			if err != nil {
				return nil, err
			}
			conj = append(conj, ast.Not(ast.And(sub...)))
		case "$expr":
			fn, ok := v.(ExprFunc)
			if !ok {
				if plain, okPlain := v.(func(ExprContext) (string, []interface{})); okPlain {
					fn = plain
				} else {
					return nil, types.Internalf("$expr value is not an ExprFunc")
				}
			}
			sql, sqlArgs := fn(ExprContext{Alias: alias, Quote: c.Dialect.QuoteIdent})
			conj = append(conj, &ast.Raw{SQL: sql, Args: sqlArgs})
		default:
			f := c.resolveField(m, key)
			if f == nil {
				return nil, types.Internalf("filter references unknown field %s.%s", m.Name, key)
			}
			pred, err := c.compileFieldFilter(st, m, alias, f, v)
			if err != nil {
				return nil, err
			}
			conj = append(conj, pred)
		}
	}
	return ast.And(conj...), nil
}

// compileLogicalList accepts a single condition object or a list of them.
func (c *Compiler) compileLogicalList(st *state, m *schema.Model, alias string, v interface{}) ([]ast.Expr, error) {
	var entries []types.Record
	switch x := v.(type) {
	case types.Record:
		entries = []types.Record{x}
	case []interface{}:
		for _, e := range x {
			rec, ok := e.(types.Record)
			if !ok {
				return nil, types.Internalf("logical combinator entry is not an object")
			}
			entries = append(entries, rec)
		}
	case []types.Record:
		entries = x
	default:
		return nil, types.Internalf("logical combinator has unexpected type %T", v)
	}
	out := make([]ast.Expr, 0, len(entries))
	for _, e := range entries {
		pred, err := c.compileWhere(st, m, alias, e)
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	return out, nil
}

func (c *Compiler) compileFieldFilter(st *state, m *schema.Model, alias string, f *schema.Field, v interface{}) (ast.Expr, error) {
	if f.IsToMany() {
		return c.compileToManyFilter(st, m, alias, f, v)
	}
	if f.IsRelation() {
		return c.compileToOneFilter(st, m, alias, f, v)
	}
	return c.compileScalarFilter(st, m, alias, f, v)
}

// compileToManyFilter compiles some/every/none as COUNT(*) comparisons
// against the underlying table; every negates the inner filter.
func (c *Compiler) compileToManyFilter(st *state, m *schema.Model, alias string, f *schema.Field, v interface{}) (ast.Expr, error) {
	spec, ok := v.(types.Record)
	if !ok {
		return nil, types.Internalf("filter on to-many %s.%s must use some/every/none", m.Name, f.Name)
	}
	var conj []ast.Expr
	for _, key := range sortedKeys(spec) {
		inner, _ := spec[key].(types.Record)
		negateInner := key == "every"
		count, err := c.countMatching(st, m, alias, f, inner, negateInner)
		if err != nil {
			return nil, err
		}
		switch key {
		case "some":
			conj = append(conj, &ast.Binary{Op: ">", L: count, R: ast.Val(int64(0))})
		case "every", "none":
			conj = append(conj, ast.Eq(count, ast.Val(int64(0))))
		default:
			return nil, types.Internalf("unknown to-many filter %s on %s.%s", key, m.Name, f.Name)
		}
	}
	return ast.And(conj...), nil
}

func (c *Compiler) countMatching(st *state, m *schema.Model, alias string, f *schema.Field, where types.Record, negate bool) (ast.Expr, error) {
	sub, subAlias, err := c.relationScope(st, m, alias, f)
	if err != nil {
		return nil, err
	}
	sub.Columns = []ast.SelectItem{{Expr: &ast.FuncCall{Name: "COUNT", Star: true}}}
	if where != nil {
		pred, err := c.compileWhere(st, f.RelatedModel(), subAlias, where)
		if err != nil {
			return nil, err
		}
		if negate {
			pred = ast.Not(pred)
		}
		sub.Where = ast.And(sub.Where, pred)
	} else if negate {
		sub.Where = ast.And(sub.Where, ast.False())
	}
	return &ast.Subquery{Sel: sub}, nil
}

// compileToOneFilter compiles is/isNot and direct nested filters using
// correlated EXISTS predicates over the FK/PK pairs.
func (c *Compiler) compileToOneFilter(st *state, m *schema.Model, alias string, f *schema.Field, v interface{}) (ast.Expr, error) {
	exists := func(where types.Record, not bool) (ast.Expr, error) {
		sub, subAlias, err := c.relationScope(st, m, alias, f)
		if err != nil {
			return nil, err
		}
		sub.Columns = []ast.SelectItem{{Expr: ast.Val(int64(1))}}
		if where != nil {
			pred, err := c.compileWhere(st, f.RelatedModel(), subAlias, where)
			if err != nil {
				return nil, err
			}
			sub.Where = ast.And(sub.Where, pred)
		}
		return &ast.Exists{Sel: sub, Not: not}, nil
	}

	if v == nil {
		return exists(nil, true)
	}
	spec, ok := v.(types.Record)
	if !ok {
		return nil, types.Internalf("filter on relation %s.%s must be an object", m.Name, f.Name)
	}

	_, hasIs := spec["is"]
	_, hasIsNot := spec["isNot"]
	if !hasIs && !hasIsNot {
		return exists(spec, false)
	}

	var conj []ast.Expr
	if hasIs {
		switch is := spec["is"].(type) {
		case nil:
			pred, err := exists(nil, true)
			if err != nil {
				return nil, err
			}
			conj = append(conj, pred)
		case types.Record:
			pred, err := exists(is, false)
			if err != nil {
				return nil, err
			}
			conj = append(conj, pred)
		default:
			return nil, types.Internalf("is filter on %s.%s must be an object or null", m.Name, f.Name)
		}
	}
	if hasIsNot {
		switch isNot := spec["isNot"].(type) {
		case nil:
			pred, err := exists(nil, false)
			if err != nil {
				return nil, err
			}
			conj = append(conj, pred)
		case types.Record:
			pred, err := exists(isNot, true)
			if err != nil {
				return nil, err
			}
			conj = append(conj, pred)
		default:
			return nil, types.Internalf("isNot filter on %s.%s must be an object or null", m.Name, f.Name)
		}
	}
	return ast.And(conj...), nil
}

func (c *Compiler) compileScalarFilter(st *state, m *schema.Model, alias string, f *schema.Field, v interface{}) (ast.Expr, error) {
	col := c.columnExpr(st, m, alias, f)

	spec, isSpec := v.(types.Record)
	if !isSpec {
		return ast.Eq(col, ast.Val(v)), nil
	}

	insensitive := false
	if mode, ok := spec["mode"].(string); ok && strings.EqualFold(mode, "insensitive") {
		insensitive = true
	}

	var conj []ast.Expr
	for _, op := range sortedKeys(spec) {
		val := spec[op]
		switch op {
		case "mode":
			// handled above
		case "equals":
			conj = append(conj, c.compileEquality(col, val, insensitive, false))
		case "not":
			if nested, ok := val.(types.Record); ok {
				inner, err := c.compileScalarFilter(st, m, alias, f, nested)
				if err != nil {
					return nil, err
				}
				conj = append(conj, ast.Not(inner))
			} else {
				conj = append(conj, c.compileEquality(col, val, insensitive, true))
			}
		case "in":
			items, err := valueList(val)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				// in [] can never match.
				conj = append(conj, ast.False())
				continue
			}
			conj = append(conj, &ast.InList{X: col, Items: items})
		case "notIn":
			items, err := valueList(val)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				// notIn [] always matches.
				conj = append(conj, ast.True())
				continue
			}
			conj = append(conj, &ast.InList{X: col, Items: items, Not: true})
		case "lt":
			conj = append(conj, &ast.Binary{Op: "<", L: col, R: ast.Val(val)})
		case "lte":
			conj = append(conj, &ast.Binary{Op: "<=", L: col, R: ast.Val(val)})
		case "gt":
			conj = append(conj, &ast.Binary{Op: ">", L: col, R: ast.Val(val)})
		case "gte":
			conj = append(conj, &ast.Binary{Op: ">=", L: col, R: ast.Val(val)})
		case "contains", "startsWith", "endsWith":
			s, ok := val.(string)
			if !ok {
				return nil, types.Internalf("%s filter on %s.%s requires a string", op, m.Name, f.Name)
			}
			pattern := likePattern(op, s)
			if insensitive {
				conj = append(conj, c.Dialect.InsensitiveLike(col, ast.Val(pattern), false))
			} else {
				conj = append(conj, &ast.Binary{Op: "LIKE", L: col, R: ast.Val(pattern)})
			}
		case "has":
			if err := c.requireArrays(); err != nil {
				return nil, err
			}
			conj = append(conj, &ast.Binary{Op: "@>", L: col, R: c.arrayLiteral([]interface{}{val})})
		case "hasEvery":
			if err := c.requireArrays(); err != nil {
				return nil, err
			}
			items, err := rawList(val)
			if err != nil {
				return nil, err
			}
			conj = append(conj, &ast.Binary{Op: "@>", L: col, R: c.arrayLiteral(items)})
		case "hasSome":
			if err := c.requireArrays(); err != nil {
				return nil, err
			}
			items, err := rawList(val)
			if err != nil {
				return nil, err
			}
			conj = append(conj, &ast.Binary{Op: "&&", L: col, R: c.arrayLiteral(items)})
		case "isEmpty":
			if err := c.requireArrays(); err != nil {
				return nil, err
			}
			want, _ := val.(bool)
			size := &ast.FuncCall{Name: "cardinality", Args: []ast.Expr{col}}
			if want {
				conj = append(conj, ast.Eq(size, ast.Val(int64(0))))
			} else {
				conj = append(conj, &ast.Binary{Op: ">", L: size, R: ast.Val(int64(0))})
			}
		default:
			return nil, types.Internalf("unknown filter operator %s on %s.%s", op, m.Name, f.Name)
		}
	}
	return ast.And(conj...), nil
}

func (c *Compiler) compileEquality(col ast.Expr, val interface{}, insensitive, negate bool) ast.Expr {
	if s, ok := val.(string); ok && insensitive {
		lower := func(e ast.Expr) ast.Expr { return &ast.FuncCall{Name: "lower", Args: []ast.Expr{e}} }
		eq := ast.Eq(lower(col), lower(ast.Val(strings.ToLower(s))))
		if negate {
			return ast.Not(eq)
		}
		return eq
	}
	if negate {
		return ast.Ne(col, ast.Val(val))
	}
	return ast.Eq(col, ast.Val(val))
}

// columnExpr resolves a field to a column reference; fields inherited from
// delegate ancestors resolve through a correlated subselect so the filter
// works in any predicate context.
func (c *Compiler) columnExpr(st *state, m *schema.Model, alias string, f *schema.Field) ast.Expr {
	if m.Field(f.Name) == f || f.Model() == m {
		return ast.Col(alias, f.Column())
	}
	base := f.Model()
	baseAlias := st.alias()
	var where ast.Expr = ast.True()
	for _, id := range m.IDFields {
		where = ast.And(where, ast.Eq(ast.Col(baseAlias, base.Field(id).Column()), ast.Col(alias, m.Field(id).Column())))
	}
	return &ast.Subquery{Sel: &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: ast.Col(baseAlias, f.Column())}},
		From:    &ast.Table{Name: base.Table(), Alias: baseAlias, Model: base.Name},
		Where:   where,
	}}
}

// resolveField finds a field on the model or its delegate ancestors.
func (c *Compiler) resolveField(m *schema.Model, name string) *schema.Field {
	if f := m.Field(name); f != nil {
		return f
	}
	for _, base := range c.Schema.DelegateChain(m) {
		if f := base.Field(name); f != nil {
			return f
		}
	}
	return nil
}

func (c *Compiler) requireArrays() error {
	if !c.Dialect.SupportsArrays() {
		return &types.UnsupportedError{Dialect: c.Dialect.Name(), Feature: "array filters"}
	}
	return nil
}

func (c *Compiler) arrayLiteral(items []interface{}) ast.Expr {
	placeholders := make([]string, len(items))
	for i := range items {
		placeholders[i] = "?"
	}
	return &ast.Raw{SQL: "ARRAY[" + strings.Join(placeholders, ", ") + "]", Args: items}
}

func likePattern(op, s string) string {
	switch op {
	case "contains":
		return "%" + s + "%"
	case "startsWith":
		return s + "%"
	default:
		return "%" + s
	}
}

func valueList(v interface{}) ([]ast.Expr, error) {
	raw, err := rawList(v)
	if err != nil {
		return nil, err
	}
	out := make([]ast.Expr, len(raw))
	for i, it := range raw {
		out[i] = ast.Val(it)
	}
	return out, nil
}

func rawList(v interface{}) ([]interface{}, error) {
	switch x := v.(type) {
	case []interface{}:
		return x, nil
	case []string:
		out := make([]interface{}, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]interface{}, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, nil
	case []int64:
		out := make([]interface{}, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, nil
	}
	return nil, types.Internalf("expected a list, got %T", v)
}
