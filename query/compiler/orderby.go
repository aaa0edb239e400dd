package compiler

import (
	"sort"
	"strings"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// applyOrderPagination compiles orderBy, take, skip and cursor onto a root
// read. findMany always gets a stable default order of ascending ids so
// pagination is deterministic.
func (c *Compiler) applyOrderPagination(st *state, m *schema.Model, alias string, sel *ast.SelectStmt, args types.Record) error {
	items, err := c.compileOrderArgs(st, m, alias, sel, args)
	if err != nil {
		return err
	}
	sel.OrderBy = items
	return c.applyTakeSkipCursor(st, m, alias, sel, args)
}

// compileOrderArgs compiles the orderBy argument (a map or a list of maps).
// A negative take reverses every order direction instead of running the
// query twice.
func (c *Compiler) compileOrderArgs(st *state, m *schema.Model, alias string, sel *ast.SelectStmt, args types.Record) ([]ast.OrderItem, error) {
	var items []ast.OrderItem

	switch ob := args["orderBy"].(type) {
	case nil:
	case types.Record:
		compiled, err := c.compileOrderEntry(st, m, alias, sel, ob)
		if err != nil {
			return nil, err
		}
		items = append(items, compiled...)
	case []interface{}:
		for _, entry := range ob {
			rec, ok := entry.(types.Record)
			if !ok {
				return nil, types.Internalf("orderBy entry is not an object")
			}
			compiled, err := c.compileOrderEntry(st, m, alias, sel, rec)
			if err != nil {
				return nil, err
			}
			items = append(items, compiled...)
		}
	default:
		return nil, types.Internalf("orderBy has unexpected type %T", ob)
	}

	// Stable default: ascending ids.
	if len(items) == 0 {
		for _, id := range m.IDs() {
			items = append(items, ast.OrderItem{X: c.columnExpr(st, m, alias, id)})
		}
	}

	if take, ok := intArg(args["take"]); ok && take < 0 {
		for i := range items {
			items[i].Desc = !items[i].Desc
			switch items[i].Nulls {
			case "FIRST":
				items[i].Nulls = "LAST"
			case "LAST":
				items[i].Nulls = "FIRST"
			}
		}
	}
	return items, nil
}

func (c *Compiler) compileOrderEntry(st *state, m *schema.Model, alias string, sel *ast.SelectStmt, entry types.Record) ([]ast.OrderItem, error) {
	var items []ast.OrderItem
	for _, key := range sortedKeys(entry) {
		v := entry[key]
		f := c.resolveField(m, key)
		if f == nil {
			return nil, types.Internalf("orderBy references unknown field %s.%s", m.Name, key)
		}

		if f.IsToMany() {
			// Only ordering by the relation count is meaningful.
			spec, ok := v.(types.Record)
			if !ok {
				return nil, types.Internalf("orderBy on to-many %s.%s must use _count", m.Name, key)
			}
			dirRaw, ok := spec["_count"]
			if !ok {
				return nil, types.Internalf("orderBy on to-many %s.%s must use _count", m.Name, key)
			}
			desc, _, err := sortDirection(dirRaw)
			if err != nil {
				return nil, err
			}
			count, err := c.relationCount(st, m, alias, f, nil)
			if err != nil {
				return nil, err
			}
			items = append(items, ast.OrderItem{X: count, Desc: desc})
			continue
		}

		if f.IsRelation() {
			// Nested to-one ordering left-joins the related table.
			nested, ok := v.(types.Record)
			if !ok {
				return nil, types.Internalf("orderBy on relation %s.%s must be an object", m.Name, key)
			}
			related := f.RelatedModel()
			a := st.alias()
			on, err := c.joinCondition(m, alias, f, related, a)
			if err != nil {
				return nil, err
			}
			sel.Joins = append(sel.Joins, ast.Join{
				Kind:   ast.JoinLeft,
				Target: &ast.Table{Name: related.Table(), Alias: a, Model: related.Name},
				On:     on,
			})
			nestedItems, err := c.compileOrderEntry(st, related, a, sel, nested)
			if err != nil {
				return nil, err
			}
			items = append(items, nestedItems...)
			continue
		}

		desc, nulls, err := sortDirection(v)
		if err != nil {
			return nil, err
		}
		items = append(items, ast.OrderItem{X: c.columnExpr(st, m, alias, f), Desc: desc, Nulls: nulls})
	}
	return items, nil
}

// sortDirection parses "asc"/"desc" or {sort, nulls}.
func sortDirection(v interface{}) (desc bool, nulls string, err error) {
	switch x := v.(type) {
	case string:
		switch strings.ToLower(x) {
		case "asc":
			return false, "", nil
		case "desc":
			return true, "", nil
		}
	case types.Record:
		sortRaw, _ := x["sort"].(string)
		d, _, err := sortDirection(sortRaw)
		if err != nil {
			return false, "", err
		}
		switch n, _ := x["nulls"].(string); strings.ToLower(n) {
		case "first":
			return d, "FIRST", nil
		case "last":
			return d, "LAST", nil
		case "":
			return d, "", nil
		}
	}
	return false, "", types.Internalf("invalid sort direction %v", v)
}

// applyTakeSkipCursor compiles pagination. The cursor becomes a
// lexicographic tuple predicate against the ordered columns, inclusive of
// the cursor row; combined with skip the cursor row is included then
// skipped by the offset.
func (c *Compiler) applyTakeSkipCursor(st *state, m *schema.Model, alias string, sel *ast.SelectStmt, args types.Record) error {
	if take, ok := intArg(args["take"]); ok {
		if take < 0 {
			take = -take
		}
		sel.Limit = ast.IntPtr(take)
	}
	if skip, ok := intArg(args["skip"]); ok {
		sel.Offset = ast.IntPtr(skip)
	}

	cursor, ok := args["cursor"].(types.Record)
	if !ok {
		return nil
	}

	cursorAlias := st.alias()
	cursorWhere, err := c.compileWhere(st, m, cursorAlias, cursor)
	if err != nil {
		return err
	}

	// One scalar subquery per ordered column fetches the cursor row's value.
	cursorValue := func(col *ast.Column) ast.Expr {
		return &ast.Subquery{Sel: &ast.SelectStmt{
			Columns: []ast.SelectItem{{Expr: ast.Col(cursorAlias, col.Name)}},
			From:    &ast.Table{Name: m.Table(), Alias: cursorAlias, Model: m.Name},
			Where:   cursorWhere,
		}}
	}

	var terms []ast.Expr
	for i, item := range sel.OrderBy {
		col, ok := item.X.(*ast.Column)
		if !ok {
			return &types.UnsupportedError{Dialect: c.Dialect.Name(), Feature: "cursor over computed order expressions"}
		}
		var conj []ast.Expr
		for _, prev := range sel.OrderBy[:i] {
			pcol := prev.X.(*ast.Column)
			conj = append(conj, ast.Eq(pcol, cursorValue(pcol)))
		}
		op := ">"
		if item.Desc {
			op = "<"
		}
		if i == len(sel.OrderBy)-1 {
			op += "="
		}
		conj = append(conj, &ast.Binary{Op: op, L: col, R: cursorValue(col)})
		terms = append(terms, ast.And(conj...))
	}
	if len(terms) == 0 {
		return types.Internalf("cursor requires an order")
	}
	sel.Where = ast.And(sel.Where, ast.Or(terms...))
	return nil
}

// applyDistinct compiles the distinct field list. Dialects without
// DISTINCT ON surface an error; client-side deduplication is not attempted.
func (c *Compiler) applyDistinct(m *schema.Model, alias string, sel *ast.SelectStmt, distinct interface{}) error {
	if !c.Dialect.SupportsDistinctOn() {
		return &types.UnsupportedError{Dialect: c.Dialect.Name(), Feature: "DISTINCT ON"}
	}
	var names []string
	switch x := distinct.(type) {
	case string:
		names = []string{x}
	case []interface{}:
		for _, n := range x {
			s, ok := n.(string)
			if !ok {
				return types.Internalf("distinct entry is not a string")
			}
			names = append(names, s)
		}
	case []string:
		names = x
	default:
		return types.Internalf("distinct has unexpected type %T", distinct)
	}
	for _, n := range names {
		f := m.Field(n)
		if f == nil || f.IsRelation() {
			return types.Internalf("distinct references unknown scalar %s.%s", m.Name, n)
		}
		sel.DistinctOn = append(sel.DistinctOn, ast.Col(alias, f.Column()))
	}
	// DISTINCT ON requires the distinct columns to lead the order.
	var lead []ast.OrderItem
	for _, e := range sel.DistinctOn {
		lead = append(lead, ast.OrderItem{X: e})
	}
	sel.OrderBy = append(lead, sel.OrderBy...)
	return nil
}

func intArg(v interface{}) (int, bool) {
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

func sortedKeys(m types.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
