package compiler

import (
	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// BuildInsert builds an INSERT for one or more rows of field-name → value
// pairs. Input row order is preserved verbatim. When returning is set the
// statement returns the id columns of the inserted rows.
func (c *Compiler) BuildInsert(m *schema.Model, rows []types.Record, returning, skipDuplicates bool) (*ast.InsertStmt, error) {
	var columns []string
	present := map[string]bool{}
	for _, f := range m.Scalars() {
		for _, row := range rows {
			if _, ok := row[f.Name]; ok {
				if !present[f.Name] {
					present[f.Name] = true
					columns = append(columns, f.Name)
				}
				break
			}
		}
	}
	for _, row := range rows {
		for k := range row {
			if m.Field(k) == nil {
				return nil, types.Internalf("insert data references unknown field %s.%s", m.Name, k)
			}
		}
	}

	stmt := &ast.InsertStmt{
		Table:             &ast.Table{Name: m.Table(), Model: m.Name},
		ConflictDoNothing: skipDuplicates,
	}
	for _, name := range columns {
		stmt.Columns = append(stmt.Columns, m.Field(name).Column())
	}
	for _, row := range rows {
		vals := make([]ast.Expr, len(columns))
		for i, name := range columns {
			v, ok := row[name]
			if !ok {
				vals[i] = &ast.NullConst{}
				continue
			}
			vals[i] = ast.Val(v)
		}
		stmt.Rows = append(stmt.Rows, vals)
	}
	if returning {
		for _, id := range m.IDs() {
			stmt.Returning = append(stmt.Returning, ast.SelectItem{Expr: ast.Col("", id.Column()), Alias: id.Name})
		}
	}
	return stmt, nil
}

// BuildUpdate builds an UPDATE over the rows matching where. Set entries
// are already compiled (atomic updaters arrive as col = col + ? expressions).
func (c *Compiler) BuildUpdate(m *schema.Model, where ast.Expr, set []ast.Assign, limit *int, returning bool) *ast.UpdateStmt {
	stmt := &ast.UpdateStmt{
		Table: &ast.Table{Name: m.Table(), Model: m.Name},
		Set:   set,
		Where: where,
		Limit: limit,
	}
	if returning {
		for _, id := range m.IDs() {
			stmt.Returning = append(stmt.Returning, ast.SelectItem{Expr: ast.Col("", id.Column()), Alias: id.Name})
		}
	}
	return stmt
}

// BuildDelete builds a DELETE over the rows matching where.
func (c *Compiler) BuildDelete(m *schema.Model, where ast.Expr, limit *int, returning bool) *ast.DeleteStmt {
	stmt := &ast.DeleteStmt{
		Table: &ast.Table{Name: m.Table(), Model: m.Name},
		Where: where,
		Limit: limit,
	}
	if returning {
		for _, id := range m.IDs() {
			stmt.Returning = append(stmt.Returning, ast.SelectItem{Expr: ast.Col("", id.Column()), Alias: id.Name})
		}
	}
	return stmt
}

// CompileWhereBare compiles a where tree against the bare table (no alias),
// as UPDATE/DELETE statements require.
func (c *Compiler) CompileWhereBare(m *schema.Model, where types.Record) (ast.Expr, error) {
	st := &state{n: 200}
	return c.compileWhere(st, m, "", where)
}

// Assignment compiles one update-data entry into a SET assignment,
// translating atomic numeric updaters into in-place expressions.
func (c *Compiler) Assignment(m *schema.Model, f *schema.Field, v interface{}) (ast.Assign, error) {
	col := f.Column()
	if spec, ok := v.(types.Record); ok {
		for _, op := range sortedKeys(spec) {
			val := spec[op]
			switch op {
			case "set":
				return ast.Assign{Column: col, Value: ast.Val(val)}, nil
			case "increment":
				return ast.Assign{Column: col, Value: &ast.Binary{Op: "+", L: ast.Col("", col), R: ast.Val(val)}}, nil
			case "decrement":
				return ast.Assign{Column: col, Value: &ast.Binary{Op: "-", L: ast.Col("", col), R: ast.Val(val)}}, nil
			case "multiply":
				return ast.Assign{Column: col, Value: &ast.Binary{Op: "*", L: ast.Col("", col), R: ast.Val(val)}}, nil
			case "divide":
				return ast.Assign{Column: col, Value: &ast.Binary{Op: "/", L: ast.Col("", col), R: ast.Val(val)}}, nil
			default:
				return ast.Assign{}, types.Internalf("unknown update operator %s on %s.%s", op, m.Name, f.Name)
			}
		}
		return ast.Assign{}, types.Internalf("empty update object on %s.%s", m.Name, f.Name)
	}
	return ast.Assign{Column: col, Value: ast.Val(v)}, nil
}
