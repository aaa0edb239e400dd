// Package dialect renders the SQL AST into provider-specific SQL. The
// abstract Dialect contract defines the shape; the PostgreSQL and SQLite
// concretes differ in placeholders, JSON aggregation, boolean literals,
// pagination quirks and value transforms. Extending the runtime to another
// provider means implementing this contract.
package dialect

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
)

// Dialect is the provider-specific strategy object.
type Dialect interface {
	// Name is the provider tag ("postgresql" or "sqlite").
	Name() string

	// DriverName is the database/sql driver to open connections with.
	DriverName() string

	// Render serializes a statement to SQL plus bound arguments.
	Render(stmt ast.Stmt) (string, []interface{}, error)

	// QuoteIdent quotes an identifier.
	QuoteIdent(s string) string

	// SupportsDistinctOn reports DISTINCT ON support.
	SupportsDistinctOn() bool

	// SupportsUpdateDeleteLimit reports native UPDATE/DELETE … LIMIT support.
	SupportsUpdateDeleteLimit() bool

	// SupportsReturning reports RETURNING clause support.
	SupportsReturning() bool

	// SupportsLateralJoin reports LEFT JOIN LATERAL support; without it
	// relation aggregation uses correlated scalar subqueries.
	SupportsLateralJoin() bool

	// SupportsArrays reports array column support.
	SupportsArrays() bool

	// InsensitiveLike builds a case-insensitive LIKE predicate.
	InsensitiveLike(col, pattern ast.Expr, not bool) ast.Expr

	// JSONValue wraps an expression producing JSON so it embeds into an
	// enclosing JSON object/array as JSON rather than as text.
	JSONValue(e ast.Expr) ast.Expr

	// FormatArg converts a Go value to what the driver expects.
	FormatArg(v interface{}) interface{}

	// TransformOutput converts a scanned or JSON-decoded value back to the
	// runtime value for a field of the given builtin type.
	TransformOutput(fieldType string, v interface{}) (interface{}, error)
}

// New returns the dialect for a provider tag.
func New(provider string) (Dialect, error) {
	switch provider {
	case "postgresql", "postgres":
		return NewPostgres(), nil
	case "sqlite", "sqlite3":
		return NewSQLite(), nil
	default:
		return nil, types.Internalf("unsupported provider: %s", provider)
	}
}

// quirks is the internal surface the shared renderer drives dialects through.
type quirks interface {
	Dialect
	placeholder(n int) string
	boolLiteral(v bool) string
	jsonObjectFn() string
	jsonAggFn() string
	limitForBareOffset() *int
}

// writer renders one statement.
type writer struct {
	d    quirks
	b    strings.Builder
	args []interface{}
	n    int
}

func render(d quirks, stmt ast.Stmt) (string, []interface{}, error) {
	w := &writer{d: d}
	var err error
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		err = w.writeSelect(s)
	case *ast.InsertStmt:
		err = w.writeInsert(s)
	case *ast.UpdateStmt:
		err = w.writeUpdate(s)
	case *ast.DeleteStmt:
		err = w.writeDelete(s)
	default:
		err = types.Internalf("unknown statement type %T", stmt)
	}
	if err != nil {
		return "", nil, err
	}
	return w.b.String(), w.args, nil
}

func (w *writer) write(s string) { w.b.WriteString(s) }

func (w *writer) bind(v interface{}) {
	w.n++
	w.write(w.d.placeholder(w.n))
	w.args = append(w.args, w.d.FormatArg(v))
}

func (w *writer) writeSelect(s *ast.SelectStmt) error {
	w.write("SELECT ")
	if len(s.DistinctOn) > 0 {
		if !w.d.SupportsDistinctOn() {
			return &types.UnsupportedError{Dialect: w.d.Name(), Feature: "DISTINCT ON"}
		}
		w.write("DISTINCT ON (")
		if err := w.writeExprList(s.DistinctOn); err != nil {
			return err
		}
		w.write(") ")
	} else if s.Distinct {
		w.write("DISTINCT ")
	}
	if len(s.Columns) == 0 {
		w.write("*")
	}
	for i, c := range s.Columns {
		if i > 0 {
			w.write(", ")
		}
		if err := w.writeExpr(c.Expr); err != nil {
			return err
		}
		if c.Alias != "" {
			w.write(" AS " + w.d.QuoteIdent(c.Alias))
		}
	}
	if s.From != nil {
		w.write(" FROM ")
		if err := w.writeTableRef(s.From); err != nil {
			return err
		}
	}
	for _, j := range s.Joins {
		w.write(" " + string(j.Kind) + " ")
		if err := w.writeTableRef(j.Target); err != nil {
			return err
		}
		if j.On != nil {
			w.write(" ON ")
			if err := w.writeExpr(j.On); err != nil {
				return err
			}
		}
	}
	if s.Where != nil {
		w.write(" WHERE ")
		if err := w.writeExpr(s.Where); err != nil {
			return err
		}
	}
	if len(s.GroupBy) > 0 {
		w.write(" GROUP BY ")
		if err := w.writeExprList(s.GroupBy); err != nil {
			return err
		}
	}
	if s.Having != nil {
		w.write(" HAVING ")
		if err := w.writeExpr(s.Having); err != nil {
			return err
		}
	}
	if len(s.OrderBy) > 0 {
		w.write(" ORDER BY ")
		if err := w.writeOrderBy(s.OrderBy); err != nil {
			return err
		}
	}
	limit := s.Limit
	if limit == nil && s.Offset != nil {
		limit = w.d.limitForBareOffset()
	}
	if limit != nil {
		w.write(fmt.Sprintf(" LIMIT %d", *limit))
	}
	if s.Offset != nil {
		w.write(fmt.Sprintf(" OFFSET %d", *s.Offset))
	}
	return nil
}

func (w *writer) writeInsert(s *ast.InsertStmt) error {
	w.write("INSERT INTO " + w.d.QuoteIdent(s.Table.Name))
	if len(s.Columns) == 0 {
		w.write(" DEFAULT VALUES")
	} else {
		quoted := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			quoted[i] = w.d.QuoteIdent(c)
		}
		w.write(" (" + strings.Join(quoted, ", ") + ") VALUES ")
		for i, row := range s.Rows {
			if i > 0 {
				w.write(", ")
			}
			w.write("(")
			if err := w.writeExprList(row); err != nil {
				return err
			}
			w.write(")")
		}
	}
	if s.ConflictDoNothing {
		w.write(" ON CONFLICT DO NOTHING")
	}
	if len(s.Returning) > 0 {
		if !w.d.SupportsReturning() {
			return &types.UnsupportedError{Dialect: w.d.Name(), Feature: "RETURNING"}
		}
		if err := w.writeReturning(s.Returning); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeUpdate(s *ast.UpdateStmt) error {
	w.write("UPDATE " + w.d.QuoteIdent(s.Table.Name) + " SET ")
	for i, a := range s.Set {
		if i > 0 {
			w.write(", ")
		}
		w.write(w.d.QuoteIdent(a.Column) + " = ")
		if err := w.writeExpr(a.Value); err != nil {
			return err
		}
	}
	if s.Where != nil {
		w.write(" WHERE ")
		if err := w.writeExpr(s.Where); err != nil {
			return err
		}
	}
	if len(s.Returning) > 0 {
		if !w.d.SupportsReturning() {
			return &types.UnsupportedError{Dialect: w.d.Name(), Feature: "RETURNING"}
		}
		if err := w.writeReturning(s.Returning); err != nil {
			return err
		}
	}
	if s.Limit != nil {
		if !w.d.SupportsUpdateDeleteLimit() {
			return &types.UnsupportedError{Dialect: w.d.Name(), Feature: "UPDATE … LIMIT"}
		}
		w.write(fmt.Sprintf(" LIMIT %d", *s.Limit))
	}
	return nil
}

func (w *writer) writeDelete(s *ast.DeleteStmt) error {
	w.write("DELETE FROM " + w.d.QuoteIdent(s.Table.Name))
	if s.Where != nil {
		w.write(" WHERE ")
		if err := w.writeExpr(s.Where); err != nil {
			return err
		}
	}
	if len(s.Returning) > 0 {
		if !w.d.SupportsReturning() {
			return &types.UnsupportedError{Dialect: w.d.Name(), Feature: "RETURNING"}
		}
		if err := w.writeReturning(s.Returning); err != nil {
			return err
		}
	}
	if s.Limit != nil {
		if !w.d.SupportsUpdateDeleteLimit() {
			return &types.UnsupportedError{Dialect: w.d.Name(), Feature: "DELETE … LIMIT"}
		}
		w.write(fmt.Sprintf(" LIMIT %d", *s.Limit))
	}
	return nil
}

func (w *writer) writeReturning(items []ast.SelectItem) error {
	w.write(" RETURNING ")
	for i, c := range items {
		if i > 0 {
			w.write(", ")
		}
		if err := w.writeExpr(c.Expr); err != nil {
			return err
		}
		if c.Alias != "" {
			w.write(" AS " + w.d.QuoteIdent(c.Alias))
		}
	}
	return nil
}

func (w *writer) writeTableRef(ref ast.TableRef) error {
	switch t := ref.(type) {
	case *ast.Table:
		w.write(w.d.QuoteIdent(t.Name))
		if t.Alias != "" && t.Alias != t.Name {
			w.write(" AS " + w.d.QuoteIdent(t.Alias))
		}
		return nil
	case *ast.SubselectRef:
		w.write("(")
		if err := w.writeSelect(t.Sel); err != nil {
			return err
		}
		w.write(") AS " + w.d.QuoteIdent(t.Alias))
		return nil
	}
	return types.Internalf("unknown table ref %T", ref)
}

func (w *writer) writeOrderBy(items []ast.OrderItem) error {
	for i, o := range items {
		if i > 0 {
			w.write(", ")
		}
		if err := w.writeExpr(o.X); err != nil {
			return err
		}
		if o.Desc {
			w.write(" DESC")
		}
		if o.Nulls != "" {
			w.write(" NULLS " + o.Nulls)
		}
	}
	return nil
}

func (w *writer) writeExprList(exprs []ast.Expr) error {
	for i, e := range exprs {
		if i > 0 {
			w.write(", ")
		}
		if err := w.writeExpr(e); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) writeExpr(e ast.Expr) error {
	switch x := e.(type) {
	case *ast.Column:
		if x.Table != "" {
			w.write(w.d.QuoteIdent(x.Table) + ".")
		}
		w.write(w.d.QuoteIdent(x.Name))
	case *ast.Value:
		w.bind(x.V)
	case *ast.BoolConst:
		w.write(w.d.boolLiteral(x.Value))
	case *ast.NullConst:
		w.write("NULL")
	case *ast.Raw:
		// Raw fragments use ? placeholders; renumber for the dialect.
		argIdx := 0
		for _, r := range x.SQL {
			if r == '?' && argIdx < len(x.Args) {
				w.bind(x.Args[argIdx])
				argIdx++
				continue
			}
			w.b.WriteRune(r)
		}
	case *ast.Unary:
		w.write(x.Op + " (")
		if err := w.writeExpr(x.X); err != nil {
			return err
		}
		w.write(")")
	case *ast.Binary:
		w.write("(")
		if err := w.writeExpr(x.L); err != nil {
			return err
		}
		w.write(" " + x.Op + " ")
		if err := w.writeExpr(x.R); err != nil {
			return err
		}
		w.write(")")
	case *ast.InList:
		if err := w.writeExpr(x.X); err != nil {
			return err
		}
		if x.Not {
			w.write(" NOT IN (")
		} else {
			w.write(" IN (")
		}
		if err := w.writeExprList(x.Items); err != nil {
			return err
		}
		w.write(")")
	case *ast.InSelect:
		if err := w.writeExpr(x.X); err != nil {
			return err
		}
		if x.Not {
			w.write(" NOT IN (")
		} else {
			w.write(" IN (")
		}
		if err := w.writeSelect(x.Sel); err != nil {
			return err
		}
		w.write(")")
	case *ast.Exists:
		if x.Not {
			w.write("NOT ")
		}
		w.write("EXISTS (")
		if err := w.writeSelect(x.Sel); err != nil {
			return err
		}
		w.write(")")
	case *ast.Subquery:
		w.write("(")
		if err := w.writeSelect(x.Sel); err != nil {
			return err
		}
		w.write(")")
	case *ast.FuncCall:
		w.write(x.Name + "(")
		if x.Distinct {
			w.write("DISTINCT ")
		}
		if x.Star {
			w.write("*")
		} else if err := w.writeExprList(x.Args); err != nil {
			return err
		}
		w.write(")")
	case *ast.Tuple:
		w.write("(")
		if err := w.writeExprList(x.Items); err != nil {
			return err
		}
		w.write(")")
	case *ast.JSONObject:
		w.write(w.d.jsonObjectFn() + "(")
		for i, p := range x.Pairs {
			if i > 0 {
				w.write(", ")
			}
			w.write("'" + strings.ReplaceAll(p.Key, "'", "''") + "', ")
			if err := w.writeExpr(p.Val); err != nil {
				return err
			}
		}
		w.write(")")
	case *ast.JSONAgg:
		w.write(w.d.jsonAggFn() + "(")
		if err := w.writeExpr(x.X); err != nil {
			return err
		}
		if len(x.OrderBy) > 0 {
			w.write(" ORDER BY ")
			if err := w.writeOrderBy(x.OrderBy); err != nil {
				return err
			}
		}
		w.write(")")
	default:
		return types.Internalf("unknown expression type %T", e)
	}
	return nil
}

// quoteIdent quotes an identifier with double quotes, doubling embedded
// quotes. Both supported providers use the same rule.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// formatArg is the provider-independent part of argument conversion.
func formatArg(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String(), true
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(x)
		if err != nil {
			return v, false
		}
		return string(b), true
	}
	return v, false
}

// parseDateTime parses the textual timestamp forms the drivers and JSON
// functions produce.
func parseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}
