// Package ast defines the dialect-independent SQL AST the compiler emits,
// the policy transformer rewrites, and the dialects render.
package ast

// Expr is a SQL expression node.
type Expr interface {
	exprNode()
}

// Stmt is a SQL statement node.
type Stmt interface {
	stmtNode()
}

// Column references a column, optionally qualified by a table alias.
type Column struct {
	Table string
	Name  string
}

// Value is a bound parameter. It renders as a dialect placeholder and its
// value is appended to the argument list.
type Value struct {
	V interface{}
}

// BoolConst is a constant boolean predicate. Kept as its own node so
// compile-time TRUE/FALSE detection can fold redundant clauses before
// rendering.
type BoolConst struct {
	Value bool
}

// NullConst is the SQL NULL literal.
type NullConst struct{}

// Raw is a verbatim SQL fragment with bound arguments. Used by the $expr
// escape hatch.
type Raw struct {
	SQL  string
	Args []interface{}
}

// Unary is a prefix operator application, e.g. NOT or -.
type Unary struct {
	Op string
	X  Expr
}

// Binary is an infix operator application.
type Binary struct {
	Op string
	L  Expr
	R  Expr
}

// InList is an IN (…) predicate over a literal list.
type InList struct {
	X     Expr
	Items []Expr
	Not   bool
}

// InSelect is an IN (SELECT …) predicate.
type InSelect struct {
	X   Expr
	Sel *SelectStmt
	Not bool
}

// Exists is an EXISTS (SELECT …) predicate.
type Exists struct {
	Sel *SelectStmt
	Not bool
}

// Subquery is a scalar subquery.
type Subquery struct {
	Sel *SelectStmt
}

// FuncCall is a function application. Star renders as fn(*).
type FuncCall struct {
	Name     string
	Args     []Expr
	Star     bool
	Distinct bool
}

// Tuple is a parenthesized expression list, used by lexicographic cursor
// predicates and compound-key comparisons.
type Tuple struct {
	Items []Expr
}

// JSONPair is one key/value entry of a JSONObject.
type JSONPair struct {
	Key string
	Val Expr
}

// JSONObject builds a JSON object; dialects render it as
// jsonb_build_object or json_object.
type JSONObject struct {
	Pairs []JSONPair
}

// JSONAgg aggregates an expression into a JSON array; dialects render it as
// jsonb_agg or json_group_array.
type JSONAgg struct {
	X       Expr
	OrderBy []OrderItem
}

func (*Column) exprNode()     {}
func (*Value) exprNode()      {}
func (*BoolConst) exprNode()  {}
func (*NullConst) exprNode()  {}
func (*Raw) exprNode()        {}
func (*Unary) exprNode()      {}
func (*Binary) exprNode()     {}
func (*InList) exprNode()     {}
func (*InSelect) exprNode()   {}
func (*Exists) exprNode()     {}
func (*Subquery) exprNode()   {}
func (*FuncCall) exprNode()   {}
func (*Tuple) exprNode()      {}
func (*JSONObject) exprNode() {}
func (*JSONAgg) exprNode()    {}

// TableRef is a FROM or JOIN target.
type TableRef interface {
	tableRef()
}

// Table references a base table. Model carries the schema model name the
// table stands for so the policy transformer can find policy-bearing FROM
// entries; it is never rendered.
type Table struct {
	Name  string
	Alias string
	Model string
}

// SubselectRef is a derived table.
type SubselectRef struct {
	Sel   *SelectStmt
	Alias string
}

func (*Table) tableRef()        {}
func (*SubselectRef) tableRef() {}

// JoinKind is the join variant.
type JoinKind string

// Join kinds.
const (
	JoinLeft        JoinKind = "LEFT JOIN"
	JoinInner       JoinKind = "JOIN"
	JoinLeftLateral JoinKind = "LEFT JOIN LATERAL"
)

// Join is one JOIN clause.
type Join struct {
	Kind   JoinKind
	Target TableRef
	On     Expr
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	X     Expr
	Desc  bool
	Nulls string // "", "FIRST" or "LAST"
}

// SelectItem is one projected column.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// SelectStmt is a SELECT statement.
type SelectStmt struct {
	Columns    []SelectItem
	From       TableRef
	Joins      []Join
	Where      Expr
	GroupBy    []Expr
	Having     Expr
	OrderBy    []OrderItem
	Limit      *int
	Offset     *int
	Distinct   bool
	DistinctOn []Expr
}

// Assign is one SET entry of an UPDATE.
type Assign struct {
	Column string
	Value  Expr
}

// InsertStmt is an INSERT statement. Row order is preserved verbatim.
type InsertStmt struct {
	Table             *Table
	Columns           []string
	Rows              [][]Expr
	Returning         []SelectItem
	ConflictDoNothing bool
}

// UpdateStmt is an UPDATE statement. Limit is only renderable on dialects
// with native UPDATE … LIMIT support.
type UpdateStmt struct {
	Table     *Table
	Set       []Assign
	Where     Expr
	Returning []SelectItem
	Limit     *int
}

// DeleteStmt is a DELETE statement.
type DeleteStmt struct {
	Table     *Table
	Where     Expr
	Returning []SelectItem
	Limit     *int
}

func (*SelectStmt) stmtNode() {}
func (*InsertStmt) stmtNode() {}
func (*UpdateStmt) stmtNode() {}
func (*DeleteStmt) stmtNode() {}

// Col builds a column reference.
func Col(table, name string) *Column { return &Column{Table: table, Name: name} }

// Val builds a bound parameter.
func Val(v interface{}) *Value { return &Value{V: v} }

// True is the constant TRUE predicate.
func True() *BoolConst { return &BoolConst{Value: true} }

// False is the constant FALSE predicate.
func False() *BoolConst { return &BoolConst{Value: false} }

// IntPtr returns a pointer to n, for Limit/Offset fields.
func IntPtr(n int) *int { return &n }

// And conjoins predicates, folding constants: TRUE operands disappear and a
// FALSE operand collapses the whole conjunction.
func And(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if b, ok := e.(*BoolConst); ok {
			if !b.Value {
				return False()
			}
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &Binary{Op: "AND", L: out, R: e}
	}
	if out == nil {
		return True()
	}
	return out
}

// Or disjoins predicates, folding constants symmetrically to And.
func Or(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if b, ok := e.(*BoolConst); ok {
			if b.Value {
				return True()
			}
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &Binary{Op: "OR", L: out, R: e}
	}
	if out == nil {
		return False()
	}
	return out
}

// Not negates a predicate, folding constants.
func Not(e Expr) Expr {
	if b, ok := e.(*BoolConst); ok {
		return &BoolConst{Value: !b.Value}
	}
	return &Unary{Op: "NOT", X: e}
}

// Eq builds an equality that degrades to IS NULL for nil values.
func Eq(l Expr, r Expr) Expr {
	if isNull(r) {
		return &Binary{Op: "IS", L: l, R: &NullConst{}}
	}
	if isNull(l) {
		return &Binary{Op: "IS", L: r, R: &NullConst{}}
	}
	return &Binary{Op: "=", L: l, R: r}
}

// Ne builds an inequality that degrades to IS NOT NULL for nil values.
func Ne(l Expr, r Expr) Expr {
	if isNull(r) {
		return &Binary{Op: "IS NOT", L: l, R: &NullConst{}}
	}
	if isNull(l) {
		return &Binary{Op: "IS NOT", L: r, R: &NullConst{}}
	}
	return &Binary{Op: "<>", L: l, R: r}
}

func isNull(e Expr) bool {
	if _, ok := e.(*NullConst); ok {
		return true
	}
	if v, ok := e.(*Value); ok {
		return v.V == nil
	}
	return false
}
