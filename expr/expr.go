// Package expr defines the expression IR used by access policies and
// default values, together with constant folding, in-memory evaluation,
// and a parser for the textual form.
package expr

import (
	"fmt"
	"strings"
)

// Kind identifies an expression variant.
type Kind string

// Expression variants.
const (
	KindLiteral Kind = "Literal"
	KindField   Kind = "Field"
	KindMember  Kind = "Member"
	KindCall    Kind = "Call"
	KindUnary   Kind = "Unary"
	KindBinary  Kind = "Binary"
	KindArray   Kind = "Array"
	KindThis    Kind = "This"
	KindNull    Kind = "Null"
)

// Expr is an expression node.
type Expr interface {
	Kind() Kind
	String() string
}

// Binary operators.
const (
	OpAnd   = "&&"
	OpOr    = "||"
	OpEq    = "=="
	OpNe    = "!="
	OpLt    = "<"
	OpLe    = "<="
	OpGt    = ">"
	OpGe    = ">="
	OpIn    = "in"
	OpSome  = "?"
	OpEvery = "!"
	OpNone  = "^"
)

// Literal is a constant value (string, int64, float64, bool).
type Literal struct {
	Value interface{}
}

// Kind returns the expression variant.
func (e *Literal) Kind() Kind { return KindLiteral }

// String returns the textual form.
func (e *Literal) String() string {
	if s, ok := e.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", e.Value)
}

// FieldRef references a field of the model the expression is attached to,
// or, inside a collection predicate, a field of the collection element.
type FieldRef struct {
	Name string
}

// Kind returns the expression variant.
func (e *FieldRef) Kind() Kind { return KindField }

// String returns the textual form.
func (e *FieldRef) String() string { return e.Name }

// Member is a member access on a receiver expression, e.g. auth().id or
// author.role.
type Member struct {
	Receiver Expr
	Member   string
}

// Kind returns the expression variant.
func (e *Member) Kind() Kind { return KindMember }

// String returns the textual form.
func (e *Member) String() string { return e.Receiver.String() + "." + e.Member }

// Call is a function call. auth() and now() are reserved.
type Call struct {
	Name string
	Args []Expr
}

// Kind returns the expression variant.
func (e *Call) Kind() Kind { return KindCall }

// String returns the textual form.
func (e *Call) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return e.Name + "(" + strings.Join(args, ", ") + ")"
}

// Unary is a prefix operator application ("!" or "-").
type Unary struct {
	Op      string
	Operand Expr
}

// Kind returns the expression variant.
func (e *Unary) Kind() Kind { return KindUnary }

// String returns the textual form.
func (e *Unary) String() string { return e.Op + e.Operand.String() }

// Binary is a binary operator application. For the collection predicates
// OpSome/OpEvery/OpNone the left side is the collection and the right side
// is the element predicate with field references bound to the element.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Kind returns the expression variant.
func (e *Binary) Kind() Kind { return KindBinary }

// String returns the textual form.
func (e *Binary) String() string {
	switch e.Op {
	case OpSome, OpEvery, OpNone:
		return fmt.Sprintf("%s%s[%s]", e.Left.String(), e.Op, e.Right.String())
	}
	return fmt.Sprintf("(%s %s %s)", e.Left.String(), e.Op, e.Right.String())
}

// Array is an array literal.
type Array struct {
	Items []Expr
}

// Kind returns the expression variant.
func (e *Array) Kind() Kind { return KindArray }

// String returns the textual form.
func (e *Array) String() string {
	items := make([]string, len(e.Items))
	for i, it := range e.Items {
		items[i] = it.String()
	}
	return "[" + strings.Join(items, ", ") + "]"
}

// This references the current entity inside a collection predicate.
type This struct{}

// Kind returns the expression variant.
func (e *This) Kind() Kind { return KindThis }

// String returns the textual form.
func (e *This) String() string { return "this" }

// Null is the null literal.
type Null struct{}

// Kind returns the expression variant.
func (e *Null) Kind() Kind { return KindNull }

// String returns the textual form.
func (e *Null) String() string { return "null" }

// Lit creates a literal expression.
func Lit(v interface{}) *Literal { return &Literal{Value: v} }

// Ref creates a field reference.
func Ref(name string) *FieldRef { return &FieldRef{Name: name} }

// Auth creates the reserved auth() call.
func Auth() *Call { return &Call{Name: "auth"} }

// Now creates the reserved now() call.
func Now() *Call { return &Call{Name: "now"} }

// And combines expressions with &&, skipping nils.
func And(exprs ...Expr) Expr { return combine(OpAnd, exprs) }

// Or combines expressions with ||, skipping nils.
func Or(exprs ...Expr) Expr { return combine(OpOr, exprs) }

// Not negates an expression.
func Not(e Expr) Expr { return &Unary{Op: "!", Operand: e} }

func combine(op string, exprs []Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &Binary{Op: op, Left: out, Right: e}
	}
	return out
}
