package compiler

import (
	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// CompileExprStandalone compiles an expression-IR tree outside an active
// compilation, allocating its own alias space. Used by the policy
// transformer to build injectable predicates.
func (c *Compiler) CompileExprStandalone(m *schema.Model, alias string, e expr.Expr, auth types.Record) (ast.Expr, error) {
	st := &state{n: 300}
	return c.CompileExpr(st, m, alias, e, auth)
}

// CompileExpr translates an expression-IR tree into a SQL expression
// against the model at the given alias. Field references become column
// refs, auth() becomes bound constants from the auth record (NULL when
// unauthenticated), member chains over relations become correlated
// subselects, and collection predicates become count-based subqueries.
func (c *Compiler) CompileExpr(st *state, m *schema.Model, alias string, e expr.Expr, auth types.Record) (ast.Expr, error) {
	e = expr.Fold(e)
	return c.compileExpr(st, m, alias, e, auth)
}

func (c *Compiler) compileExpr(st *state, m *schema.Model, alias string, e expr.Expr, auth types.Record) (ast.Expr, error) {
	switch x := e.(type) {
	case *expr.Literal:
		if b, ok := x.Value.(bool); ok {
			return &ast.BoolConst{Value: b}, nil
		}
		return ast.Val(x.Value), nil
	case *expr.Null:
		return &ast.NullConst{}, nil
	case *expr.FieldRef:
		f := c.resolveField(m, x.Name)
		if f == nil {
			return nil, types.Internalf("expression references unknown field %s.%s", m.Name, x.Name)
		}
		if f.IsRelation() {
			return nil, types.Internalf("relation %s.%s used as a value; use a member access or collection predicate", m.Name, x.Name)
		}
		return c.columnExpr(st, m, alias, f), nil
	case *expr.Call:
		switch x.Name {
		case "auth":
			if auth == nil {
				return &ast.NullConst{}, nil
			}
			return nil, types.Internalf("auth() used as a value; access a member such as auth().id")
		case "now":
			return &ast.Raw{SQL: "CURRENT_TIMESTAMP"}, nil
		}
		return nil, types.Internalf("unknown function %s() in expression", x.Name)
	case *expr.Member:
		return c.compileMember(st, m, alias, x, auth)
	case *expr.Unary:
		operand, err := c.compileExpr(st, m, alias, x.Operand, auth)
		if err != nil {
			return nil, err
		}
		if x.Op == "!" {
			return ast.Not(operand), nil
		}
		return &ast.Unary{Op: x.Op, X: operand}, nil
	case *expr.Binary:
		return c.compileBinaryExpr(st, m, alias, x, auth)
	case *expr.Array:
		items := make([]ast.Expr, len(x.Items))
		for i, it := range x.Items {
			compiled, err := c.compileExpr(st, m, alias, it, auth)
			if err != nil {
				return nil, err
			}
			items[i] = compiled
		}
		return &ast.Tuple{Items: items}, nil
	case *expr.This:
		return nil, types.Internalf("this used outside a member access")
	}
	return nil, types.Internalf("unknown expression kind %s", e.Kind())
}

// compileMember resolves member-access chains. auth() chains fold to bound
// constants; relation chains become correlated subselects.
func (c *Compiler) compileMember(st *state, m *schema.Model, alias string, x *expr.Member, auth types.Record) (ast.Expr, error) {
	// auth().a.b… resolves in memory.
	if path, fromAuth := authPath(x); fromAuth {
		var cur interface{} = map[string]interface{}(auth)
		if auth == nil {
			return ast.Val(nil), nil
		}
		for _, seg := range path {
			obj, ok := cur.(map[string]interface{})
			if !ok {
				return ast.Val(nil), nil
			}
			cur = obj[seg]
			if cur == nil {
				return ast.Val(nil), nil
			}
		}
		return ast.Val(cur), nil
	}

	// this.field is the field itself.
	if _, isThis := x.Receiver.(*expr.This); isThis {
		return c.compileExpr(st, m, alias, expr.Ref(x.Member), auth)
	}

	// relation.member becomes a correlated subselect across the relation.
	ref, ok := x.Receiver.(*expr.FieldRef)
	if !ok {
		if inner, isMember := x.Receiver.(*expr.Member); isMember {
			// Deep chain a.b.c: compile a.b as a subselect context.
			return c.compileDeepMember(st, m, alias, inner, x.Member, auth)
		}
		return nil, types.Internalf("unsupported member receiver %s", x.Receiver.String())
	}
	f := c.resolveField(m, ref.Name)
	if f == nil || !f.IsRelation() || f.IsToMany() {
		return nil, types.Internalf("member access %s.%s requires a to-one relation", ref.Name, x.Member)
	}
	related := f.RelatedModel()
	target := related.Field(x.Member)
	if target == nil {
		return nil, types.Internalf("member access references unknown field %s.%s", related.Name, x.Member)
	}
	sub, subAlias, err := c.relationScope(st, m, alias, f)
	if err != nil {
		return nil, err
	}
	sub.Columns = []ast.SelectItem{{Expr: ast.Col(subAlias, target.Column())}}
	sub.Limit = ast.IntPtr(1)
	return &ast.Subquery{Sel: sub}, nil
}

func (c *Compiler) compileDeepMember(st *state, m *schema.Model, alias string, inner *expr.Member, member string, auth types.Record) (ast.Expr, error) {
	ref, ok := inner.Receiver.(*expr.FieldRef)
	if !ok {
		return nil, types.Internalf("unsupported member chain %s", inner.String())
	}
	f := c.resolveField(m, ref.Name)
	if f == nil || !f.IsRelation() || f.IsToMany() {
		return nil, types.Internalf("member access through %s requires a to-one relation", ref.Name)
	}
	sub, subAlias, err := c.relationScope(st, m, alias, f)
	if err != nil {
		return nil, err
	}
	val, err := c.compileMember(st, f.RelatedModel(), subAlias, &expr.Member{Receiver: expr.Ref(inner.Member), Member: member}, auth)
	if err != nil {
		return nil, err
	}
	sub.Columns = []ast.SelectItem{{Expr: val}}
	sub.Limit = ast.IntPtr(1)
	return &ast.Subquery{Sel: sub}, nil
}

func authPath(x *expr.Member) ([]string, bool) {
	var path []string
	cur := expr.Expr(x)
	for {
		m, ok := cur.(*expr.Member)
		if !ok {
			break
		}
		path = append([]string{m.Member}, path...)
		cur = m.Receiver
	}
	call, ok := cur.(*expr.Call)
	if !ok || call.Name != "auth" {
		return nil, false
	}
	return path, true
}

func (c *Compiler) compileBinaryExpr(st *state, m *schema.Model, alias string, x *expr.Binary, auth types.Record) (ast.Expr, error) {
	switch x.Op {
	case expr.OpAnd, expr.OpOr:
		l, err := c.compileExpr(st, m, alias, x.Left, auth)
		if err != nil {
			return nil, err
		}
		r, err := c.compileExpr(st, m, alias, x.Right, auth)
		if err != nil {
			return nil, err
		}
		if x.Op == expr.OpAnd {
			return ast.And(l, r), nil
		}
		return ast.Or(l, r), nil

	case expr.OpSome, expr.OpEvery, expr.OpNone:
		return c.compileCollectionPredicate(st, m, alias, x, auth)

	case expr.OpIn:
		l, err := c.compileExpr(st, m, alias, x.Left, auth)
		if err != nil {
			return nil, err
		}
		arr, ok := x.Right.(*expr.Array)
		if !ok {
			return nil, types.Internalf("right side of in must be an array literal")
		}
		items := make([]ast.Expr, len(arr.Items))
		for i, it := range arr.Items {
			compiled, err := c.compileExpr(st, m, alias, it, auth)
			if err != nil {
				return nil, err
			}
			items[i] = compiled
		}
		if len(items) == 0 {
			return ast.False(), nil
		}
		return &ast.InList{X: l, Items: items}, nil
	}

	// Bare auth() compared against null folds at compile time.
	if isAuthCall(x.Left) || isAuthCall(x.Right) {
		other := x.Right
		if isAuthCall(x.Right) {
			other = x.Left
		}
		if _, isNull := other.(*expr.Null); isNull {
			authenticated := auth != nil
			switch x.Op {
			case expr.OpEq:
				return &ast.BoolConst{Value: !authenticated}, nil
			case expr.OpNe:
				return &ast.BoolConst{Value: authenticated}, nil
			}
		}
	}

	l, err := c.compileExpr(st, m, alias, x.Left, auth)
	if err != nil {
		return nil, err
	}
	r, err := c.compileExpr(st, m, alias, x.Right, auth)
	if err != nil {
		return nil, err
	}

	switch x.Op {
	case expr.OpEq:
		// Explicit null comparison is an IS NULL test; a NULL-valued bound
		// constant (absent auth()) must stay = NULL so it never matches.
		if isNullConst(l) || isNullConst(r) {
			return ast.Eq(l, r), nil
		}
		return &ast.Binary{Op: "=", L: l, R: r}, nil
	case expr.OpNe:
		if isNullConst(l) || isNullConst(r) {
			return ast.Ne(l, r), nil
		}
		return &ast.Binary{Op: "<>", L: l, R: r}, nil
	case expr.OpLt:
		return &ast.Binary{Op: "<", L: l, R: r}, nil
	case expr.OpLe:
		return &ast.Binary{Op: "<=", L: l, R: r}, nil
	case expr.OpGt:
		return &ast.Binary{Op: ">", L: l, R: r}, nil
	case expr.OpGe:
		return &ast.Binary{Op: ">=", L: l, R: r}, nil
	}
	return nil, types.Internalf("unknown binary operator %s", x.Op)
}

// compileCollectionPredicate compiles posts?[…], posts![…], posts^[…] into
// count-based subqueries over the relation.
func (c *Compiler) compileCollectionPredicate(st *state, m *schema.Model, alias string, x *expr.Binary, auth types.Record) (ast.Expr, error) {
	ref, ok := x.Left.(*expr.FieldRef)
	if !ok {
		return nil, types.Internalf("collection predicate requires a relation field, got %s", x.Left.String())
	}
	f := c.resolveField(m, ref.Name)
	if f == nil || !f.IsToMany() {
		return nil, types.Internalf("collection predicate on non to-many field %s.%s", m.Name, ref.Name)
	}
	sub, subAlias, err := c.relationScope(st, m, alias, f)
	if err != nil {
		return nil, err
	}
	inner, err := c.compileExpr(st, f.RelatedModel(), subAlias, x.Right, auth)
	if err != nil {
		return nil, err
	}
	if x.Op == expr.OpEvery {
		inner = ast.Not(inner)
	}
	sub.Columns = []ast.SelectItem{{Expr: &ast.FuncCall{Name: "COUNT", Star: true}}}
	sub.Where = ast.And(sub.Where, inner)
	count := &ast.Subquery{Sel: sub}
	if x.Op == expr.OpSome {
		return &ast.Binary{Op: ">", L: count, R: ast.Val(int64(0))}, nil
	}
	return ast.Eq(count, ast.Val(int64(0))), nil
}

func isAuthCall(e expr.Expr) bool {
	call, ok := e.(*expr.Call)
	return ok && call.Name == "auth"
}

func isNullConst(e ast.Expr) bool {
	_, ok := e.(*ast.NullConst)
	return ok
}
