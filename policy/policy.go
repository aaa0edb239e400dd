// Package policy rewrites compiled SQL statements so that only rows
// matching the active access policies are visible or mutable. It operates
// on the SQL AST after dialect compilation and before execution.
package policy

import (
	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/query/compiler"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// Transformer injects allow/deny predicates for one auth context.
type Transformer struct {
	compiler *compiler.Compiler
	schema   *schema.Schema
	auth     types.Record
}

// NewTransformer creates a transformer bound to an auth context. A nil
// auth record means unauthenticated: auth() compiles to NULL.
func NewTransformer(c *compiler.Compiler, auth types.Record) *Transformer {
	return &Transformer{compiler: c, schema: c.Schema, auth: auth}
}

// Auth returns the bound auth context.
func (t *Transformer) Auth() types.Record { return t.auth }

// ApplyRead walks the statement and conjoins the read-policy predicate of
// every policy-bearing model referenced by a FROM entry or a join. Joined
// entries receive the predicate in their ON clause so parent rows survive
// with the relation hidden.
func (t *Transformer) ApplyRead(stmt ast.Stmt) error {
	var firstErr error
	ast.VisitSelects(stmt, func(sel *ast.SelectStmt) {
		if firstErr != nil {
			return
		}
		if tbl, ok := sel.From.(*ast.Table); ok {
			pred, err := t.tablePredicate(tbl, schema.OpRead)
			if err != nil {
				firstErr = err
				return
			}
			if pred != nil {
				sel.Where = ast.And(sel.Where, pred)
			}
		}
		for i := range sel.Joins {
			tbl, ok := sel.Joins[i].Target.(*ast.Table)
			if !ok {
				continue
			}
			pred, err := t.tablePredicate(tbl, schema.OpRead)
			if err != nil {
				firstErr = err
				return
			}
			if pred != nil {
				sel.Joins[i].On = ast.And(sel.Joins[i].On, pred)
			}
		}
	})
	return firstErr
}

func (t *Transformer) tablePredicate(tbl *ast.Table, op schema.Operation) (ast.Expr, error) {
	if tbl.Model == "" {
		return nil, nil
	}
	m, err := t.schema.Model(tbl.Model)
	if err != nil {
		return nil, err
	}
	if !m.HasPolicies(op) {
		return nil, nil
	}
	alias := tbl.Alias
	if alias == "" {
		alias = tbl.Name
	}
	return t.Predicate(m, alias, op)
}

// Predicate compiles the combined policy predicate for (model, operation):
// (OR of allows) AND (AND of NOT denies). An empty allow set compiles to
// constant FALSE — nothing is visible. Constant folding collapses
// redundant branches.
func (t *Transformer) Predicate(m *schema.Model, alias string, op schema.Operation) (ast.Expr, error) {
	allows, denies := m.PoliciesFor(op)

	var allowPreds []ast.Expr
	for _, a := range allows {
		pred, err := t.compiler.CompileExprStandalone(m, alias, a, t.auth)
		if err != nil {
			return nil, err
		}
		allowPreds = append(allowPreds, pred)
	}
	combined := ast.Or(allowPreds...)

	for _, d := range denies {
		pred, err := t.compiler.CompileExprStandalone(m, alias, d, t.auth)
		if err != nil {
			return nil, err
		}
		combined = ast.And(combined, ast.Not(pred))
	}
	return combined, nil
}

// FilterPredicate returns the pre-filter for mutations: the update/delete
// policy predicate compiled against the bare table, or nil when the model
// carries no policy for the operation.
func (t *Transformer) FilterPredicate(m *schema.Model, op schema.Operation) (ast.Expr, error) {
	if !m.HasPolicies(op) {
		return nil, nil
	}
	return t.Predicate(m, "", op)
}

// CheckCreateLocal evaluates the create policies against a prospective row
// in memory. decided is false when any governing expression needs database
// state; the caller then falls back to a would-be select inside the
// transaction.
func (t *Transformer) CheckCreateLocal(m *schema.Model, row types.Record) (allowed, decided bool) {
	if !m.HasPolicies(schema.OpCreate) {
		return true, true
	}
	allows, denies := m.PoliciesFor(schema.OpCreate)
	env := expr.Env{Row: row, Auth: t.auth}

	anyAllow := false
	for _, a := range allows {
		ok, err := expr.EvalBool(a, env)
		if err != nil {
			return false, false
		}
		if ok {
			anyAllow = true
			break
		}
	}
	if !anyAllow {
		return false, true
	}
	for _, d := range denies {
		ok, err := expr.EvalBool(d, env)
		if err != nil {
			return false, false
		}
		if ok {
			return false, true
		}
	}
	return true, true
}

// NeedsCheck reports whether op is policy-governed on the model.
func (t *Transformer) NeedsCheck(m *schema.Model, op schema.Operation) bool {
	return m.HasPolicies(op)
}
