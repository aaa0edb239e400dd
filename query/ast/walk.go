package ast

// VisitSelects walks a statement and invokes fn on every SelectStmt it
// contains, including subqueries nested in expressions, joins and derived
// tables. Children are visited before their parents so an injected predicate
// is not revisited.
func VisitSelects(stmt Stmt, fn func(*SelectStmt)) {
	switch s := stmt.(type) {
	case *SelectStmt:
		visitSelect(s, fn)
	case *InsertStmt:
		for _, row := range s.Rows {
			for _, e := range row {
				visitExpr(e, fn)
			}
		}
	case *UpdateStmt:
		for _, a := range s.Set {
			visitExpr(a.Value, fn)
		}
		visitExpr(s.Where, fn)
	case *DeleteStmt:
		visitExpr(s.Where, fn)
	}
}

func visitSelect(s *SelectStmt, fn func(*SelectStmt)) {
	if s == nil {
		return
	}
	for _, c := range s.Columns {
		visitExpr(c.Expr, fn)
	}
	visitTableRef(s.From, fn)
	for _, j := range s.Joins {
		visitTableRef(j.Target, fn)
		visitExpr(j.On, fn)
	}
	visitExpr(s.Where, fn)
	for _, g := range s.GroupBy {
		visitExpr(g, fn)
	}
	visitExpr(s.Having, fn)
	for _, o := range s.OrderBy {
		visitExpr(o.X, fn)
	}
	fn(s)
}

func visitTableRef(ref TableRef, fn func(*SelectStmt)) {
	if sub, ok := ref.(*SubselectRef); ok {
		visitSelect(sub.Sel, fn)
	}
}

func visitExpr(e Expr, fn func(*SelectStmt)) {
	switch x := e.(type) {
	case nil:
		return
	case *Unary:
		visitExpr(x.X, fn)
	case *Binary:
		visitExpr(x.L, fn)
		visitExpr(x.R, fn)
	case *InList:
		visitExpr(x.X, fn)
		for _, it := range x.Items {
			visitExpr(it, fn)
		}
	case *InSelect:
		visitExpr(x.X, fn)
		visitSelect(x.Sel, fn)
	case *Exists:
		visitSelect(x.Sel, fn)
	case *Subquery:
		visitSelect(x.Sel, fn)
	case *FuncCall:
		for _, a := range x.Args {
			visitExpr(a, fn)
		}
	case *Tuple:
		for _, it := range x.Items {
			visitExpr(it, fn)
		}
	case *JSONObject:
		for _, p := range x.Pairs {
			visitExpr(p.Val, fn)
		}
	case *JSONAgg:
		visitExpr(x.X, fn)
		for _, o := range x.OrderBy {
			visitExpr(o.X, fn)
		}
	}
}
