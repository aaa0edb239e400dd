package expr

// BoolValue reports whether e is a constant boolean and its value.
func BoolValue(e Expr) (value, ok bool) {
	lit, isLit := e.(*Literal)
	if !isLit {
		return false, false
	}
	b, isBool := lit.Value.(bool)
	return b, isBool
}

// Fold reduces literal-only subtrees to literals. && and || short-circuit
// against folded true/false so redundant branches disappear before the
// expression reaches the SQL compiler.
func Fold(e Expr) Expr {
	switch x := e.(type) {
	case *Unary:
		operand := Fold(x.Operand)
		if x.Op == "!" {
			if b, ok := BoolValue(operand); ok {
				return Lit(!b)
			}
		}
		return &Unary{Op: x.Op, Operand: operand}
	case *Binary:
		left := Fold(x.Left)
		right := Fold(x.Right)
		switch x.Op {
		case OpAnd:
			if b, ok := BoolValue(left); ok {
				if !b {
					return Lit(false)
				}
				return right
			}
			if b, ok := BoolValue(right); ok {
				if !b {
					return Lit(false)
				}
				return left
			}
		case OpOr:
			if b, ok := BoolValue(left); ok {
				if b {
					return Lit(true)
				}
				return right
			}
			if b, ok := BoolValue(right); ok {
				if b {
					return Lit(true)
				}
				return left
			}
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			if lv, lok := left.(*Literal); lok {
				if rv, rok := right.(*Literal); rok {
					if res, ok := compareLiterals(x.Op, lv.Value, rv.Value); ok {
						return Lit(res)
					}
				}
			}
		}
		return &Binary{Op: x.Op, Left: left, Right: right}
	case *Array:
		items := make([]Expr, len(x.Items))
		for i, it := range x.Items {
			items[i] = Fold(it)
		}
		return &Array{Items: items}
	default:
		return e
	}
}

func compareLiterals(op string, l, r interface{}) (bool, bool) {
	if lf, lok := toFloat(l); lok {
		if rf, rok := toFloat(r); rok {
			switch op {
			case OpEq:
				return lf == rf, true
			case OpNe:
				return lf != rf, true
			case OpLt:
				return lf < rf, true
			case OpLe:
				return lf <= rf, true
			case OpGt:
				return lf > rf, true
			case OpGe:
				return lf >= rf, true
			}
		}
		return false, false
	}
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok && rok {
		switch op {
		case OpEq:
			return ls == rs, true
		case OpNe:
			return ls != rs, true
		case OpLt:
			return ls < rs, true
		case OpLe:
			return ls <= rs, true
		case OpGt:
			return ls > rs, true
		case OpGe:
			return ls >= rs, true
		}
	}
	lb, lok := l.(bool)
	rb, rok := r.(bool)
	if lok && rok {
		switch op {
		case OpEq:
			return lb == rb, true
		case OpNe:
			return lb != rb, true
		}
	}
	return false, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
