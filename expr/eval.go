package expr

import (
	"fmt"
	"reflect"
)

// Env is the evaluation environment for in-memory expression evaluation.
// Row holds the candidate entity's scalar fields; Auth holds the
// authenticated context value (nil when unauthenticated).
type Env struct {
	Row  map[string]interface{}
	Auth map[string]interface{}
}

// Eval evaluates an expression against an in-memory row and auth context.
// It is used for create-policy pre-checks when the expression only touches
// the prospective row; expressions requiring database state (relation
// traversal past available data) return an error and the caller falls back
// to a would-be select.
func Eval(e Expr, env Env) (interface{}, error) {
	switch x := e.(type) {
	case *Literal:
		return x.Value, nil
	case *Null:
		return nil, nil
	case *This:
		return env.Row, nil
	case *FieldRef:
		v, ok := env.Row[x.Name]
		if !ok {
			return nil, fmt.Errorf("field %s not present in row", x.Name)
		}
		return v, nil
	case *Call:
		switch x.Name {
		case "auth":
			if env.Auth == nil {
				return nil, nil
			}
			return env.Auth, nil
		}
		return nil, fmt.Errorf("cannot evaluate call %s() in memory", x.Name)
	case *Member:
		recv, err := Eval(x.Receiver, env)
		if err != nil {
			return nil, err
		}
		if recv == nil {
			return nil, nil
		}
		m, ok := recv.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("member access %s on non-object value", x.Member)
		}
		return m[x.Member], nil
	case *Array:
		out := make([]interface{}, len(x.Items))
		for i, it := range x.Items {
			v, err := Eval(it, env)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *Unary:
		v, err := Eval(x.Operand, env)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case "!":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("! applied to non-boolean")
			}
			return !b, nil
		case "-":
			if f, ok := toFloat(v); ok {
				return -f, nil
			}
			return nil, fmt.Errorf("- applied to non-number")
		}
		return nil, fmt.Errorf("unknown unary operator %s", x.Op)
	case *Binary:
		return evalBinary(x, env)
	}
	return nil, fmt.Errorf("unknown expression kind %s", e.Kind())
}

// EvalBool evaluates an expression and coerces the result to a boolean.
// A nil result (e.g. comparison against an absent auth()) is false.
func EvalBool(e Expr, env Env) (bool, error) {
	v, err := Eval(e, env)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to a boolean")
	}
	return b, nil
}

func evalBinary(x *Binary, env Env) (interface{}, error) {
	switch x.Op {
	case OpAnd:
		lb, err := EvalBool(x.Left, env)
		if err != nil {
			return nil, err
		}
		if !lb {
			return false, nil
		}
		return EvalBool(x.Right, env)
	case OpOr:
		lb, err := EvalBool(x.Left, env)
		if err != nil {
			return nil, err
		}
		if lb {
			return true, nil
		}
		return EvalBool(x.Right, env)
	case OpSome, OpEvery, OpNone:
		return evalCollection(x, env)
	}

	l, err := Eval(x.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := Eval(x.Right, env)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case OpEq:
		return looseEqual(l, r), nil
	case OpNe:
		return !looseEqual(l, r), nil
	case OpIn:
		items, ok := r.([]interface{})
		if !ok {
			return nil, fmt.Errorf("right side of in is not an array")
		}
		for _, it := range items {
			if looseEqual(l, it) {
				return true, nil
			}
		}
		return false, nil
	case OpLt, OpLe, OpGt, OpGe:
		if l == nil || r == nil {
			return false, nil
		}
		res, ok := compareLiterals(x.Op, l, r)
		if !ok {
			return nil, fmt.Errorf("cannot compare %T and %T", l, r)
		}
		return res, nil
	}
	return nil, fmt.Errorf("unknown binary operator %s", x.Op)
}

func evalCollection(x *Binary, env Env) (interface{}, error) {
	coll, err := Eval(x.Left, env)
	if err != nil {
		return nil, err
	}
	items, ok := coll.([]interface{})
	if !ok {
		if rows, rok := coll.([]map[string]interface{}); rok {
			items = make([]interface{}, len(rows))
			for i, r := range rows {
				items[i] = r
			}
		} else if coll == nil {
			items = nil
		} else {
			return nil, fmt.Errorf("collection predicate on non-collection value")
		}
	}
	matched := 0
	for _, it := range items {
		row, ok := it.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("collection element is not an object")
		}
		b, err := EvalBool(x.Right, Env{Row: row, Auth: env.Auth})
		if err != nil {
			return nil, err
		}
		if b {
			matched++
		}
	}
	switch x.Op {
	case OpSome:
		return matched > 0, nil
	case OpEvery:
		return matched == len(items), nil
	default:
		return matched == 0, nil
	}
}

// looseEqual compares values across the numeric types that arrive from
// drivers and literals without regard to their concrete Go type.
func looseEqual(l, r interface{}) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if lf, ok := toFloat(l); ok {
		if rf, rok := toFloat(r); rok {
			return lf == rf
		}
		return false
	}
	return reflect.DeepEqual(l, r)
}
