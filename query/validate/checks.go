package validate

import (
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"

	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// checker carries the operation context through the recursive walks.
type checker struct {
	v     *Validator
	op    string
	model string
}

func (c *checker) fail(path []string, format string, args ...interface{}) error {
	return &types.ValidationError{
		Operation: c.op,
		Model:     c.model,
		Path:      path,
		Message:   fmt.Sprintf(format, args...),
	}
}

func (c *checker) checkWhere(m *schema.Model, where types.Record, path []string, allowAggregates bool) error {
	for key, v := range where {
		keyPath := append(append([]string{}, path...), key)
		switch key {
		case "AND", "OR", "NOT":
			entries, err := logicalEntries(v)
			if err != nil {
				return c.fail(keyPath, "must be an object or a list of objects")
			}
			for i, entry := range entries {
				if err := c.checkWhere(m, entry, append(keyPath, fmt.Sprintf("%d", i)), allowAggregates); err != nil {
					return err
				}
			}
			continue
		case "$expr":
			if !isExprFunc(v) {
				return c.fail(keyPath, "must be a callback")
			}
			continue
		}
		if allowAggregates && isAggregateKey(key) {
			continue
		}

		f := c.resolveField(m, key)
		if f == nil {
			return c.fail(keyPath, "unknown field")
		}
		if f.IsToMany() {
			spec, ok := v.(types.Record)
			if !ok {
				return c.fail(keyPath, "to-many filter must use some/every/none")
			}
			for op, inner := range spec {
				opPath := append(append([]string{}, keyPath...), op)
				if op != "some" && op != "every" && op != "none" {
					return c.fail(opPath, "unknown to-many filter operator")
				}
				innerRec, ok := inner.(types.Record)
				if !ok {
					return c.fail(opPath, "must be an object")
				}
				if err := c.checkWhere(f.RelatedModel(), innerRec, opPath, false); err != nil {
					return err
				}
			}
			continue
		}
		if f.IsRelation() {
			if v == nil {
				continue
			}
			spec, ok := v.(types.Record)
			if !ok {
				return c.fail(keyPath, "to-one filter must be an object or null")
			}
			_, hasIs := spec["is"]
			_, hasIsNot := spec["isNot"]
			if hasIs || hasIsNot {
				for op, inner := range spec {
					opPath := append(append([]string{}, keyPath...), op)
					if op != "is" && op != "isNot" {
						return c.fail(opPath, "is/isNot cannot mix with direct filters")
					}
					if inner == nil {
						continue
					}
					innerRec, ok := inner.(types.Record)
					if !ok {
						return c.fail(opPath, "must be an object or null")
					}
					if err := c.checkWhere(f.RelatedModel(), innerRec, opPath, false); err != nil {
						return err
					}
				}
				continue
			}
			if err := c.checkWhere(f.RelatedModel(), spec, keyPath, false); err != nil {
				return err
			}
			continue
		}
		if err := c.checkScalarFilter(m, f, v, keyPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) checkScalarFilter(m *schema.Model, f *schema.Field, v interface{}, path []string) error {
	spec, ok := v.(types.Record)
	if !ok {
		return c.checkScalarValue(f, v, path, true)
	}
	for op, val := range spec {
		opPath := append(append([]string{}, path...), op)
		if !scalarFilterOps[op] {
			return c.fail(opPath, "unknown filter operator")
		}
		switch op {
		case "mode":
			s, ok := val.(string)
			if !ok || (s != "default" && s != "insensitive") {
				return c.fail(opPath, "mode must be default or insensitive")
			}
		case "in", "notIn":
			if _, isList := val.([]interface{}); !isList {
				switch val.(type) {
				case []string, []int, []int64:
				default:
					return c.fail(opPath, "must be a list")
				}
			}
		case "contains", "startsWith", "endsWith":
			if f.Type != schema.TypeString {
				return c.fail(opPath, "only valid on String fields")
			}
			if _, ok := val.(string); !ok {
				return c.fail(opPath, "must be a string")
			}
		case "has", "hasEvery", "hasSome", "isEmpty":
			if !f.Array {
				return c.fail(opPath, "only valid on array fields")
			}
		case "not":
			if nested, isRec := val.(types.Record); isRec {
				if err := c.checkScalarFilter(m, f, nested, opPath); err != nil {
					return err
				}
			}
		default:
			if err := c.checkScalarValue(f, val, opPath, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkScalarValue loosely type-checks a value against the field's builtin
// or enum type.
func (c *checker) checkScalarValue(f *schema.Field, v interface{}, path []string, allowNull bool) error {
	if v == nil {
		if allowNull && f.Optional {
			return nil
		}
		if !f.Optional {
			return c.fail(path, "field is not nullable")
		}
		return nil
	}
	switch f.Type {
	case schema.TypeString:
		if _, ok := v.(string); !ok {
			return c.fail(path, "expected a String")
		}
	case schema.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return c.fail(path, "expected a Boolean")
		}
	case schema.TypeInt, schema.TypeBigInt:
		if !isInt(v) {
			return c.fail(path, "expected an Int")
		}
	case schema.TypeFloat:
		switch v.(type) {
		case float64, float32, int, int32, int64:
		default:
			return c.fail(path, "expected a Float")
		}
	case schema.TypeDecimal:
		switch v.(type) {
		case decimal.Decimal, string, float64, int, int64:
		default:
			return c.fail(path, "expected a Decimal")
		}
	case schema.TypeDateTime:
		switch v.(type) {
		case types.DateTime, string:
		default:
			return c.fail(path, "expected a DateTime")
		}
	case schema.TypeBytes:
		if _, ok := v.([]byte); !ok {
			return c.fail(path, "expected Bytes")
		}
	case schema.TypeJson:
		// any value is valid JSON input
	default:
		if members, isEnum := c.v.schema.Enums[f.Type]; isEnum {
			s, ok := v.(string)
			if !ok {
				return c.fail(path, "expected a %s enum value", f.Type)
			}
			for _, member := range members {
				if member == s {
					return nil
				}
			}
			return c.fail(path, "%q is not a member of enum %s", s, f.Type)
		}
	}
	return nil
}

func (c *checker) checkSelection(m *schema.Model, sel types.Record, path []string, scalarsAllowed bool) error {
	for key, v := range sel {
		keyPath := append(append([]string{}, path...), key)
		if key == "_count" {
			continue
		}
		f := c.resolveField(m, key)
		if f == nil {
			return c.fail(keyPath, "unknown field")
		}
		if !f.IsRelation() {
			if !scalarsAllowed {
				return c.fail(keyPath, "include accepts relations only")
			}
			continue
		}
		nested, ok := v.(types.Record)
		if !ok {
			continue
		}
		if hasKey(nested, "select") && hasKey(nested, "include") {
			return c.fail(keyPath, "select and include cannot coexist")
		}
		if where, ok := nested["where"].(types.Record); ok {
			if err := c.checkWhere(f.RelatedModel(), where, append(keyPath, "where"), false); err != nil {
				return err
			}
		}
		if inner, ok := nested["select"].(types.Record); ok {
			if err := c.checkSelection(f.RelatedModel(), inner, append(keyPath, "select"), true); err != nil {
				return err
			}
		}
		if inner, ok := nested["include"].(types.Record); ok {
			if err := c.checkSelection(f.RelatedModel(), inner, append(keyPath, "include"), false); err != nil {
				return err
			}
		}
		if ob, ok := nested["orderBy"]; ok {
			if err := c.checkOrderBy(f.RelatedModel(), ob, append(keyPath, "orderBy")); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *checker) checkOrderBy(m *schema.Model, v interface{}, path []string) error {
	entries, err := logicalEntries(v)
	if err != nil {
		return c.fail(path, "must be an object or a list of objects")
	}
	for _, entry := range entries {
		for key, dir := range entry {
			keyPath := append(append([]string{}, path...), key)
			f := c.resolveField(m, key)
			if f == nil {
				return c.fail(keyPath, "unknown field")
			}
			if f.IsToMany() {
				spec, ok := dir.(types.Record)
				if !ok || len(spec) != 1 {
					return c.fail(keyPath, "to-many ordering accepts only _count")
				}
				count, ok := spec["_count"]
				if !ok || !isSortDir(count) {
					return c.fail(keyPath, "to-many ordering accepts only {_count: asc|desc}")
				}
				continue
			}
			if f.IsRelation() {
				nested, ok := dir.(types.Record)
				if !ok {
					return c.fail(keyPath, "relation ordering must be an object")
				}
				if err := c.checkOrderBy(f.RelatedModel(), nested, keyPath); err != nil {
					return err
				}
				continue
			}
			if isSortDir(dir) {
				continue
			}
			spec, ok := dir.(types.Record)
			if !ok {
				return c.fail(keyPath, "expected asc, desc or {sort, nulls}")
			}
			if !f.Optional {
				if _, hasNulls := spec["nulls"]; hasNulls {
					return c.fail(keyPath, "nulls ordering requires an optional field")
				}
			}
			for k, sv := range spec {
				switch k {
				case "sort":
					if !isSortDir(sv) {
						return c.fail(keyPath, "sort must be asc or desc")
					}
				case "nulls":
					s, _ := sv.(string)
					if s != "first" && s != "last" {
						return c.fail(keyPath, "nulls must be first or last")
					}
				default:
					return c.fail(keyPath, "unknown ordering option %s", k)
				}
			}
		}
	}
	return nil
}

func (c *checker) checkDataList(m *schema.Model, v interface{}, path []string) error {
	switch rows := v.(type) {
	case types.Record:
		return c.checkScalarPatch(m, rows, path)
	case []interface{}:
		for i, row := range rows {
			rec, ok := row.(types.Record)
			if !ok {
				return c.fail(append(path, fmt.Sprintf("%d", i)), "must be an object")
			}
			if err := c.checkScalarPatch(m, rec, append(path, fmt.Sprintf("%d", i))); err != nil {
				return err
			}
		}
		return nil
	case []types.Record:
		for i, rec := range rows {
			if err := c.checkScalarPatch(m, rec, append(path, fmt.Sprintf("%d", i))); err != nil {
				return err
			}
		}
		return nil
	}
	return c.fail(path, "data must be an object or a list of objects")
}

// checkScalarPatch validates flat data without relation manipulation
// (createMany rows, updateMany patches).
func (c *checker) checkScalarPatch(m *schema.Model, data types.Record, path []string) error {
	for key, v := range data {
		keyPath := append(append([]string{}, path...), key)
		f := m.Field(key)
		if f == nil {
			return c.fail(keyPath, "unknown field")
		}
		if f.IsRelation() {
			return c.fail(keyPath, "relation writes are not accepted here")
		}
		if err := c.checkWriteValue(m, f, v, keyPath); err != nil {
			return err
		}
	}
	return nil
}

// checkWriteData validates create/update data including nested relation
// manipulation objects.
func (c *checker) checkWriteData(m *schema.Model, data types.Record, path []string, isCreate bool) error {
	return c.checkWriteDataScoped(m, data, path, isCreate, nil)
}

// checkWriteDataScoped additionally excludes fields identifying the
// opposite side of the relation being written through, preventing
// ambiguous nested inputs.
func (c *checker) checkWriteDataScoped(m *schema.Model, data types.Record, path []string, isCreate bool, excluded map[string]bool) error {
	for key, v := range data {
		keyPath := append(append([]string{}, path...), key)
		if excluded[key] {
			return c.fail(keyPath, "field is fixed by the enclosing relation")
		}
		f := m.Field(key)
		if f == nil {
			return c.fail(keyPath, "unknown field")
		}
		if f.IsRelation() {
			ops, ok := v.(types.Record)
			if !ok {
				return c.fail(keyPath, "relation writes must be an object")
			}
			if err := c.checkRelationWrite(m, f, ops, keyPath, isCreate); err != nil {
				return err
			}
			continue
		}
		if err := c.checkWriteValue(m, f, v, keyPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) checkWriteValue(m *schema.Model, f *schema.Field, v interface{}, path []string) error {
	spec, isRec := v.(types.Record)
	if !isRec {
		return c.checkScalarValue(f, v, path, true)
	}
	// Atomic numeric updaters, mutually exclusive with each other.
	if !isNumeric(f.Type) {
		return c.fail(path, "operator objects are only valid on numeric fields")
	}
	found := 0
	for op := range spec {
		valid := false
		for _, known := range atomicOps {
			if op == known {
				valid = true
				break
			}
		}
		if !valid {
			return c.fail(append(path, op), "unknown update operator")
		}
		found++
	}
	if found != 1 {
		return c.fail(path, "exactly one update operator is required")
	}
	return nil
}

func (c *checker) checkRelationWrite(m *schema.Model, f *schema.Field, ops types.Record, path []string, isCreate bool) error {
	excluded := c.oppositeExclusions(m, f)
	for op, v := range ops {
		opPath := append(append([]string{}, path...), op)
		if !relationWriteOps[op] {
			return c.fail(opPath, "unknown relation operation")
		}
		switch op {
		case "create":
			entries, err := logicalEntries(v)
			if err != nil {
				return c.fail(opPath, "must be an object or a list of objects")
			}
			for _, entry := range entries {
				if err := c.checkWriteDataScoped(f.RelatedModel(), entry, opPath, true, excluded); err != nil {
					return err
				}
			}
		case "connect", "set", "disconnect", "delete":
			if _, ok := v.(bool); ok {
				if f.IsToMany() {
					return c.fail(opPath, "boolean form is only valid on to-one relations")
				}
				continue
			}
			entries, err := logicalEntries(v)
			if err != nil {
				return c.fail(opPath, "must be an object or a list of objects")
			}
			for _, entry := range entries {
				if err := c.checkWhere(f.RelatedModel(), entry, opPath, false); err != nil {
					return err
				}
			}
		case "update", "upsert", "connectOrCreate", "updateMany", "createMany", "deleteMany":
			// Structured forms validated shallowly; nested data recurses
			// at execution-relevant keys.
			entries, err := logicalEntries(v)
			if err != nil {
				return c.fail(opPath, "must be an object or a list of objects")
			}
			for _, entry := range entries {
				if data, ok := entry["data"].(types.Record); ok {
					if err := c.checkWriteDataScoped(f.RelatedModel(), data, append(opPath, "data"), false, excluded); err != nil {
						return err
					}
				}
				if create, ok := entry["create"].(types.Record); ok {
					if err := c.checkWriteDataScoped(f.RelatedModel(), create, append(opPath, "create"), true, excluded); err != nil {
						return err
					}
				}
				if update, ok := entry["update"].(types.Record); ok {
					if err := c.checkWriteDataScoped(f.RelatedModel(), update, append(opPath, "update"), false, excluded); err != nil {
						return err
					}
				}
				if where, ok := entry["where"].(types.Record); ok {
					if err := c.checkWhere(f.RelatedModel(), where, append(opPath, "where"), false); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// oppositeExclusions names the fields of the related model that identify
// this side of the relation: the opposite relation field and any FK fields
// pointing back.
func (c *checker) oppositeExclusions(m *schema.Model, f *schema.Field) map[string]bool {
	out := map[string]bool{}
	_, opp, err := c.v.schema.Opposite(m, f)
	if err != nil {
		return out
	}
	out[opp.Name] = true
	if opp.Relation != nil {
		for _, fk := range opp.Relation.Fields {
			out[fk] = true
		}
	}
	return out
}

func (c *checker) checkGroupBy(m *schema.Model, args types.Record) error {
	byRaw, ok := args["by"]
	if !ok {
		return c.fail([]string{"by"}, "by is required")
	}
	var by []string
	switch x := byRaw.(type) {
	case string:
		by = []string{x}
	case []string:
		by = x
	case []interface{}:
		for _, e := range x {
			s, isStr := e.(string)
			if !isStr {
				return c.fail([]string{"by"}, "by entries must be field names")
			}
			by = append(by, s)
		}
	default:
		return c.fail([]string{"by"}, "by must be a field name or a list")
	}
	inBy := map[string]bool{}
	for _, name := range by {
		f := m.Field(name)
		if f == nil || f.IsRelation() {
			return c.fail([]string{"by", name}, "unknown scalar field")
		}
		inBy[name] = true
	}
	if having, ok := args["having"].(types.Record); ok {
		for key := range having {
			if key == "AND" || key == "OR" || key == "NOT" {
				continue
			}
			if !inBy[key] {
				// Aggregate-only filters on non-grouped fields are fine.
				spec, isRec := having[key].(types.Record)
				if !isRec {
					return c.fail([]string{"having", key}, "field must appear in by or be aggregated")
				}
				for op := range spec {
					if !isAggregateKey(op) {
						return c.fail([]string{"having", key}, "field must appear in by or be aggregated")
					}
				}
			}
		}
	}
	if ob, ok := args["orderBy"]; ok {
		entries, err := logicalEntries(ob)
		if err != nil {
			return c.fail([]string{"orderBy"}, "must be an object or a list of objects")
		}
		for _, entry := range entries {
			for key := range entry {
				if !inBy[key] && !isAggregateKey(key) {
					return c.fail([]string{"orderBy", key}, "field must appear in by or be aggregated")
				}
			}
		}
	}
	return nil
}

func (c *checker) resolveField(m *schema.Model, name string) *schema.Field {
	if f := m.Field(name); f != nil {
		return f
	}
	for _, base := range c.v.schema.DelegateChain(m) {
		if f := base.Field(name); f != nil {
			return f
		}
	}
	return nil
}

func isAggregateKey(s string) bool {
	switch s {
	case "_count", "_avg", "_sum", "_min", "_max":
		return true
	}
	return false
}

func isSortDir(v interface{}) bool {
	s, ok := v.(string)
	return ok && (s == "asc" || s == "desc")
}

func isNumeric(t string) bool {
	switch t {
	case schema.TypeInt, schema.TypeBigInt, schema.TypeFloat, schema.TypeDecimal:
		return true
	}
	return false
}

func logicalEntries(v interface{}) ([]types.Record, error) {
	switch x := v.(type) {
	case types.Record:
		return []types.Record{x}, nil
	case []interface{}:
		out := make([]types.Record, 0, len(x))
		for _, e := range x {
			rec, ok := e.(types.Record)
			if !ok {
				return nil, fmt.Errorf("entry is not an object")
			}
			out = append(out, rec)
		}
		return out, nil
	case []types.Record:
		return x, nil
	}
	return nil, fmt.Errorf("unexpected type %T", v)
}

// isExprFunc reports whether the $expr value is a callback.
func isExprFunc(v interface{}) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}
