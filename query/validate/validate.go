// Package validate builds per-(model, operation) structural validators
// from the schema and rejects malformed query arguments before any SQL is
// built. Validators are constructed lazily and cached; the cache is safe
// for concurrent readers.
package validate

import (
	"fmt"
	"sync"

	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// Operation names accepted by Validate.
const (
	OpFindMany            = "findMany"
	OpFindFirst           = "findFirst"
	OpFindUnique          = "findUnique"
	OpCreate              = "create"
	OpCreateMany          = "createMany"
	OpCreateManyAndReturn = "createManyAndReturn"
	OpUpdate              = "update"
	OpUpdateMany          = "updateMany"
	OpUpsert              = "upsert"
	OpDelete              = "delete"
	OpDeleteMany          = "deleteMany"
	OpCount               = "count"
	OpAggregate           = "aggregate"
	OpGroupBy             = "groupBy"
)

// topLevelKeys lists the accepted argument keys per operation.
var topLevelKeys = map[string][]string{
	OpFindMany:            {"where", "orderBy", "select", "include", "omit", "take", "skip", "cursor", "distinct"},
	OpFindFirst:           {"where", "orderBy", "select", "include", "omit", "take", "skip", "cursor", "distinct"},
	OpFindUnique:          {"where", "select", "include", "omit"},
	OpCreate:              {"data", "select", "include", "omit"},
	OpCreateMany:          {"data", "skipDuplicates"},
	OpCreateManyAndReturn: {"data", "skipDuplicates", "select", "omit"},
	OpUpdate:              {"where", "data", "select", "include", "omit"},
	OpUpdateMany:          {"where", "data", "limit"},
	OpUpsert:              {"where", "create", "update", "select", "include", "omit"},
	OpDelete:              {"where", "select", "include", "omit"},
	OpDeleteMany:          {"where", "limit"},
	OpCount:               {"where", "orderBy", "select", "take", "skip", "cursor"},
	OpAggregate:           {"where", "orderBy", "take", "skip", "cursor", "_count", "_avg", "_sum", "_min", "_max"},
	OpGroupBy:             {"by", "where", "orderBy", "having", "take", "skip", "_count", "_avg", "_sum", "_min", "_max"},
}

// scalarFilterOps lists the operators accepted inside a scalar filter.
var scalarFilterOps = map[string]bool{
	"equals": true, "not": true, "in": true, "notIn": true,
	"lt": true, "lte": true, "gt": true, "gte": true,
	"contains": true, "startsWith": true, "endsWith": true, "mode": true,
	"has": true, "hasEvery": true, "hasSome": true, "isEmpty": true,
}

// relationWriteOps lists the nested relation manipulation keys.
var relationWriteOps = map[string]bool{
	"create": true, "createMany": true, "connect": true, "connectOrCreate": true,
	"disconnect": true, "set": true, "update": true, "updateMany": true,
	"upsert": true, "delete": true, "deleteMany": true,
}

// atomicOps lists the numeric atomic updaters, mutually exclusive with
// each other.
var atomicOps = []string{"set", "increment", "decrement", "multiply", "divide"}

// Validator validates query arguments against one schema.
type Validator struct {
	schema *schema.Schema
	cache  sync.Map // "model:op" → *rules
}

type rules struct {
	allowed map[string]bool
}

// New creates a validator.
func New(s *schema.Schema) *Validator {
	return &Validator{schema: s}
}

func (v *Validator) rulesFor(model, op string) *rules {
	key := model + ":" + op
	if cached, ok := v.cache.Load(key); ok {
		return cached.(*rules)
	}
	r := &rules{allowed: map[string]bool{}}
	for _, k := range topLevelKeys[op] {
		r.allowed[k] = true
	}
	actual, _ := v.cache.LoadOrStore(key, r)
	return actual.(*rules)
}

// Validate checks args for (model, op). Violations carry the operation
// name and the path of the offending key.
func (v *Validator) Validate(model, op string, args types.Record) error {
	m, err := v.schema.Model(model)
	if err != nil {
		return err
	}
	if _, known := topLevelKeys[op]; !known {
		return v.fail(op, model, nil, fmt.Sprintf("unknown operation %s", op))
	}
	r := v.rulesFor(model, op)

	for key := range args {
		if !r.allowed[key] {
			return v.fail(op, model, []string{key}, "unknown argument")
		}
	}

	if hasKey(args, "select") && hasKey(args, "include") {
		return v.fail(op, model, []string{"select"}, "select and include cannot coexist")
	}
	if hasKey(args, "select") && hasKey(args, "omit") {
		return v.fail(op, model, []string{"select"}, "select and omit cannot coexist")
	}

	c := &checker{v: v, op: op, model: model}

	if where, ok := args["where"]; ok {
		whereRec, isRec := where.(types.Record)
		if !isRec {
			return v.fail(op, model, []string{"where"}, "where must be an object")
		}
		if err := c.checkWhere(m, whereRec, []string{"where"}, op == OpGroupBy); err != nil {
			return err
		}
		if op == OpFindUnique || op == OpUpdate || op == OpUpsert || op == OpDelete {
			if !hasFullUniqueSet(m, whereRec) {
				return v.fail(op, model, []string{"where"}, "at least one full unique field set is required")
			}
		}
	} else if op == OpFindUnique || op == OpUpdate || op == OpUpsert || op == OpDelete {
		return v.fail(op, model, []string{"where"}, "where is required")
	}

	if sel, ok := args["select"].(types.Record); ok {
		if err := c.checkSelection(m, sel, []string{"select"}, true); err != nil {
			return err
		}
	}
	if inc, ok := args["include"].(types.Record); ok {
		if err := c.checkSelection(m, inc, []string{"include"}, false); err != nil {
			return err
		}
	}
	if omit, ok := args["omit"].(types.Record); ok {
		for key := range omit {
			f := m.Field(key)
			if f == nil || f.IsRelation() {
				return v.fail(op, model, []string{"omit", key}, "unknown scalar field")
			}
		}
	}

	if ob, ok := args["orderBy"]; ok && op != OpGroupBy {
		if err := c.checkOrderBy(m, ob, []string{"orderBy"}); err != nil {
			return err
		}
	}

	for _, key := range []string{"take", "skip", "limit"} {
		if raw, ok := args[key]; ok {
			if !isInt(raw) {
				return v.fail(op, model, []string{key}, "must be an integer")
			}
		}
	}

	if cursor, ok := args["cursor"]; ok {
		rec, isRec := cursor.(types.Record)
		if !isRec || !hasFullUniqueSet(m, rec) {
			return v.fail(op, model, []string{"cursor"}, "cursor must contain a full unique field set")
		}
	}

	switch op {
	case OpCreate:
		data, ok := args["data"].(types.Record)
		if !ok {
			return v.fail(op, model, []string{"data"}, "data is required")
		}
		return c.checkWriteData(m, data, []string{"data"}, true)
	case OpCreateMany, OpCreateManyAndReturn:
		return c.checkDataList(m, args["data"], []string{"data"})
	case OpUpdate:
		data, ok := args["data"].(types.Record)
		if !ok {
			return v.fail(op, model, []string{"data"}, "data is required")
		}
		return c.checkWriteData(m, data, []string{"data"}, false)
	case OpUpdateMany:
		data, ok := args["data"].(types.Record)
		if !ok {
			return v.fail(op, model, []string{"data"}, "data is required")
		}
		return c.checkScalarPatch(m, data, []string{"data"})
	case OpUpsert:
		create, ok := args["create"].(types.Record)
		if !ok {
			return v.fail(op, model, []string{"create"}, "create is required")
		}
		if err := c.checkWriteData(m, create, []string{"create"}, true); err != nil {
			return err
		}
		update, ok := args["update"].(types.Record)
		if !ok {
			return v.fail(op, model, []string{"update"}, "update is required")
		}
		return c.checkWriteData(m, update, []string{"update"}, false)
	case OpGroupBy:
		return c.checkGroupBy(m, args)
	}
	return nil
}

func (v *Validator) fail(op, model string, path []string, msg string) error {
	return &types.ValidationError{Operation: op, Model: model, Path: path, Message: msg}
}

func hasKey(args types.Record, key string) bool {
	_, ok := args[key]
	return ok
}

func isInt(v interface{}) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	}
	return false
}

// hasFullUniqueSet reports whether the where contains every field of at
// least one unique set, with non-filter values.
func hasFullUniqueSet(m *schema.Model, where types.Record) bool {
	for _, set := range m.UniqueSets() {
		complete := true
		for _, name := range set.Fields {
			v, ok := where[name]
			if _, isFilter := v.(types.Record); !ok || isFilter {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}
