package executor

import (
	"encoding/json"

	"github.com/satishbabariya/aegis/query/compiler"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// assemble folds flat rows back into nested entity trees per the compiled
// shape. Rows are grouped by the root id tuple (JSON-stringified), flat
// to-one subtrees recurse with their path prefix, JSON-strategy columns are
// parsed and output-transformed, and synthetic delegate columns are spread
// into the parent object.
func (e *Executor) assemble(rows []map[string]interface{}, shape *compiler.Shape) (types.List, error) {
	var order []string
	groups := map[string][]map[string]interface{}{}
	for _, row := range rows {
		key, err := idKey(row, shape)
		if err != nil {
			return nil, err
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	out := make(types.List, 0, len(order))
	for _, key := range order {
		rec, err := e.buildRecord(groups[key], shape)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// idKey stringifies the id-tuple of a row at the shape's path.
func idKey(row map[string]interface{}, shape *compiler.Shape) (string, error) {
	tuple := make([]interface{}, 0, len(shape.Model.IDFields))
	prefix := ""
	if shape.Path != "" {
		prefix = shape.Path + compiler.PathSep
	}
	for _, id := range shape.Model.IDFields {
		tuple = append(tuple, row[prefix+id])
	}
	b, err := json.Marshal(tuple)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (e *Executor) buildRecord(rows []map[string]interface{}, shape *compiler.Shape) (types.Record, error) {
	first := rows[0]
	rec := types.Record{}

	for _, fs := range shape.Fields {
		v, err := e.Dialect.TransformOutput(fs.Field.Type, first[fs.Alias])
		if err != nil {
			return nil, err
		}
		rec[fs.Field.Name] = v
	}

	for _, rel := range shape.Relations {
		switch rel.Strategy {
		case compiler.StrategyJSON:
			v, err := e.decodeJSONRelation(first[rel.Alias], rel)
			if err != nil {
				return nil, err
			}
			rec[rel.Name] = v
		case compiler.StrategyFlat:
			v, err := e.buildFlatRelation(rows, rel)
			if err != nil {
				return nil, err
			}
			rec[rel.Name] = v
		}
	}

	if shape.CountAlias != "" {
		counts, err := e.decodeCounts(first[shape.CountAlias])
		if err != nil {
			return nil, err
		}
		rec["_count"] = counts
	}

	for _, d := range shape.Delegates {
		if err := e.spreadDelegate(rec, first[d.Alias], d); err != nil {
			return nil, err
		}
	}

	for _, extra := range shape.Extras {
		delete(rec, aliasField(extra))
	}
	return rec, nil
}

// aliasField strips the path prefix from a column alias.
func aliasField(alias string) string {
	for i := len(alias) - 1; i >= 0; i-- {
		if alias[i:i+1] == compiler.PathSep {
			return alias[i+1:]
		}
	}
	return alias
}

// buildFlatRelation groups the child path's rows by the child id tuple.
// Optional to-one relations whose id columns are all NULL come out as nil;
// to-many relations always come out as a (possibly empty) list.
func (e *Executor) buildFlatRelation(rows []map[string]interface{}, rel *compiler.RelationSel) (interface{}, error) {
	child := rel.Child
	prefix := child.Path + compiler.PathSep

	var order []string
	groups := map[string][]map[string]interface{}{}
	for _, row := range rows {
		allNull := true
		for _, id := range child.Model.IDFields {
			if row[prefix+id] != nil {
				allNull = false
				break
			}
		}
		if allNull {
			continue
		}
		key, err := idKey(row, child)
		if err != nil {
			return nil, err
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	if !rel.Field.IsToMany() {
		if len(order) == 0 {
			return nil, nil
		}
		return e.buildRecord(groups[order[0]], child)
	}
	list := make(types.List, 0, len(order))
	for _, key := range order {
		rec, err := e.buildRecord(groups[key], child)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, nil
}

// decodeJSONRelation parses a JSON-strategy column and applies output
// transforms to the embedded scalars.
func (e *Executor) decodeJSONRelation(raw interface{}, rel *compiler.RelationSel) (interface{}, error) {
	decoded, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	if rel.Field.IsToMany() {
		if decoded == nil {
			return types.List{}, nil
		}
		items, ok := decoded.([]interface{})
		if !ok {
			return nil, types.Internalf("JSON column %s did not decode to a list", rel.Alias)
		}
		list := make(types.List, 0, len(items))
		for _, item := range items {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, types.Internalf("JSON element of %s is not an object", rel.Alias)
			}
			rec, err := e.transformJSONRecord(obj, rel.Child)
			if err != nil {
				return nil, err
			}
			list = append(list, rec)
		}
		return list, nil
	}
	if decoded == nil {
		return nil, nil
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, types.Internalf("JSON column %s did not decode to an object", rel.Alias)
	}
	return e.transformJSONRecord(obj, rel.Child)
}

func (e *Executor) transformJSONRecord(obj map[string]interface{}, shape *compiler.Shape) (types.Record, error) {
	rec := types.Record{}
	for _, fs := range shape.Fields {
		v, err := e.Dialect.TransformOutput(fs.Field.Type, obj[fs.Alias])
		if err != nil {
			return nil, err
		}
		rec[fs.Field.Name] = v
	}
	for _, rel := range shape.Relations {
		v, err := e.decodeJSONRelation(obj[rel.Alias], rel)
		if err != nil {
			return nil, err
		}
		rec[rel.Name] = v
	}
	if shape.CountAlias != "" {
		counts, err := e.decodeCounts(obj[shape.CountAlias])
		if err != nil {
			return nil, err
		}
		rec["_count"] = counts
	}
	for _, extra := range shape.Extras {
		delete(rec, aliasField(extra))
	}
	return rec, nil
}

func (e *Executor) decodeCounts(raw interface{}) (types.Record, error) {
	decoded, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	obj, _ := decoded.(map[string]interface{})
	counts := types.Record{}
	for k, v := range obj {
		n, err := e.Dialect.TransformOutput(schema.TypeBigInt, v)
		if err != nil {
			return nil, err
		}
		counts[k] = n
	}
	return counts, nil
}

// spreadDelegate parses a $delegate$ column and, when the descendant row
// exists, spreads its fields into the parent record.
func (e *Executor) spreadDelegate(rec types.Record, raw interface{}, d compiler.DelegateSel) error {
	decoded, err := decodeJSON(raw)
	if err != nil {
		return err
	}
	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return nil
	}
	// A LEFT JOIN miss yields an all-NULL object; the id decides.
	for _, id := range d.Model.IDFields {
		if obj[id] == nil {
			return nil
		}
	}
	for _, f := range d.Model.Scalars() {
		if _, already := rec[f.Name]; already {
			continue
		}
		v, err := e.Dialect.TransformOutput(f.Type, obj[f.Name])
		if err != nil {
			return err
		}
		rec[f.Name] = v
	}
	return nil
}

func decodeJSON(raw interface{}) (interface{}, error) {
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(x) == 0 {
			return nil, nil
		}
		var out interface{}
		if err := json.Unmarshal(x, &out); err != nil {
			return nil, err
		}
		return out, nil
	case string:
		if x == "" {
			return nil, nil
		}
		var out interface{}
		if err := json.Unmarshal([]byte(x), &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		// Already decoded (e.g. a driver returning native JSON).
		return raw, nil
	}
}
