// Package executor runs compiled statements over database/sql, plans
// nested mutations inside transactions, and folds result rows back into
// nested entity trees.
package executor

import (
	"context"
	"database/sql"

	"github.com/satishbabariya/aegis/internal/debug"
	"github.com/satishbabariya/aegis/policy"
	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/query/compiler"
	"github.com/satishbabariya/aegis/query/dialect"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// Queryer is the common surface of *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// LogFunc receives every compiled statement and its parameters.
type LogFunc func(query string, args []interface{})

// Executor executes queries for one schema/dialect/auth context. It is
// cheap to construct; the client builds one for every operation.
type Executor struct {
	Schema   *schema.Schema
	Compiler *compiler.Compiler
	Dialect  dialect.Dialect
	Policy   *policy.Transformer // nil disables policy enforcement
	Log      LogFunc

	db   *sql.DB
	conn Queryer
	inTx bool
}

// New creates an executor over an open database handle.
func New(s *schema.Schema, d dialect.Dialect, db *sql.DB) *Executor {
	return &Executor{
		Schema:   s,
		Compiler: compiler.New(s, d),
		Dialect:  d,
		db:       db,
		conn:     db,
	}
}

// WithPolicy returns a copy enforcing policies for the given transformer.
func (e *Executor) WithPolicy(p *policy.Transformer) *Executor {
	out := *e
	out.Policy = p
	return &out
}

// InTx reports whether the executor is bound to an open transaction.
func (e *Executor) InTx() bool { return e.inTx }

// DB returns the underlying database handle.
func (e *Executor) DB() *sql.DB { return e.db }

func (e *Executor) logQuery(query string, args []interface{}) {
	debug.Debug("query", "sql", query, "args", args)
	if e.Log != nil {
		e.Log(query, args)
	}
}

// query renders and runs a statement, returning the raw rows as maps keyed
// by result-column alias.
func (e *Executor) query(ctx context.Context, stmt ast.Stmt) ([]map[string]interface{}, error) {
	sqlText, args, err := e.Dialect.Render(stmt)
	if err != nil {
		return nil, err
	}
	e.logQuery(sqlText, args)
	rows, err := e.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, e.wrapDBError(err, "", sqlText, args)
	}
	defer rows.Close()
	return scanAll(rows)
}

// exec renders and runs a statement for its side effects.
func (e *Executor) exec(ctx context.Context, model string, stmt ast.Stmt) (sql.Result, error) {
	sqlText, args, err := e.Dialect.Render(stmt)
	if err != nil {
		return nil, err
	}
	e.logQuery(sqlText, args)
	res, err := e.conn.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return nil, e.wrapDBError(err, model, sqlText, args)
	}
	return res, nil
}

// execReturning runs a mutation that carries a RETURNING clause and scans
// the returned rows.
func (e *Executor) execReturning(ctx context.Context, model string, stmt ast.Stmt) ([]map[string]interface{}, error) {
	sqlText, args, err := e.Dialect.Render(stmt)
	if err != nil {
		return nil, err
	}
	e.logQuery(sqlText, args)
	rows, err := e.conn.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, e.wrapDBError(err, model, sqlText, args)
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// applyReadPolicy rewrites a read statement in place.
func (e *Executor) applyReadPolicy(stmt ast.Stmt) error {
	if e.Policy == nil {
		return nil
	}
	return e.Policy.ApplyRead(stmt)
}

// FindMany compiles and runs findMany/findFirst, returning assembled trees.
func (e *Executor) FindMany(ctx context.Context, model string, args types.Record) (types.List, error) {
	rq, err := e.Compiler.CompileFindMany(model, args)
	if err != nil {
		return nil, err
	}
	return e.runRead(ctx, rq)
}

// FindUnique compiles and runs findUnique, returning one tree or nil.
func (e *Executor) FindUnique(ctx context.Context, model string, args types.Record) (types.Record, error) {
	rq, err := e.Compiler.CompileFindUnique(model, args)
	if err != nil {
		return nil, err
	}
	list, err := e.runRead(ctx, rq)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// FindFirst is findMany with an implicit take 1.
func (e *Executor) FindFirst(ctx context.Context, model string, args types.Record) (types.Record, error) {
	scoped := make(types.Record, len(args)+1)
	for k, v := range args {
		scoped[k] = v
	}
	if _, ok := scoped["take"]; !ok {
		scoped["take"] = 1
	}
	list, err := e.FindMany(ctx, model, scoped)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (e *Executor) runRead(ctx context.Context, rq *compiler.ReadQuery) (types.List, error) {
	if err := e.applyReadPolicy(rq.Stmt); err != nil {
		return nil, err
	}
	rows, err := e.query(ctx, rq.Stmt)
	if err != nil {
		return nil, err
	}
	return e.assemble(rows, rq.Shape)
}

// Count runs count, honoring select for per-field non-null counts.
func (e *Executor) Count(ctx context.Context, model string, args types.Record) (types.Record, error) {
	aq, err := e.Compiler.CompileCount(model, args)
	if err != nil {
		return nil, err
	}
	return e.runAggRow(ctx, aq)
}

// CountAll runs count without a select and returns the bare number.
func (e *Executor) CountAll(ctx context.Context, model string, args types.Record) (int64, error) {
	rec, err := e.Count(ctx, model, args)
	if err != nil {
		return 0, err
	}
	if n, ok := rec["_count"].(int64); ok {
		return n, nil
	}
	return 0, nil
}

// Aggregate runs aggregate and nests results per operator.
func (e *Executor) Aggregate(ctx context.Context, model string, args types.Record) (types.Record, error) {
	aq, err := e.Compiler.CompileAggregate(model, args)
	if err != nil {
		return nil, err
	}
	return e.runAggRow(ctx, aq)
}

// GroupBy runs groupBy and nests aggregate results per group row.
func (e *Executor) GroupBy(ctx context.Context, model string, args types.Record) (types.List, error) {
	aq, err := e.Compiler.CompileGroupBy(model, args)
	if err != nil {
		return nil, err
	}
	if err := e.applyReadPolicy(aq.Stmt); err != nil {
		return nil, err
	}
	rows, err := e.query(ctx, aq.Stmt)
	if err != nil {
		return nil, err
	}
	out := make(types.List, 0, len(rows))
	for _, row := range rows {
		rec, err := e.foldAggRow(aq, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e *Executor) runAggRow(ctx context.Context, aq *compiler.AggQuery) (types.Record, error) {
	if err := e.applyReadPolicy(aq.Stmt); err != nil {
		return nil, err
	}
	rows, err := e.query(ctx, aq.Stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return types.Record{}, nil
	}
	return e.foldAggRow(aq, rows[0])
}

// foldAggRow folds aliased aggregate columns ("_avg$price") back into
// nested objects ({_avg: {price: …}}).
func (e *Executor) foldAggRow(aq *compiler.AggQuery, row map[string]interface{}) (types.Record, error) {
	out := types.Record{}
	for _, sel := range aq.Sels {
		raw := row[sel.Alias]
		v, err := e.transformAgg(sel, raw)
		if err != nil {
			return nil, err
		}
		op, field, nested := splitAggAlias(sel.Alias)
		if !nested {
			out[sel.Alias] = v
			continue
		}
		group, ok := out[op].(types.Record)
		if !ok {
			group = types.Record{}
			out[op] = group
		}
		group[field] = v
	}
	return out, nil
}

func splitAggAlias(alias string) (op, field string, nested bool) {
	for i := 0; i < len(alias); i++ {
		if alias[i:i+1] == compiler.PathSep {
			return alias[:i], alias[i+1:], true
		}
	}
	return "", "", false
}

func (e *Executor) transformAgg(sel compiler.AggSel, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch sel.Op {
	case "_count":
		return e.Dialect.TransformOutput(schema.TypeBigInt, v)
	case "_avg":
		return e.Dialect.TransformOutput(schema.TypeFloat, v)
	case "_sum", "_min", "_max":
		if sel.Field != nil {
			return e.Dialect.TransformOutput(sel.Field.Type, v)
		}
		return v, nil
	default:
		if sel.Field != nil {
			return e.Dialect.TransformOutput(sel.Field.Type, v)
		}
		return v, nil
	}
}
