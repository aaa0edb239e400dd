package executor

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/satishbabariya/aegis/runtime/types"
)

// wrapDBError classifies a driver error: constraint violations become
// ConstraintError with the offending model and fields where detectable,
// everything else becomes DriverError with the compiled SQL attached.
func (e *Executor) wrapDBError(err error, model, sqlText string, args []interface{}) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return &types.ConstraintError{Kind: types.ConstraintUnique, Model: model, Fields: constraintFields(e, model, pqErr.Constraint), Cause: err}
		case "23503":
			return &types.ConstraintError{Kind: types.ConstraintForeignKey, Model: model, Fields: constraintFields(e, model, pqErr.Constraint), Cause: err}
		case "23502":
			return &types.ConstraintError{Kind: types.ConstraintNotNull, Model: model, Fields: []string{pqErr.Column}, Cause: err}
		}
		return &types.DriverError{Cause: err, SQL: sqlText, Args: args}
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &types.ConstraintError{Kind: types.ConstraintUnique, Model: model, Fields: sqliteConstraintFields(err), Cause: err}
		case sqlite3.ErrConstraintForeignKey:
			return &types.ConstraintError{Kind: types.ConstraintForeignKey, Model: model, Cause: err}
		case sqlite3.ErrConstraintNotNull:
			return &types.ConstraintError{Kind: types.ConstraintNotNull, Model: model, Fields: sqliteConstraintFields(err), Cause: err}
		}
		return &types.DriverError{Cause: err, SQL: sqlText, Args: args}
	}

	return &types.DriverError{Cause: err, SQL: sqlText, Args: args}
}

// constraintFields maps a constraint name back to field names when the
// conventional <table>_<column>_key naming holds.
func constraintFields(e *Executor, model, constraint string) []string {
	if model == "" || constraint == "" {
		return nil
	}
	m, err := e.Schema.Model(model)
	if err != nil {
		return nil
	}
	var out []string
	for _, f := range m.Scalars() {
		if strings.Contains(constraint, f.Column()) {
			out = append(out, f.Name)
		}
	}
	return out
}

// sqliteConstraintFields parses "UNIQUE constraint failed: table.column".
func sqliteConstraintFields(err error) []string {
	msg := err.Error()
	idx := strings.LastIndex(msg, ": ")
	if idx < 0 {
		return nil
	}
	var out []string
	for _, part := range strings.Split(msg[idx+2:], ",") {
		part = strings.TrimSpace(part)
		if dot := strings.LastIndex(part, "."); dot >= 0 {
			out = append(out, part[dot+1:])
		}
	}
	return out
}

// IsRetryable reports whether an error is a transient serialization,
// deadlock or busy condition an outer layer may retry. The core itself
// never retries.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}
	return false
}
