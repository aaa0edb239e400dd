package executor

import (
	"context"
	"database/sql"

	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// Transaction runs fn with an executor bound to a transaction. A nested
// call reuses the open transaction instead of opening a new one, so
// client-scoped transaction callbacks compose. On error or panic the whole
// transaction rolls back; cancellation of ctx aborts at the next
// suspension point and rolls back.
func (e *Executor) Transaction(ctx context.Context, fn func(tx *Executor) error) error {
	if e.inTx {
		return fn(e)
	}
	opts := &sql.TxOptions{Isolation: e.isolationLevel()}
	tx, err := e.db.BeginTx(ctx, opts)
	if err != nil {
		return &types.DriverError{Cause: err}
	}
	txExec := *e
	txExec.conn = tx
	txExec.inTx = true

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txExec); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &types.DriverError{Cause: err}
	}
	return nil
}

// isolationLevel picks repeatable read where the provider honors it;
// SQLite transactions are serializable by construction.
func (e *Executor) isolationLevel() sql.IsolationLevel {
	if e.Schema.Provider == schema.Postgres {
		return sql.LevelRepeatableRead
	}
	return sql.LevelDefault
}
