// Package client provides the runtime client: per-model operation
// delegates, plugin hooks, transactions, auth context and configuration.
package client

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/policy"
	"github.com/satishbabariya/aegis/query/dialect"
	"github.com/satishbabariya/aegis/query/executor"
	"github.com/satishbabariya/aegis/query/validate"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// Client is the main database client. Derived clients (SetAuth,
// SetOptions, transaction handles) share the connection pool and schema.
type Client struct {
	schema    *schema.Schema
	db        *sql.DB
	dialect   dialect.Dialect
	validator *validate.Validator
	opts      Options
	auth      types.Record

	plugins      []pluginEntry
	nextPluginID int

	txExec *executor.Executor // non-nil on transaction-scoped clients
}

// New opens a connection for the schema's provider and returns a client.
func New(ctx context.Context, s *schema.Schema, opts Options) (*Client, error) {
	d, err := newDialect(s, opts)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), opts.DialectConfig.URL)
	if err != nil {
		return nil, err
	}
	if opts.DialectConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.DialectConfig.MaxOpenConns)
	}
	if opts.DialectConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.DialectConfig.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if sq, ok := d.(*dialect.SQLiteDialect); ok {
		if err := sq.DetectVersion(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return newClient(s, db, d, opts)
}

// NewWithDB builds a client over an existing database handle. The caller
// keeps ownership of the handle's lifecycle configuration.
func NewWithDB(s *schema.Schema, db *sql.DB, opts Options) (*Client, error) {
	d, err := newDialect(s, opts)
	if err != nil {
		return nil, err
	}
	return newClient(s, db, d, opts)
}

func newDialect(s *schema.Schema, opts Options) (dialect.Dialect, error) {
	d, err := dialect.New(string(s.Provider))
	if err != nil {
		return nil, err
	}
	if pg, ok := d.(*dialect.PostgresDialect); ok {
		pg.FixTimezone = opts.FixPostgresTimezone
	}
	return d, nil
}

func newClient(s *schema.Schema, db *sql.DB, d dialect.Dialect, opts Options) (*Client, error) {
	applyComputedFields(s, opts.ComputedFields)
	c := &Client{
		schema:    s,
		db:        db,
		dialect:   d,
		validator: validate.New(s),
		opts:      opts,
	}
	for _, p := range opts.Plugins {
		c.Use(p)
	}
	return c, nil
}

func applyComputedFields(s *schema.Schema, computed ComputedFields) {
	for modelName, fields := range computed {
		m, err := s.Model(modelName)
		if err != nil {
			continue
		}
		if m.ComputedFields == nil {
			m.ComputedFields = make(map[string]expr.Expr, len(fields))
		}
		for name, e := range fields {
			m.ComputedFields[name] = e
		}
	}
}

// Model returns the operation delegate for a model.
func (c *Client) Model(name string) *ModelDelegate {
	return &ModelDelegate{c: c, model: name}
}

// Schema returns the schema the client serves.
func (c *Client) Schema() *schema.Schema { return c.schema }

// SetAuth returns a derived client whose queries run under the given auth
// context; nil means unauthenticated.
func (c *Client) SetAuth(auth types.Record) *Client {
	derived := *c
	derived.auth = auth
	return &derived
}

// SetOptions returns a derived client with replaced options.
func (c *Client) SetOptions(opts Options) *Client {
	derived := *c
	derived.opts = opts
	return &derived
}

// Disconnect closes the connection pool.
func (c *Client) Disconnect() error { return c.db.Close() }

// Transaction runs fn with a transaction-scoped client. Nested calls reuse
// the open transaction; on error the whole transaction rolls back.
func (c *Client) Transaction(ctx context.Context, fn func(tx *Client) error) error {
	return c.executor().Transaction(ctx, func(txExec *executor.Executor) error {
		txClient := *c
		txClient.txExec = txExec
		return fn(&txClient)
	})
}

// QB exposes the policy-aware execution surface for queries the structured
// arguments cannot express.
func (c *Client) QB() *executor.Executor { return c.executor() }

// QBRaw exposes the execution surface without policy rewriting.
func (c *Client) QBRaw() *executor.Executor {
	e := c.executor()
	out := *e
	out.Policy = nil
	return &out
}

// Procedure invokes a named procedure registered in the options.
func (c *Client) Procedure(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	proc, ok := c.opts.Procedures[name]
	if !ok {
		return nil, types.Internalf("unknown procedure %s", name)
	}
	return proc(ctx, c, args...)
}

// executor builds the execution surface for the current auth context,
// reusing the open transaction when the client is transaction-scoped.
func (c *Client) executor() *executor.Executor {
	var e *executor.Executor
	if c.txExec != nil {
		copied := *c.txExec
		e = &copied
	} else {
		e = executor.New(c.schema, c.dialect, c.db)
	}
	e.Log = c.opts.Log
	e.Policy = policy.NewTransformer(e.Compiler, c.auth)
	return e
}

// IsRetryable reports whether an error is a transient condition an outer
// layer may retry; the core never retries.
func IsRetryable(err error) bool { return executor.IsRetryable(err) }
