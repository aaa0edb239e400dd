package client

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

func testClient(t *testing.T, opts Options) *Client {
	t.Helper()
	s := schema.MustNew(schema.SQLite,
		&schema.Model{
			Name: "Todo",
			Fields: []*schema.Field{
				{Name: "id", Type: schema.TypeString, ID: true, Generator: schema.GenCUID},
				{Name: "title", Type: schema.TypeString},
				{Name: "done", Type: schema.TypeBoolean, Default: expr.Lit(false)},
				{Name: "ownerId", Type: schema.TypeString, Optional: true},
			},
			Policies: []*schema.Policy{
				schema.Allow("all", expr.MustParse("ownerId == null || auth().id == ownerId")),
			},
		},
	)
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE "Todo" (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		ownerId TEXT
	)`)
	require.NoError(t, err)

	c, err := NewWithDB(s, db, opts)
	require.NoError(t, err)
	return c
}

func TestCrudThroughClient(t *testing.T) {
	c := testClient(t, Options{})
	ctx := context.Background()
	todos := c.Model("Todo")

	created, err := todos.Create(ctx, types.Record{
		"data": types.Record{"title": "write tests"},
	})
	require.NoError(t, err)
	id := created["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, false, created["done"])

	updated, err := todos.Update(ctx, types.Record{
		"where": types.Record{"id": id},
		"data":  types.Record{"done": true},
	})
	require.NoError(t, err)
	assert.Equal(t, true, updated["done"])

	count, err := todos.Count(ctx, types.Record{"where": types.Record{"done": true}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = todos.Delete(ctx, types.Record{"where": types.Record{"id": id}})
	require.NoError(t, err)

	_, err = todos.FindUniqueOrThrow(ctx, types.Record{"where": types.Record{"id": id}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidationAtTheClientBoundary(t *testing.T) {
	c := testClient(t, Options{})
	ctx := context.Background()

	_, err := c.Model("Todo").FindMany(ctx, types.Record{"bogus": true})
	assert.ErrorIs(t, err, ErrValidation)

	// Validation can be disabled when the caller trusts its input.
	off := false
	trusted := c.SetOptions(Options{ValidateInput: &off})
	_, err = trusted.Model("Todo").FindMany(ctx, types.Record{})
	assert.NoError(t, err)
}

func TestSetAuthScopesVisibility(t *testing.T) {
	c := testClient(t, Options{})
	ctx := context.Background()

	alice := c.SetAuth(types.Record{"id": "alice"})
	_, err := alice.Model("Todo").Create(ctx, types.Record{
		"data": types.Record{"title": "mine", "ownerId": "alice"},
	})
	require.NoError(t, err)

	list, err := alice.Model("Todo").FindMany(ctx, types.Record{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	bob := c.SetAuth(types.Record{"id": "bob"})
	list, err = bob.Model("Todo").FindMany(ctx, types.Record{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPluginsRunInRegistrationOrder(t *testing.T) {
	c := testClient(t, Options{})
	ctx := context.Background()

	var order []string
	first := c.Use(Plugin{
		Name: "first",
		BeforeQuery: func(ctx context.Context, hc *HookContext) error {
			order = append(order, "first")
			return nil
		},
		AfterQuery: func(ctx context.Context, hc *HookContext) {
			order = append(order, "first-after")
		},
	})
	c.Use(Plugin{
		Name: "second",
		BeforeQuery: func(ctx context.Context, hc *HookContext) error {
			order = append(order, "second")
			return nil
		},
	})

	_, err := c.Model("Todo").FindMany(ctx, types.Record{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "first-after"}, order)

	order = nil
	c.Unuse(first)
	_, err = c.Model("Todo").FindMany(ctx, types.Record{})
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, order)

	c.UnuseAll()
	order = nil
	_, err = c.Model("Todo").FindMany(ctx, types.Record{})
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestPluginRewritesArgs(t *testing.T) {
	c := testClient(t, Options{})
	ctx := context.Background()
	todos := c.Model("Todo")

	for _, title := range []string{"a", "b"} {
		_, err := todos.Create(ctx, types.Record{"data": types.Record{"title": title}})
		require.NoError(t, err)
	}

	c.Use(Plugin{
		Name: "scope-to-a",
		BeforeQuery: func(ctx context.Context, hc *HookContext) error {
			hc.Args["where"] = types.Record{"title": "a"}
			return nil
		},
	})
	list, err := todos.FindMany(ctx, types.Record{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0]["title"])
}

func TestTransactionReuseAndRollback(t *testing.T) {
	c := testClient(t, Options{})
	ctx := context.Background()

	err := c.Transaction(ctx, func(tx *Client) error {
		if _, err := tx.Model("Todo").Create(ctx, types.Record{
			"data": types.Record{"title": "outer"},
		}); err != nil {
			return err
		}
		// A nested callback reuses the open transaction.
		return tx.Transaction(ctx, func(inner *Client) error {
			_, err := inner.Model("Todo").Create(ctx, types.Record{
				"data": types.Record{"title": "inner"},
			})
			return err
		})
	})
	require.NoError(t, err)

	count, err := c.Model("Todo").Count(ctx, types.Record{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	err = c.Transaction(ctx, func(tx *Client) error {
		if _, err := tx.Model("Todo").Create(ctx, types.Record{
			"data": types.Record{"title": "doomed"},
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	count, err = c.Model("Todo").Count(ctx, types.Record{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestProcedures(t *testing.T) {
	c := testClient(t, Options{
		Procedures: map[string]Procedure{
			"todoTitles": func(ctx context.Context, c *Client, args ...interface{}) (interface{}, error) {
				list, err := c.Model("Todo").FindMany(ctx, types.Record{})
				if err != nil {
					return nil, err
				}
				titles := make([]string, 0, len(list))
				for _, rec := range list {
					titles = append(titles, rec["title"].(string))
				}
				return titles, nil
			},
		},
	})
	ctx := context.Background()

	_, err := c.Model("Todo").Create(ctx, types.Record{"data": types.Record{"title": "only"}})
	require.NoError(t, err)

	out, err := c.Procedure(ctx, "todoTitles")
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, out)

	_, err = c.Procedure(ctx, "missing")
	assert.Error(t, err)
}

func TestQBRawBypassesPolicies(t *testing.T) {
	c := testClient(t, Options{})
	ctx := context.Background()

	_, err := c.Model("Todo").Create(ctx, types.Record{
		"data": types.Record{"title": "private", "ownerId": "someone"},
	})
	// The create policy rejects the row for the unauthenticated client.
	require.Error(t, err)

	raw, err := c.QBRaw().FindMany(ctx, "Todo", types.Record{})
	require.NoError(t, err)
	assert.Empty(t, raw, "the rejected create left no row")

	_, err = c.QBRaw().Create(ctx, "Todo", types.Record{
		"data": types.Record{"title": "private", "ownerId": "someone"},
	})
	require.NoError(t, err)

	guarded, err := c.Model("Todo").FindMany(ctx, types.Record{})
	require.NoError(t, err)
	assert.Empty(t, guarded)

	raw, err = c.QBRaw().FindMany(ctx, "Todo", types.Record{})
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}
