package policy_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/policy"
	"github.com/satishbabariya/aegis/query/dialect"
	"github.com/satishbabariya/aegis/query/executor"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

func itemSchema(policies ...*schema.Policy) *schema.Schema {
	return schema.MustNew(schema.SQLite, &schema.Model{
		Name: "Item",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
			{Name: "value", Type: schema.TypeInt},
			{Name: "ownerId", Type: schema.TypeString, Optional: true},
		},
		Policies: policies,
	})
}

func itemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE "Item" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value INTEGER NOT NULL,
		ownerId TEXT
	)`)
	require.NoError(t, err)
	return db
}

func executors(t *testing.T, s *schema.Schema, db *sql.DB, auth types.Record) (raw, guarded *executor.Executor) {
	t.Helper()
	raw = executor.New(s, dialect.NewSQLite(), db)
	guarded = raw.WithPolicy(policy.NewTransformer(raw.Compiler, auth))
	return raw, guarded
}

func TestReadPolicyFiltersRows(t *testing.T) {
	s := itemSchema(schema.Allow("read", expr.MustParse("value > 1")))
	db := itemDB(t)
	raw, guarded := executors(t, s, db, nil)
	ctx := context.Background()

	for _, v := range []int{1, 2} {
		_, err := raw.Create(ctx, "Item", types.Record{"data": types.Record{"value": v}})
		require.NoError(t, err)
	}

	list, err := guarded.FindMany(ctx, "Item", types.Record{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0]["id"])
	assert.Equal(t, int64(2), list[0]["value"])

	// A policy-hidden row reads as absent, not as an error.
	rec, err := guarded.FindUnique(ctx, "Item", types.Record{"where": types.Record{"id": 1}})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEmptyAllowSetHidesEverything(t *testing.T) {
	s := itemSchema(schema.Deny("read", expr.MustParse("value == 0")))
	db := itemDB(t)
	raw, guarded := executors(t, s, db, nil)
	ctx := context.Background()

	_, err := raw.Create(ctx, "Item", types.Record{"data": types.Record{"value": 5}})
	require.NoError(t, err)

	list, err := guarded.FindMany(ctx, "Item", types.Record{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuthBoundPolicy(t *testing.T) {
	s := itemSchema(schema.Allow("read", expr.MustParse("auth().id == ownerId")))
	db := itemDB(t)
	raw, _ := executors(t, s, db, nil)
	ctx := context.Background()

	_, err := raw.Create(ctx, "Item", types.Record{"data": types.Record{"value": 1, "ownerId": "u1"}})
	require.NoError(t, err)
	_, err = raw.Create(ctx, "Item", types.Record{"data": types.Record{"value": 2, "ownerId": "u2"}})
	require.NoError(t, err)

	_, mine := executors(t, s, db, types.Record{"id": "u1"})
	list, err := mine.FindMany(ctx, "Item", types.Record{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0]["ownerId"])

	// Unauthenticated: auth() is NULL, the comparison never matches.
	_, anon := executors(t, s, db, nil)
	list, err = anon.FindMany(ctx, "Item", types.Record{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdatePrefilter(t *testing.T) {
	s := itemSchema(
		schema.Allow("read", expr.Lit(true)),
		schema.Allow("update", expr.MustParse("value > 1")),
	)
	db := itemDB(t)
	raw, guarded := executors(t, s, db, nil)
	ctx := context.Background()

	row, err := raw.Create(ctx, "Item", types.Record{"data": types.Record{"value": 1}})
	require.NoError(t, err)

	// The update policy hides the row from mutation; surfaced as not found.
	_, err = guarded.Update(ctx, "Item", types.Record{
		"where": types.Record{"id": row["id"]},
		"data":  types.Record{"value": 10},
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPostUpdatePolicyRollsBack(t *testing.T) {
	s := itemSchema(
		schema.Allow("read", expr.Lit(true)),
		schema.Allow("update", expr.MustParse("value > 1")),
		schema.Allow("post-update", expr.MustParse("value > 2")),
	)
	db := itemDB(t)
	raw, guarded := executors(t, s, db, nil)
	ctx := context.Background()

	row, err := raw.Create(ctx, "Item", types.Record{"data": types.Record{"value": 2}})
	require.NoError(t, err)

	_, err = guarded.Update(ctx, "Item", types.Record{
		"where": types.Record{"id": row["id"]},
		"data":  types.Record{"value": 1},
	})
	assert.ErrorIs(t, err, types.ErrPolicyRejected)

	// The transaction rolled back; the row is unchanged.
	rec, err := raw.FindUnique(ctx, "Item", types.Record{"where": types.Record{"id": row["id"]}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec["value"])

	// A compliant update passes.
	updated, err := guarded.Update(ctx, "Item", types.Record{
		"where": types.Record{"id": row["id"]},
		"data":  types.Record{"value": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), updated["value"])
}

func TestCreatePolicy(t *testing.T) {
	s := itemSchema(
		schema.Allow("read", expr.Lit(true)),
		schema.Allow("create", expr.MustParse("value > 0")),
	)
	db := itemDB(t)
	_, guarded := executors(t, s, db, nil)
	ctx := context.Background()

	_, err := guarded.Create(ctx, "Item", types.Record{"data": types.Record{"value": -1}})
	assert.ErrorIs(t, err, types.ErrPolicyRejected)

	rec, err := guarded.Create(ctx, "Item", types.Record{"data": types.Record{"value": 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec["value"])
}

func TestPolicyMonotonicity(t *testing.T) {
	db := itemDB(t)
	ctx := context.Background()

	narrow := itemSchema(schema.Allow("read", expr.MustParse("value > 1")))
	wide := itemSchema(
		schema.Allow("read", expr.MustParse("value > 1")),
		schema.Allow("read", expr.MustParse("value > 0")),
	)

	raw, narrowExec := executors(t, narrow, db, nil)
	for _, v := range []int{0, 1, 2} {
		_, err := raw.Create(ctx, "Item", types.Record{"data": types.Record{"value": v}})
		require.NoError(t, err)
	}
	_, wideExec := executors(t, wide, db, nil)

	narrowRows, err := narrowExec.FindMany(ctx, "Item", types.Record{})
	require.NoError(t, err)
	wideRows, err := wideExec.FindMany(ctx, "Item", types.Record{})
	require.NoError(t, err)

	// Adding allows can only grow the visible set.
	assert.Subset(t, idsOf(wideRows), idsOf(narrowRows))
	assert.Greater(t, len(wideRows), len(narrowRows))
}

func idsOf(list types.List) []interface{} {
	out := make([]interface{}, 0, len(list))
	for _, rec := range list {
		out = append(out, rec["id"])
	}
	return out
}
