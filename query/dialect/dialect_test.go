package dialect

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

func selectUsers() *ast.SelectStmt {
	return &ast.SelectStmt{
		Columns: []ast.SelectItem{
			{Expr: ast.Col("t0", "id")},
			{Expr: ast.Col("t0", "email"), Alias: "email"},
		},
		From:  &ast.Table{Name: "User", Alias: "t0", Model: "User"},
		Where: ast.Eq(ast.Col("t0", "email"), ast.Val("a@b.c")),
	}
}

func TestRenderSelectPostgres(t *testing.T) {
	sql, args, err := NewPostgres().Render(selectUsers())
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."id", "t0"."email" AS "email" FROM "User" AS "t0" WHERE ("t0"."email" = $1)`, sql)
	assert.Equal(t, []interface{}{"a@b.c"}, args)
}

func TestRenderSelectSQLite(t *testing.T) {
	sql, args, err := NewSQLite().Render(selectUsers())
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t0"."id", "t0"."email" AS "email" FROM "User" AS "t0" WHERE ("t0"."email" = ?)`, sql)
	assert.Equal(t, []interface{}{"a@b.c"}, args)
}

func TestBareOffset(t *testing.T) {
	stmt := &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: ast.Col("", "id")}},
		From:    &ast.Table{Name: "User"},
		Offset:  ast.IntPtr(5),
	}

	// SQLite needs LIMIT -1 when only OFFSET is present.
	sql, _, err := NewSQLite().Render(stmt)
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT -1 OFFSET 5")

	sql, _, err = NewPostgres().Render(stmt)
	require.NoError(t, err)
	assert.NotContains(t, sql, "LIMIT")
	assert.Contains(t, sql, "OFFSET 5")
}

func TestDistinctOn(t *testing.T) {
	stmt := &ast.SelectStmt{
		Columns:    []ast.SelectItem{{Expr: ast.Col("", "id")}},
		From:       &ast.Table{Name: "User"},
		DistinctOn: []ast.Expr{ast.Col("", "email")},
	}

	sql, _, err := NewPostgres().Render(stmt)
	require.NoError(t, err)
	assert.Contains(t, sql, `DISTINCT ON ("email")`)

	_, _, err = NewSQLite().Render(stmt)
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestUpdateLimit(t *testing.T) {
	stmt := &ast.UpdateStmt{
		Table: &ast.Table{Name: "Post"},
		Set:   []ast.Assign{{Column: "title", Value: ast.Val("x")}},
		Limit: ast.IntPtr(2),
	}

	sql, args, err := NewSQLite().Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "Post" SET "title" = ? LIMIT 2`, sql)
	assert.Equal(t, []interface{}{"x"}, args)

	_, _, err = NewPostgres().Render(stmt)
	assert.Error(t, err)
}

func TestInsert(t *testing.T) {
	stmt := &ast.InsertStmt{
		Table:   &ast.Table{Name: "User"},
		Columns: []string{"id", "active"},
		Rows: [][]ast.Expr{
			{ast.Val("u1"), ast.Val(true)},
			{ast.Val("u2"), ast.Val(false)},
		},
		ConflictDoNothing: true,
		Returning:         []ast.SelectItem{{Expr: ast.Col("", "id")}},
	}

	sql, args, err := NewPostgres().Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "User" ("id", "active") VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING RETURNING "id"`, sql)
	assert.Equal(t, []interface{}{"u1", true, "u2", false}, args)

	// SQLite stores booleans as integers.
	_, args, err = NewSQLite().Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"u1", int64(1), "u2", int64(0)}, args)
}

func TestInsensitiveLike(t *testing.T) {
	col, pat := ast.Col("t0", "name"), ast.Val("%ann%")

	e := NewPostgres().InsensitiveLike(col, pat, false)
	w := &writer{d: NewPostgres()}
	require.NoError(t, w.writeExpr(e))
	assert.Equal(t, `("t0"."name" ILIKE $1)`, w.b.String())

	e = NewSQLite().InsensitiveLike(col, pat, false)
	w = &writer{d: NewSQLite()}
	require.NoError(t, w.writeExpr(e))
	assert.Equal(t, `(lower("t0"."name") LIKE lower(?))`, w.b.String())
}

func TestJSONFunctions(t *testing.T) {
	obj := &ast.JSONObject{Pairs: []ast.JSONPair{
		{Key: "id", Val: ast.Col("t1", "id")},
		{Key: "title", Val: ast.Col("t1", "title")},
	}}
	agg := &ast.JSONAgg{X: obj}

	w := &writer{d: NewPostgres()}
	require.NoError(t, w.writeExpr(agg))
	assert.Equal(t, `jsonb_agg(jsonb_build_object('id', "t1"."id", 'title', "t1"."title"))`, w.b.String())

	w = &writer{d: NewSQLite()}
	require.NoError(t, w.writeExpr(agg))
	assert.Equal(t, `json_group_array(json_object('id', "t1"."id", 'title', "t1"."title"))`, w.b.String())
}

func TestTransformOutput(t *testing.T) {
	sq := NewSQLite()

	v, err := sq.TransformOutput(schema.TypeBoolean, int64(1))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = sq.TransformOutput(schema.TypeDateTime, "2024-06-01T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC), v.(time.Time).UTC())

	pg := NewPostgres()
	v, err = pg.TransformOutput(schema.TypeDecimal, "12.50")
	require.NoError(t, err)
	assert.True(t, v.(decimal.Decimal).Equal(decimal.RequireFromString("12.5")))

	v, err = pg.TransformOutput(schema.TypeBigInt, "9007199254740993")
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), v)
}
