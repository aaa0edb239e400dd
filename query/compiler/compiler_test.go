package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/query/dialect"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

func testSchema() *schema.Schema {
	return schema.MustNew(schema.Postgres,
		&schema.Model{
			Name: "User",
			Fields: []*schema.Field{
				{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
				{Name: "email", Type: schema.TypeString, Unique: true},
				{Name: "name", Type: schema.TypeString, Optional: true},
				{Name: "posts", Type: "Post", Array: true},
			},
		},
		&schema.Model{
			Name: "Post",
			Fields: []*schema.Field{
				{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
				{Name: "title", Type: schema.TypeString},
				{Name: "author", Type: "User", Optional: true,
					Relation: &schema.Relation{Fields: []string{"authorId"}, References: []string{"id"}}},
				{Name: "authorId", Type: schema.TypeInt, Optional: true},
			},
		},
	)
}

func pgCompiler() *Compiler {
	return New(testSchema(), dialect.NewPostgres())
}

func renderFindMany(t *testing.T, c *Compiler, model string, args types.Record) (string, []interface{}) {
	t.Helper()
	rq, err := c.CompileFindMany(model, args)
	require.NoError(t, err)
	sql, params, err := c.Dialect.Render(rq.Stmt)
	require.NoError(t, err)
	return sql, params
}

func TestEmptyInIsConstantFalse(t *testing.T) {
	c := pgCompiler()
	sql, _ := renderFindMany(t, c, "User", types.Record{
		"where": types.Record{"id": types.Record{"in": []interface{}{}}},
	})
	assert.Contains(t, sql, "WHERE FALSE")

	sql, _ = renderFindMany(t, c, "User", types.Record{
		"where": types.Record{"id": types.Record{"notIn": []interface{}{}}},
	})
	// notIn [] folds to TRUE and disappears from the clause.
	assert.NotContains(t, sql, "WHERE")
}

func TestInsensitiveContains(t *testing.T) {
	c := pgCompiler()
	sql, params := renderFindMany(t, c, "User", types.Record{
		"where": types.Record{"email": types.Record{"contains": "ann", "mode": "insensitive"}},
	})
	assert.Contains(t, sql, "ILIKE")
	assert.Contains(t, params, "%ann%")
}

func TestToManySomeCompilesToCount(t *testing.T) {
	c := pgCompiler()
	sql, _ := renderFindMany(t, c, "User", types.Record{
		"where": types.Record{"posts": types.Record{"some": types.Record{"title": "x"}}},
	})
	assert.Contains(t, sql, `SELECT COUNT(*) FROM "Post" AS`)
	assert.Contains(t, sql, `> $`)
}

func TestToManyEveryNegatesInner(t *testing.T) {
	c := pgCompiler()
	sql, _ := renderFindMany(t, c, "User", types.Record{
		"where": types.Record{"posts": types.Record{"every": types.Record{"title": "x"}}},
	})
	assert.Contains(t, sql, "NOT (")
	assert.Contains(t, sql, "= $")
}

func TestPostgresUsesLateralJSONAggregation(t *testing.T) {
	c := pgCompiler()
	sql, _ := renderFindMany(t, c, "User", types.Record{
		"include": types.Record{"posts": true},
	})
	assert.Contains(t, sql, "LEFT JOIN LATERAL")
	assert.Contains(t, sql, "jsonb_agg(jsonb_build_object(")
}

func TestSQLiteUsesCorrelatedSubquery(t *testing.T) {
	c := New(schemaForSQLite(), dialect.NewSQLite())
	rq, err := c.CompileFindMany("User", types.Record{"include": types.Record{"posts": true}})
	require.NoError(t, err)
	sql, _, err := c.Dialect.Render(rq.Stmt)
	require.NoError(t, err)
	assert.NotContains(t, sql, "LATERAL")
	assert.Contains(t, sql, "json_group_array(json_object(")
}

func schemaForSQLite() *schema.Schema {
	s := testSchema()
	s.Provider = schema.SQLite
	return s
}

func TestCursorPredicate(t *testing.T) {
	c := pgCompiler()
	sql, _ := renderFindMany(t, c, "User", types.Record{
		"cursor":  types.Record{"id": 2},
		"orderBy": types.Record{"id": "asc"},
	})
	assert.Contains(t, sql, ">= (SELECT")
}

func TestNegativeTakeReversesOrder(t *testing.T) {
	c := pgCompiler()
	sql, _ := renderFindMany(t, c, "User", types.Record{"take": -2})
	assert.Contains(t, sql, `ORDER BY "t0"."id" DESC`)
	assert.Contains(t, sql, "LIMIT 2")
}

func TestDistinctOnSQLiteFails(t *testing.T) {
	c := New(schemaForSQLite(), dialect.NewSQLite())
	_, err := c.CompileFindMany("User", types.Record{"distinct": []interface{}{"email"}})
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestExprEscapeHatch(t *testing.T) {
	c := pgCompiler()
	var fn ExprFunc = func(ctx ExprContext) (string, []interface{}) {
		return ctx.Quote(ctx.Alias) + "." + ctx.Quote("email") + " ~ ?", []interface{}{"^a"}
	}
	sql, params := renderFindMany(t, c, "User", types.Record{
		"where": types.Record{"$expr": fn},
	})
	assert.Contains(t, sql, `"t0"."email" ~ $1`)
	assert.Contains(t, params, "^a")
}

func TestOrderByRelationCount(t *testing.T) {
	c := pgCompiler()
	sql, _ := renderFindMany(t, c, "User", types.Record{
		"orderBy": types.Record{"posts": types.Record{"_count": "desc"}},
	})
	assert.Contains(t, sql, "ORDER BY (SELECT COUNT(*)")
	assert.Contains(t, sql, "DESC")
}

func TestAssignmentAtomicUpdaters(t *testing.T) {
	c := pgCompiler()
	m, err := c.Schema.Model("Post")
	require.NoError(t, err)
	f := m.Field("id")

	a, err := c.Assignment(m, f, types.Record{"increment": 5})
	require.NoError(t, err)
	stmt := c.BuildUpdate(m, ast.True(), []ast.Assign{a}, nil, false)
	sql, params, err := c.Dialect.Render(stmt)
	require.NoError(t, err)
	assert.Contains(t, sql, `"id" = ("id" + $1)`)
	assert.Equal(t, []interface{}{5}, params)
}

func TestBuildInsertPreservesRowOrder(t *testing.T) {
	c := pgCompiler()
	m, err := c.Schema.Model("User")
	require.NoError(t, err)

	stmt, err := c.BuildInsert(m, []types.Record{
		{"email": "first"},
		{"email": "second"},
	}, true, false)
	require.NoError(t, err)
	sql, params, err := c.Dialect.Render(stmt)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "User" ("email") VALUES ($1), ($2) RETURNING "id" AS "id"`, sql)
	assert.Equal(t, []interface{}{"first", "second"}, params)
}

func TestCompilePolicyExpression(t *testing.T) {
	c := pgCompiler()
	m, err := c.Schema.Model("Post")
	require.NoError(t, err)

	pred, err := c.CompileExprStandalone(m, "t0", expr.MustParse("auth().id == authorId"), types.Record{"id": 7})
	require.NoError(t, err)
	sel := &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: ast.Col("t0", "id")}},
		From:    &ast.Table{Name: "Post", Alias: "t0"},
		Where:   pred,
	}
	sql, params, err := c.Dialect.Render(sel)
	require.NoError(t, err)
	assert.Contains(t, sql, `($1 = "t0"."authorId")`)
	assert.Equal(t, []interface{}{7}, params)
}

func TestCollectionPredicateExpression(t *testing.T) {
	c := pgCompiler()
	m, err := c.Schema.Model("User")
	require.NoError(t, err)

	pred, err := c.CompileExprStandalone(m, "t0", expr.MustParse(`posts?[title == "x"]`), nil)
	require.NoError(t, err)
	sel := &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: ast.Col("t0", "id")}},
		From:    &ast.Table{Name: "User", Alias: "t0"},
		Where:   pred,
	}
	sql, _, err := c.Dialect.Render(sel)
	require.NoError(t, err)
	assert.Contains(t, sql, "SELECT COUNT(*)")
	assert.Contains(t, sql, `"title" = `)
}
