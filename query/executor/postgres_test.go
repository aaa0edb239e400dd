package executor

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/policy"
	"github.com/satishbabariya/aegis/query/dialect"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

// The PostgreSQL path is exercised at the SQL level with sqlmock: the
// emitted statement text, placeholder numbering and bound arguments are
// asserted without a live server.

func pgItemSchema() *schema.Schema {
	return schema.MustNew(schema.Postgres, &schema.Model{
		Name: "Item",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
			{Name: "value", Type: schema.TypeInt},
		},
		Policies: []*schema.Policy{
			schema.Allow("read", expr.MustParse("value > 1")),
		},
	})
}

func TestPostgresFindManyEmitsPolicyPredicate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	e := New(pgItemSchema(), dialect.NewPostgres(), db)
	e = e.WithPolicy(policy.NewTransformer(e.Compiler, nil))

	mock.ExpectQuery(`SELECT "t0"."id" AS "id", "t0"."value" AS "value" FROM "Item" AS "t0" WHERE (("t0"."value" = $1) AND ("t0"."value" > $2)) ORDER BY "t0"."id"`).
		WithArgs(int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "value"}).AddRow(2, 2))

	list, err := e.FindMany(context.Background(), "Item", types.Record{
		"where": types.Record{"value": int64(2)},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertUsesReturning(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	s := schema.MustNew(schema.Postgres, &schema.Model{
		Name: "Item",
		Fields: []*schema.Field{
			{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
			{Name: "value", Type: schema.TypeInt},
		},
	})
	e := New(s, dialect.NewPostgres(), db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "Item" ("value") VALUES ($1) RETURNING "id" AS "id"`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`SELECT "t0"."id" AS "id", "t0"."value" AS "value" FROM "Item" AS "t0" WHERE ("t0"."id" = $1) LIMIT 1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "value"}).AddRow(1, 5))
	mock.ExpectCommit()

	rec, err := e.Create(context.Background(), "Item", types.Record{
		"data": types.Record{"value": 5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec["id"])
	assert.Equal(t, int64(5), rec["value"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
