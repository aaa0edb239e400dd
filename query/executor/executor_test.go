package executor

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/expr"
	"github.com/satishbabariya/aegis/query/dialect"
	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

func blogSchema() *schema.Schema {
	return schema.MustNew(schema.SQLite,
		&schema.Model{
			Name: "User",
			Fields: []*schema.Field{
				{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
				{Name: "email", Type: schema.TypeString, Unique: true},
				{Name: "name", Type: schema.TypeString, Optional: true},
				{Name: "createdAt", Type: schema.TypeDateTime, Default: expr.Now()},
				{Name: "updatedAt", Type: schema.TypeDateTime, UpdatedAt: true},
				{Name: "posts", Type: "Post", Array: true},
			},
		},
		&schema.Model{
			Name: "Post",
			Fields: []*schema.Field{
				{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
				{Name: "title", Type: schema.TypeString},
				{Name: "published", Type: schema.TypeBoolean, Default: expr.Lit(false)},
				{Name: "views", Type: schema.TypeInt, Default: expr.Lit(int64(0))},
				{Name: "author", Type: "User", Optional: true,
					Relation: &schema.Relation{Fields: []string{"authorId"}, References: []string{"id"}}},
				{Name: "authorId", Type: schema.TypeInt, Optional: true},
			},
		},
	)
}

func testExecutor(t *testing.T) *Executor {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ddl := []string{
		`CREATE TABLE "User" (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			name TEXT,
			createdAt TIMESTAMP NOT NULL,
			updatedAt TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE "Post" (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			published INTEGER NOT NULL DEFAULT 0,
			views INTEGER NOT NULL DEFAULT 0,
			authorId INTEGER
		)`,
	}
	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return New(blogSchema(), dialect.NewSQLite(), db)
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func TestCreateWithNestedInclude(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	rec, err := e.Create(ctx, "User", types.Record{
		"data": types.Record{
			"email": "a",
			"posts": types.Record{
				"create": []interface{}{
					types.Record{"title": "p1"},
					types.Record{"title": "p2"},
				},
			},
		},
		"include": types.Record{"posts": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "a", rec["email"])

	posts, ok := rec["posts"].(types.List)
	require.True(t, ok)
	require.Len(t, posts, 2)
	assert.Equal(t, "p1", posts[0]["title"])
	assert.Equal(t, "p2", posts[1]["title"])
	for _, p := range posts {
		assert.Equal(t, rec["id"], p["authorId"])
	}
}

func TestFindUniqueAbsent(t *testing.T) {
	e := testExecutor(t)
	rec, err := e.FindUnique(ctxT(t), "User", types.Record{"where": types.Record{"id": 99}})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCreateThenFindUniqueRoundTrip(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	created, err := e.Create(ctx, "User", types.Record{
		"data": types.Record{"email": "round@trip", "name": "Ann"},
	})
	require.NoError(t, err)

	found, err := e.FindUnique(ctx, "User", types.Record{"where": types.Record{"id": created["id"]}})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "round@trip", found["email"])
	assert.Equal(t, "Ann", found["name"])
	assert.IsType(t, time.Time{}, found["createdAt"])
}

func seedUsers(t *testing.T, e *Executor, emails ...string) {
	t.Helper()
	for _, email := range emails {
		_, err := e.Create(ctxT(t), "User", types.Record{"data": types.Record{"email": email}})
		require.NoError(t, err)
	}
}

func TestCursorPagination(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	seedUsers(t, e, "u1", "u2", "u3")

	list, err := e.FindMany(ctx, "User", types.Record{
		"cursor":  types.Record{"id": 2},
		"orderBy": types.Record{"id": "asc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2), int64(3)}, ids(list))

	list, err = e.FindMany(ctx, "User", types.Record{
		"skip":    1,
		"cursor":  types.Record{"id": 1},
		"orderBy": types.Record{"id": "asc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2), int64(3)}, ids(list))
}

func TestNegativeTake(t *testing.T) {
	e := testExecutor(t)
	seedUsers(t, e, "u1", "u2", "u3")

	list, err := e.FindMany(ctxT(t), "User", types.Record{"take": -2})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(3), int64(2)}, ids(list))
}

func TestTakeSkipBounds(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	seedUsers(t, e, "u1", "u2", "u3", "u4")

	list, err := e.FindMany(ctx, "User", types.Record{"take": 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(list), 2)

	all, err := e.FindMany(ctx, "User", types.Record{})
	require.NoError(t, err)
	skipped, err := e.FindMany(ctx, "User", types.Record{"skip": 2})
	require.NoError(t, err)
	assert.Equal(t, ids(all)[2:], ids(skipped))
}

func TestToManyFilters(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	u1, err := e.Create(ctx, "User", types.Record{
		"data": types.Record{
			"email": "u1",
			"posts": types.Record{"create": []interface{}{
				types.Record{"title": "p1"},
				types.Record{"title": "p2"},
			}},
		},
	})
	require.NoError(t, err)
	u2, err := e.Create(ctx, "User", types.Record{"data": types.Record{"email": "u2"}})
	require.NoError(t, err)

	got, err := e.FindFirst(ctx, "User", types.Record{
		"where": types.Record{
			"posts": types.Record{"every": types.Record{"authorId": u1["id"]}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u1["id"], got["id"])

	got, err = e.FindFirst(ctx, "User", types.Record{
		"where": types.Record{
			"posts": types.Record{"none": types.Record{"title": "p1"}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u2["id"], got["id"])

	got, err = e.FindFirst(ctx, "User", types.Record{
		"where": types.Record{
			"posts": types.Record{"some": types.Record{"title": "p2"}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u1["id"], got["id"])
}

func TestCountMatchesFindMany(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	seedUsers(t, e, "a@x.com", "b@x.com", "c@y.com")

	where := types.Record{"email": types.Record{"endsWith": "@x.com"}}
	list, err := e.FindMany(ctx, "User", types.Record{"where": where})
	require.NoError(t, err)
	count, err := e.CountAll(ctx, "User", types.Record{"where": where})
	require.NoError(t, err)
	assert.Equal(t, int64(len(list)), count)
	assert.Equal(t, int64(2), count)
}

func TestEmptyInFilters(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	seedUsers(t, e, "u1", "u2")

	list, err := e.FindMany(ctx, "User", types.Record{
		"where": types.Record{"id": types.Record{"in": []interface{}{}}},
	})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = e.FindMany(ctx, "User", types.Record{
		"where": types.Record{"id": types.Record{"notIn": []interface{}{}}},
	})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestUpdateSemantics(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	created, err := e.Create(ctx, "User", types.Record{
		"data": types.Record{"email": "before", "name": "keep"},
	})
	require.NoError(t, err)
	firstStamp := created["updatedAt"].(time.Time)

	time.Sleep(10 * time.Millisecond)
	updated, err := e.Update(ctx, "User", types.Record{
		"where": types.Record{"id": created["id"]},
		"data":  types.Record{"email": "after"},
	})
	require.NoError(t, err)

	// Only the named fields change; @updatedAt advances; the id stays.
	assert.Equal(t, "after", updated["email"])
	assert.Equal(t, "keep", updated["name"])
	assert.Equal(t, created["id"], updated["id"])
	assert.True(t, updated["updatedAt"].(time.Time).After(firstStamp))
}

func TestUpdateMissingRow(t *testing.T) {
	e := testExecutor(t)
	_, err := e.Update(ctxT(t), "User", types.Record{
		"where": types.Record{"id": 404},
		"data":  types.Record{"email": "x"},
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAtomicUpdaters(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	post, err := e.Create(ctx, "Post", types.Record{
		"data": types.Record{"title": "p", "views": 10},
	})
	require.NoError(t, err)

	updated, err := e.Update(ctx, "Post", types.Record{
		"where": types.Record{"id": post["id"]},
		"data":  types.Record{"views": types.Record{"increment": 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), updated["views"])

	updated, err = e.Update(ctx, "Post", types.Record{
		"where": types.Record{"id": post["id"]},
		"data":  types.Record{"views": types.Record{"multiply": 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), updated["views"])
}

func TestUpsert(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	rec, err := e.Upsert(ctx, "User", types.Record{
		"where":  types.Record{"email": "up"},
		"create": types.Record{"email": "up", "name": "created"},
		"update": types.Record{"name": "updated"},
	})
	require.NoError(t, err)
	assert.Equal(t, "created", rec["name"])

	rec, err = e.Upsert(ctx, "User", types.Record{
		"where":  types.Record{"email": "up"},
		"create": types.Record{"email": "up", "name": "created"},
		"update": types.Record{"name": "updated"},
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", rec["name"])

	count, err := e.CountAll(ctx, "User", types.Record{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDelete(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	seedUsers(t, e, "gone")

	rec, err := e.Delete(ctx, "User", types.Record{"where": types.Record{"email": "gone"}})
	require.NoError(t, err)
	assert.Equal(t, "gone", rec["email"])

	_, err = e.Delete(ctx, "User", types.Record{"where": types.Record{"email": "gone"}})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCreateManyAndSkipDuplicates(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	count, err := e.CreateMany(ctx, "User", types.Record{
		"data": []interface{}{
			types.Record{"email": "m1"},
			types.Record{"email": "m2"},
			types.Record{"email": "m3"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Input order is preserved in the generated insert.
	list, err := e.FindMany(ctx, "User", types.Record{})
	require.NoError(t, err)
	assert.Equal(t, "m1", list[0]["email"])
	assert.Equal(t, "m3", list[2]["email"])

	count, err = e.CreateMany(ctx, "User", types.Record{
		"data": []interface{}{
			types.Record{"email": "m3"},
			types.Record{"email": "m4"},
		},
		"skipDuplicates": true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUpdateManyWithLimit(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	for _, title := range []string{"a", "b", "c"} {
		_, err := e.Create(ctx, "Post", types.Record{"data": types.Record{"title": title}})
		require.NoError(t, err)
	}

	count, err := e.UpdateMany(ctx, "Post", types.Record{
		"where": types.Record{},
		"data":  types.Record{"published": true},
		"limit": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	published, err := e.CountAll(ctx, "Post", types.Record{
		"where": types.Record{"published": true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), published)
}

func TestDeleteMany(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	seedUsers(t, e, "d1", "d2", "keep")

	count, err := e.DeleteMany(ctx, "User", types.Record{
		"where": types.Record{"email": types.Record{"startsWith": "d"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	rest, err := e.FindMany(ctx, "User", types.Record{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "keep", rest[0]["email"])
}

func TestConnectDisconnectSetIdempotence(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	u, err := e.Create(ctx, "User", types.Record{"data": types.Record{"email": "owner"}})
	require.NoError(t, err)
	p1, err := e.Create(ctx, "Post", types.Record{"data": types.Record{"title": "p1"}})
	require.NoError(t, err)
	p2, err := e.Create(ctx, "Post", types.Record{"data": types.Record{"title": "p2"}})
	require.NoError(t, err)

	connected := func() []interface{} {
		list, err := e.FindMany(ctx, "Post", types.Record{
			"where": types.Record{"authorId": u["id"]},
		})
		require.NoError(t, err)
		return ids(list)
	}

	_, err = e.Update(ctx, "User", types.Record{
		"where": types.Record{"id": u["id"]},
		"data": types.Record{
			"posts": types.Record{"connect": []interface{}{
				types.Record{"id": p1["id"]},
				types.Record{"id": p2["id"]},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{p1["id"], p2["id"]}, connected())

	// Connecting an already-connected row is a no-op.
	_, err = e.Update(ctx, "User", types.Record{
		"where": types.Record{"id": u["id"]},
		"data": types.Record{
			"posts": types.Record{"connect": types.Record{"id": p1["id"]}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{p1["id"], p2["id"]}, connected())

	// set with the current membership leaves the relation unchanged.
	_, err = e.Update(ctx, "User", types.Record{
		"where": types.Record{"id": u["id"]},
		"data": types.Record{
			"posts": types.Record{"set": []interface{}{
				types.Record{"id": p1["id"]},
				types.Record{"id": p2["id"]},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{p1["id"], p2["id"]}, connected())

	// set shrinks the membership by disconnecting the rest.
	_, err = e.Update(ctx, "User", types.Record{
		"where": types.Record{"id": u["id"]},
		"data": types.Record{
			"posts": types.Record{"set": types.Record{"id": p2["id"]}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{p2["id"]}, connected())

	// Disconnecting an unrelated row is a no-op.
	_, err = e.Update(ctx, "User", types.Record{
		"where": types.Record{"id": u["id"]},
		"data": types.Record{
			"posts": types.Record{"disconnect": types.Record{"id": p1["id"]}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{p2["id"]}, connected())
}

func TestAggregate(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	for i, views := range []int{10, 20, 30} {
		_, err := e.Create(ctx, "Post", types.Record{
			"data": types.Record{"title": string(rune('a' + i)), "views": views},
		})
		require.NoError(t, err)
	}

	agg, err := e.Aggregate(ctx, "Post", types.Record{
		"_count": true,
		"_avg":   types.Record{"views": true},
		"_max":   types.Record{"views": true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), agg["_count"])
	assert.Equal(t, float64(20), agg["_avg"].(types.Record)["views"])
	assert.Equal(t, int64(30), agg["_max"].(types.Record)["views"])
}

func TestGroupBy(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)
	for _, p := range []struct {
		title     string
		published bool
	}{{"a", true}, {"b", true}, {"c", false}} {
		_, err := e.Create(ctx, "Post", types.Record{
			"data": types.Record{"title": p.title, "published": p.published},
		})
		require.NoError(t, err)
	}

	groups, err := e.GroupBy(ctx, "Post", types.Record{
		"by":     "published",
		"_count": true,
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, false, groups[0]["published"])
	assert.Equal(t, int64(1), groups[0]["_count"])
	assert.Equal(t, true, groups[1]["published"])
	assert.Equal(t, int64(2), groups[1]["_count"])
}

func TestRelationCountSelection(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	_, err := e.Create(ctx, "User", types.Record{
		"data": types.Record{
			"email": "counted",
			"posts": types.Record{"create": []interface{}{
				types.Record{"title": "x"},
				types.Record{"title": "y"},
			}},
		},
	})
	require.NoError(t, err)

	rec, err := e.FindFirst(ctx, "User", types.Record{
		"include": types.Record{"_count": true},
	})
	require.NoError(t, err)
	counts, ok := rec["_count"].(types.Record)
	require.True(t, ok)
	assert.Equal(t, int64(2), counts["posts"])
}

func TestTransactionRollback(t *testing.T) {
	e := testExecutor(t)
	ctx := ctxT(t)

	err := e.Transaction(ctx, func(tx *Executor) error {
		if _, err := tx.Create(ctx, "User", types.Record{"data": types.Record{"email": "inner"}}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	count, err := e.CountAll(ctx, "User", types.Record{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func ids(list types.List) []interface{} {
	out := make([]interface{}, 0, len(list))
	for _, rec := range list {
		out = append(out, rec["id"])
	}
	return out
}
