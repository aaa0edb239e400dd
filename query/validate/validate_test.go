package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/runtime/types"
	"github.com/satishbabariya/aegis/schema"
)

func testValidator(t *testing.T) *Validator {
	t.Helper()
	s, err := schema.New(schema.SQLite,
		&schema.Model{
			Name: "User",
			Fields: []*schema.Field{
				{Name: "id", Type: schema.TypeInt, ID: true, Generator: schema.GenAutoincrement},
				{Name: "email", Type: schema.TypeString, Unique: true},
				{Name: "age", Type: schema.TypeInt, Optional: true},
				{Name: "role", Type: "Role"},
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
	require.NoError(t, err)
	s.WithEnums(map[string][]string{"Role": {"ADMIN", "MEMBER"}})
	return New(s)
}

func TestRejectsUnknownKeys(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpFindMany, types.Record{"bogus": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Contains(t, err.Error(), "bogus")

	err = v.Validate("User", OpFindMany, types.Record{
		"where": types.Record{"unknownField": 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "where.unknownField")
}

func TestSelectIncludeExclusive(t *testing.T) {
	v := testValidator(t)
	err := v.Validate("User", OpFindMany, types.Record{
		"select":  types.Record{"id": true},
		"include": types.Record{"posts": true},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	err = v.Validate("User", OpFindMany, types.Record{
		"select": types.Record{"id": true},
		"omit":   types.Record{"email": true},
	})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestFindUniqueRequiresUniqueSet(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpFindUnique, types.Record{
		"where": types.Record{"age": 30},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.NoError(t, v.Validate("User", OpFindUnique, types.Record{
		"where": types.Record{"email": "a@b.c"},
	}))
	assert.NoError(t, v.Validate("User", OpFindUnique, types.Record{
		"where": types.Record{"id": 1},
	}))
}

func TestScalarTypeChecks(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpCreate, types.Record{
		"data": types.Record{"email": 42},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	err = v.Validate("User", OpCreate, types.Record{
		"data": types.Record{"email": "ok", "role": "OWNER"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Role")

	assert.NoError(t, v.Validate("User", OpCreate, types.Record{
		"data": types.Record{"email": "ok", "role": "ADMIN"},
	}))
}

func TestAtomicUpdaterExclusivity(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpUpdate, types.Record{
		"where": types.Record{"id": 1},
		"data": types.Record{
			"age": types.Record{"increment": 1, "decrement": 2},
		},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.NoError(t, v.Validate("User", OpUpdate, types.Record{
		"where": types.Record{"id": 1},
		"data":  types.Record{"age": types.Record{"increment": 1}},
	}))

	// Operator objects are rejected on non-numeric fields.
	err = v.Validate("User", OpUpdate, types.Record{
		"where": types.Record{"id": 1},
		"data":  types.Record{"email": types.Record{"increment": 1}},
	})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestOrderByRules(t *testing.T) {
	v := testValidator(t)

	assert.NoError(t, v.Validate("User", OpFindMany, types.Record{
		"orderBy": types.Record{"email": "desc"},
	}))
	assert.NoError(t, v.Validate("User", OpFindMany, types.Record{
		"orderBy": types.Record{"age": types.Record{"sort": "asc", "nulls": "last"}},
	}))
	assert.NoError(t, v.Validate("User", OpFindMany, types.Record{
		"orderBy": types.Record{"posts": types.Record{"_count": "desc"}},
	}))

	// nulls placement needs an optional field.
	err := v.Validate("User", OpFindMany, types.Record{
		"orderBy": types.Record{"email": types.Record{"sort": "asc", "nulls": "last"}},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	// to-many ordering accepts only _count.
	err = v.Validate("User", OpFindMany, types.Record{
		"orderBy": types.Record{"posts": types.Record{"title": "asc"}},
	})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestNestedWriteExcludesOppositeFK(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpCreate, types.Record{
		"data": types.Record{
			"email": "x",
			"posts": types.Record{
				"create": types.Record{"title": "p", "authorId": 3},
			},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorId")

	assert.NoError(t, v.Validate("User", OpCreate, types.Record{
		"data": types.Record{
			"email": "x",
			"posts": types.Record{
				"create": types.Record{"title": "p"},
			},
		},
	}))
}

func TestRelationWriteOps(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpUpdate, types.Record{
		"where": types.Record{"id": 1},
		"data": types.Record{
			"posts": types.Record{"detach": types.Record{"id": 2}},
		},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.NoError(t, v.Validate("User", OpUpdate, types.Record{
		"where": types.Record{"id": 1},
		"data": types.Record{
			"posts": types.Record{
				"connect":    types.Record{"id": 2},
				"disconnect": []interface{}{types.Record{"id": 3}},
			},
		},
	}))
}

func TestGroupByRules(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpGroupBy, types.Record{})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.NoError(t, v.Validate("User", OpGroupBy, types.Record{
		"by":     "role",
		"_count": true,
	}))

	// Ordering by a field outside by is rejected.
	err = v.Validate("User", OpGroupBy, types.Record{
		"by":      "role",
		"orderBy": types.Record{"email": "asc"},
	})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestCursorAndTake(t *testing.T) {
	v := testValidator(t)

	err := v.Validate("User", OpFindMany, types.Record{"take": "five"})
	assert.ErrorIs(t, err, types.ErrValidation)

	err = v.Validate("User", OpFindMany, types.Record{
		"cursor": types.Record{"age": 1},
	})
	assert.ErrorIs(t, err, types.ErrValidation)

	assert.NoError(t, v.Validate("User", OpFindMany, types.Record{
		"cursor":  types.Record{"id": 5},
		"orderBy": types.Record{"id": "asc"},
	}))
}
