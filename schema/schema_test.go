package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/aegis/expr"
)

func blogSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New(SQLite,
		&Model{
			Name: "User",
			Fields: []*Field{
				{Name: "id", Type: TypeString, ID: true, Generator: GenCUID},
				{Name: "email", Type: TypeString, Unique: true},
				{Name: "posts", Type: "Post", Array: true},
				{Name: "groups", Type: "Group", Array: true},
			},
		},
		&Model{
			Name: "Post",
			Fields: []*Field{
				{Name: "id", Type: TypeInt, ID: true, Generator: GenAutoincrement},
				{Name: "title", Type: TypeString},
				{Name: "published", Type: TypeBoolean},
				{Name: "author", Type: "User", Optional: true,
					Relation: &Relation{Fields: []string{"authorId"}, References: []string{"id"}}},
				{Name: "authorId", Type: TypeString, Optional: true},
			},
			Policies: []*Policy{
				Allow("read", expr.MustParse("published == true")),
			},
		},
		&Model{
			Name: "Group",
			Fields: []*Field{
				{Name: "id", Type: TypeString, ID: true},
				{Name: "members", Type: "User", Array: true},
			},
		},
	)
	require.NoError(t, err)
	return s
}

func TestResolveRelations(t *testing.T) {
	s := blogSchema(t)

	user, err := s.Model("User")
	require.NoError(t, err)
	post, err := s.Model("Post")
	require.NoError(t, err)

	posts := user.Field("posts")
	require.NotNil(t, posts)
	assert.True(t, posts.IsToMany())
	assert.Equal(t, post, posts.RelatedModel())

	// FK back reference wired during resolve.
	assert.Equal(t, []string{"author"}, post.Field("authorId").ForeignKeyFor)
}

func TestRelationPairs(t *testing.T) {
	s := blogSchema(t)
	user, _ := s.Model("User")
	post, _ := s.Model("Post")

	// Owned side: Post.author carries the FK.
	link, err := s.RelationPairs(post, post.Field("author"))
	require.NoError(t, err)
	assert.True(t, link.OwnedByModel)
	assert.Equal(t, []KeyPair{{FK: "authorId", PK: "id"}}, link.Pairs)

	// Non-owned side: User.posts joins through Post's FK.
	link, err = s.RelationPairs(user, user.Field("posts"))
	require.NoError(t, err)
	assert.False(t, link.OwnedByModel)
	assert.Equal(t, []KeyPair{{FK: "authorId", PK: "id"}}, link.Pairs)
}

func TestImplicitJoinTable(t *testing.T) {
	s := blogSchema(t)
	user, _ := s.Model("User")
	group, _ := s.Model("Group")

	jt, ok := s.ImplicitJoinTable(user, user.Field("groups"))
	require.True(t, ok)
	assert.Equal(t, "_GroupToUser", jt.Table)
	assert.Equal(t, "B", jt.ParentFK)
	assert.Equal(t, "A", jt.OtherFK)

	jt, ok = s.ImplicitJoinTable(group, group.Field("members"))
	require.True(t, ok)
	assert.Equal(t, "_GroupToUser", jt.Table)
	assert.Equal(t, "A", jt.ParentFK)

	// One-to-many relations have no join table.
	_, ok = s.ImplicitJoinTable(user, user.Field("posts"))
	assert.False(t, ok)
}

func TestUniqueSets(t *testing.T) {
	s := blogSchema(t)
	user, _ := s.Model("User")

	sets := user.UniqueSets()
	require.Len(t, sets, 2)
	assert.Equal(t, []string{"id"}, sets[0].Fields)
	assert.Equal(t, []string{"email"}, sets[1].Fields)
}

func TestDelegates(t *testing.T) {
	s, err := New(Postgres,
		&Model{
			Name:       "Content",
			IsDelegate: true,
			Fields: []*Field{
				{Name: "id", Type: TypeString, ID: true},
				{Name: "contentType", Type: TypeString},
			},
		},
		&Model{
			Name:      "Video",
			BaseModel: "Content",
			Fields: []*Field{
				{Name: "id", Type: TypeString, ID: true},
				{Name: "duration", Type: TypeInt},
			},
		},
		&Model{
			Name:      "Image",
			BaseModel: "Content",
			Fields: []*Field{
				{Name: "id", Type: TypeString, ID: true},
				{Name: "format", Type: TypeString},
			},
		},
	)
	require.NoError(t, err)

	content, _ := s.Model("Content")
	video, _ := s.Model("Video")

	descendants := s.DelegateDescendants(content)
	require.Len(t, descendants, 2)

	chain := s.DelegateChain(video)
	require.Len(t, chain, 1)
	assert.Equal(t, "Content", chain[0].Name)
}

func TestInvariants(t *testing.T) {
	// Missing opposite relation.
	_, err := New(SQLite,
		&Model{
			Name: "A",
			Fields: []*Field{
				{Name: "id", Type: TypeInt, ID: true},
				{Name: "bs", Type: "B", Array: true},
			},
		},
		&Model{
			Name: "B",
			Fields: []*Field{
				{Name: "id", Type: TypeInt, ID: true},
			},
		},
	)
	assert.Error(t, err)

	// FK/reference length mismatch.
	_, err = New(SQLite,
		&Model{
			Name: "A",
			Fields: []*Field{
				{Name: "id", Type: TypeInt, ID: true},
				{Name: "b", Type: "B", Relation: &Relation{Fields: []string{"bId"}, References: []string{"id", "extra"}}},
				{Name: "bId", Type: TypeInt},
			},
		},
		&Model{
			Name: "B",
			Fields: []*Field{
				{Name: "id", Type: TypeInt, ID: true},
				{Name: "as_", Type: "A", Array: true},
			},
		},
	)
	assert.Error(t, err)

	// No identity.
	_, err = New(SQLite, &Model{
		Name:   "Bare",
		Fields: []*Field{{Name: "x", Type: TypeString}},
	})
	assert.Error(t, err)
}

func TestPolicies(t *testing.T) {
	s := blogSchema(t)
	post, _ := s.Model("Post")

	assert.True(t, post.HasPolicies(OpRead))
	assert.False(t, post.HasPolicies(OpDelete))

	allows, denies := post.PoliciesFor(OpRead)
	assert.Len(t, allows, 1)
	assert.Empty(t, denies)

	all := Allow("all", expr.Lit(true))
	assert.True(t, all.AppliesTo(OpDelete))
	assert.False(t, all.AppliesTo(OpPostUpdate))
}
