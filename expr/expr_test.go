package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "comparison",
			src:  "value > 1",
			want: "(value > 1)",
		},
		{
			name: "auth member",
			src:  "auth().id == ownerId",
			want: "(auth().id == ownerId)",
		},
		{
			name: "precedence or over and",
			src:  "a == 1 && b == 2 || c == 3",
			want: "(((a == 1) && (b == 2)) || (c == 3))",
		},
		{
			name: "collection some",
			src:  "posts?[published == true]",
			want: "posts?[(published == true)]",
		},
		{
			name: "collection none with auth",
			src:  "members^[user.id == auth().id]",
			want: "members^[(user.id == auth().id)]",
		},
		{
			name: "in array",
			src:  `role in ["ADMIN", "EDITOR"]`,
			want: `(role in ["ADMIN", "EDITOR"])`,
		},
		{
			name: "negation",
			src:  "!locked",
			want: "!locked",
		},
		{
			name: "null comparison",
			src:  "deletedAt == null",
			want: "(deletedAt == null)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.String())
		})
	}
}

func TestParseError(t *testing.T) {
	_, err := Parse("value >")
	assert.Error(t, err)
}

func TestFold(t *testing.T) {
	tests := []struct {
		name string
		in   Expr
		want string
	}{
		{
			name: "and with false collapses",
			in:   And(Lit(false), Ref("x")),
			want: "false",
		},
		{
			name: "and with true drops branch",
			in:   And(Lit(true), Ref("x")),
			want: "x",
		},
		{
			name: "or with true collapses",
			in:   Or(Ref("x"), Lit(true)),
			want: "true",
		},
		{
			name: "literal comparison",
			in:   MustParse("2 > 1"),
			want: "true",
		},
		{
			name: "negated literal",
			in:   Not(Lit(true)),
			want: "false",
		},
		{
			name: "non-constant untouched",
			in:   MustParse("value > 1"),
			want: "(value > 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fold(tt.in).String())
		})
	}
}

func TestEval(t *testing.T) {
	env := Env{
		Row: map[string]interface{}{
			"value":   int64(2),
			"ownerId": "u1",
			"tags": []interface{}{
				map[string]interface{}{"name": "a"},
				map[string]interface{}{"name": "b"},
			},
		},
		Auth: map[string]interface{}{"id": "u1"},
	}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{name: "numeric comparison", src: "value > 1", want: true},
		{name: "auth match", src: "auth().id == ownerId", want: true},
		{name: "some", src: `tags?[name == "a"]`, want: true},
		{name: "every", src: `tags![name == "a"]`, want: false},
		{name: "none", src: `tags^[name == "c"]`, want: true},
		{name: "in", src: `value in [1, 2, 3]`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBool(MustParse(tt.src), env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalNilAuth(t *testing.T) {
	// auth() is NULL when unauthenticated; comparisons against it are false.
	got, err := EvalBool(MustParse("auth().id == ownerId"), Env{
		Row: map[string]interface{}{"ownerId": "u1"},
	})
	require.NoError(t, err)
	assert.False(t, got)
}
