package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// exprLexer defines the token types for the policy expression language.
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_]*`},
	{Name: "Op", Pattern: `&&|\|\||==|!=|<=|>=|[<>?!^.,()\[\]-]`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

// Raw parse tree. The grammar encodes precedence: || < && < comparison <
// prefix unary < postfix (member access, collection predicates).
type rawExpr struct {
	Left *rawAnd   `@@`
	Rest []*rawAnd `( "||" @@ )*`
}

type rawAnd struct {
	Left *rawCmp   `@@`
	Rest []*rawCmp `( "&&" @@ )*`
}

type rawCmp struct {
	Left  *rawUnary `@@`
	Op    string    `[ @( "==" | "!=" | "<=" | ">=" | "<" | ">" | "in" )`
	Right *rawUnary `  @@ ]`
}

type rawUnary struct {
	Op      string      `[ @( "!" | "-" ) ]`
	Postfix *rawPostfix `@@`
}

type rawPostfix struct {
	Primary *rawPrimary `@@`
	Tail    []*rawTail  `@@*`
}

type rawTail struct {
	Member *string  `"." @Ident`
	Coll   *rawColl `| @@`
}

type rawColl struct {
	Op   string   `@( "?" | "!" | "^" )`
	Pred *rawExpr `"[" @@ "]"`
}

type rawPrimary struct {
	Call   *rawCall  `@@`
	Array  *rawArray `| @@`
	Str    *string   `| @String`
	Number *string   `| @Number`
	Paren  *rawExpr  `| "(" @@ ")"`
	Ident  *string   `| @Ident`
}

type rawCall struct {
	Name string     `@Ident`
	Args []*rawExpr `"(" ( @@ ( "," @@ )* )? ")"`
}

type rawArray struct {
	Items []*rawExpr `"[" ( @@ ( "," @@ )* )? "]"`
}

var parser = participle.MustBuild[rawExpr](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.Unquote("String"),
	participle.UseLookahead(10),
)

// Parse parses the textual form of a policy or default-value expression,
// e.g. `value > 1 && auth().id == ownerId` or `posts?[published == true]`.
func Parse(src string) (Expr, error) {
	raw, err := parser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	return convertExpr(raw), nil
}

// MustParse parses an expression, panicking on error. Intended for
// hand-built schemas and tests.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func convertExpr(r *rawExpr) Expr {
	out := convertAnd(r.Left)
	for _, rest := range r.Rest {
		out = &Binary{Op: OpOr, Left: out, Right: convertAnd(rest)}
	}
	return out
}

func convertAnd(r *rawAnd) Expr {
	out := convertCmp(r.Left)
	for _, rest := range r.Rest {
		out = &Binary{Op: OpAnd, Left: out, Right: convertCmp(rest)}
	}
	return out
}

func convertCmp(r *rawCmp) Expr {
	left := convertUnary(r.Left)
	if r.Op == "" {
		return left
	}
	return &Binary{Op: r.Op, Left: left, Right: convertUnary(r.Right)}
}

func convertUnary(r *rawUnary) Expr {
	out := convertPostfix(r.Postfix)
	if r.Op != "" {
		out = &Unary{Op: r.Op, Operand: out}
	}
	return out
}

func convertPostfix(r *rawPostfix) Expr {
	out := convertPrimary(r.Primary)
	for _, t := range r.Tail {
		switch {
		case t.Member != nil:
			out = &Member{Receiver: out, Member: *t.Member}
		case t.Coll != nil:
			out = &Binary{Op: t.Coll.Op, Left: out, Right: convertExpr(t.Coll.Pred)}
		}
	}
	return out
}

func convertPrimary(r *rawPrimary) Expr {
	switch {
	case r.Call != nil:
		args := make([]Expr, len(r.Call.Args))
		for i, a := range r.Call.Args {
			args[i] = convertExpr(a)
		}
		return &Call{Name: r.Call.Name, Args: args}
	case r.Array != nil:
		items := make([]Expr, len(r.Array.Items))
		for i, it := range r.Array.Items {
			items[i] = convertExpr(it)
		}
		return &Array{Items: items}
	case r.Str != nil:
		return Lit(*r.Str)
	case r.Number != nil:
		if strings.Contains(*r.Number, ".") {
			f, _ := strconv.ParseFloat(*r.Number, 64)
			return Lit(f)
		}
		n, _ := strconv.ParseInt(*r.Number, 10, 64)
		return Lit(n)
	case r.Paren != nil:
		return convertExpr(r.Paren)
	case r.Ident != nil:
		switch *r.Ident {
		case "true":
			return Lit(true)
		case "false":
			return Lit(false)
		case "null":
			return &Null{}
		case "this":
			return &This{}
		}
		return Ref(*r.Ident)
	}
	return &Null{}
}
