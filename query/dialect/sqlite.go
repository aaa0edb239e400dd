package dialect

import (
	"context"
	"database/sql"
	"fmt"

	goversion "github.com/hashicorp/go-version"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/schema"
)

// returningMinVersion is the first SQLite release with RETURNING support.
var returningMinVersion = goversion.Must(goversion.NewVersion("3.35.0"))

// SQLiteDialect renders SQL for SQLite via mattn/go-sqlite3.
type SQLiteDialect struct {
	returning bool
}

// NewSQLite creates the SQLite dialect. RETURNING is assumed available
// until DetectVersion says otherwise.
func NewSQLite() *SQLiteDialect { return &SQLiteDialect{returning: true} }

// DetectVersion queries sqlite_version() and gates RETURNING support on it.
func (d *SQLiteDialect) DetectVersion(ctx context.Context, db *sql.DB) error {
	var raw string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&raw); err != nil {
		return fmt.Errorf("detect sqlite version: %w", err)
	}
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("parse sqlite version %q: %w", raw, err)
	}
	d.returning = v.GreaterThanOrEqual(returningMinVersion)
	return nil
}

// Name returns the provider tag.
func (d *SQLiteDialect) Name() string { return string(schema.SQLite) }

// DriverName returns the database/sql driver name.
func (d *SQLiteDialect) DriverName() string { return "sqlite3" }

// Render serializes a statement.
func (d *SQLiteDialect) Render(stmt ast.Stmt) (string, []interface{}, error) {
	return render(d, stmt)
}

// QuoteIdent quotes an identifier.
func (d *SQLiteDialect) QuoteIdent(s string) string { return quoteIdent(s) }

// SupportsDistinctOn reports DISTINCT ON support.
func (d *SQLiteDialect) SupportsDistinctOn() bool { return false }

// SupportsUpdateDeleteLimit reports UPDATE/DELETE … LIMIT support.
func (d *SQLiteDialect) SupportsUpdateDeleteLimit() bool { return true }

// SupportsReturning reports RETURNING support for the detected version.
func (d *SQLiteDialect) SupportsReturning() bool { return d.returning }

// SupportsLateralJoin reports LEFT JOIN LATERAL support.
func (d *SQLiteDialect) SupportsLateralJoin() bool { return false }

// SupportsArrays reports array column support.
func (d *SQLiteDialect) SupportsArrays() bool { return false }

// InsensitiveLike lowers both sides; SQLite's LIKE is only ASCII
// case-insensitive by default.
func (d *SQLiteDialect) InsensitiveLike(col, pattern ast.Expr, not bool) ast.Expr {
	var e ast.Expr = &ast.Binary{
		Op: "LIKE",
		L:  &ast.FuncCall{Name: "lower", Args: []ast.Expr{col}},
		R:  &ast.FuncCall{Name: "lower", Args: []ast.Expr{pattern}},
	}
	if not {
		e = ast.Not(e)
	}
	return e
}

// JSONValue re-parses JSON text so it embeds as JSON; json_object and
// json_group_array return text, not a JSON type.
func (d *SQLiteDialect) JSONValue(e ast.Expr) ast.Expr {
	return &ast.FuncCall{Name: "json", Args: []ast.Expr{e}}
}

// FormatArg converts a Go value to what the driver expects. Booleans are
// stored as integers.
func (d *SQLiteDialect) FormatArg(v interface{}) interface{} {
	if out, ok := formatArg(v); ok {
		return out
	}
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

// TransformOutput reverses the storage transforms: integer booleans back to
// bool, textual timestamps back to time.Time.
func (d *SQLiteDialect) TransformOutput(fieldType string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch fieldType {
	case schema.TypeBoolean:
		return toBool(v)
	case schema.TypeInt, schema.TypeBigInt:
		return toInt64(v)
	case schema.TypeFloat:
		return toFloat64(v)
	case schema.TypeDecimal:
		return toDecimal(v)
	case schema.TypeDateTime:
		return toTime(v)
	case schema.TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("cannot read %T as Bytes", v)
	case schema.TypeString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
		return v, nil
	default:
		return v, nil
	}
}

func (d *SQLiteDialect) placeholder(int) string { return "?" }
func (d *SQLiteDialect) boolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
func (d *SQLiteDialect) jsonObjectFn() string { return "json_object" }
func (d *SQLiteDialect) jsonAggFn() string    { return "json_group_array" }

// limitForBareOffset supplies the LIMIT -1 SQLite requires when only an
// OFFSET is present.
func (d *SQLiteDialect) limitForBareOffset() *int { return ast.IntPtr(-1) }
