package dialect

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/satishbabariya/aegis/query/ast"
	"github.com/satishbabariya/aegis/schema"
)

// PostgresDialect renders SQL for PostgreSQL via lib/pq.
type PostgresDialect struct {
	// FixTimezone applies the inverse-timezone correction to date values
	// scanned as UTC midnight by the driver.
	FixTimezone bool
}

// NewPostgres creates the PostgreSQL dialect.
func NewPostgres() *PostgresDialect { return &PostgresDialect{} }

// Name returns the provider tag.
func (d *PostgresDialect) Name() string { return string(schema.Postgres) }

// DriverName returns the database/sql driver name.
func (d *PostgresDialect) DriverName() string { return "postgres" }

// Render serializes a statement.
func (d *PostgresDialect) Render(stmt ast.Stmt) (string, []interface{}, error) {
	return render(d, stmt)
}

// QuoteIdent quotes an identifier.
func (d *PostgresDialect) QuoteIdent(s string) string { return quoteIdent(s) }

// SupportsDistinctOn reports DISTINCT ON support.
func (d *PostgresDialect) SupportsDistinctOn() bool { return true }

// SupportsUpdateDeleteLimit reports UPDATE/DELETE … LIMIT support.
func (d *PostgresDialect) SupportsUpdateDeleteLimit() bool { return false }

// SupportsReturning reports RETURNING support.
func (d *PostgresDialect) SupportsReturning() bool { return true }

// SupportsLateralJoin reports LEFT JOIN LATERAL support.
func (d *PostgresDialect) SupportsLateralJoin() bool { return true }

// SupportsArrays reports array column support.
func (d *PostgresDialect) SupportsArrays() bool { return true }

// InsensitiveLike uses ILIKE.
func (d *PostgresDialect) InsensitiveLike(col, pattern ast.Expr, not bool) ast.Expr {
	var e ast.Expr = &ast.Binary{Op: "ILIKE", L: col, R: pattern}
	if not {
		e = ast.Not(e)
	}
	return e
}

// JSONValue is the identity: jsonb composes natively.
func (d *PostgresDialect) JSONValue(e ast.Expr) ast.Expr { return e }

// FormatArg converts a Go value to what lib/pq expects.
func (d *PostgresDialect) FormatArg(v interface{}) interface{} {
	if out, ok := formatArg(v); ok {
		return out
	}
	return v
}

// TransformOutput converts scanned or JSON-decoded values back to runtime
// values. Decimals arrive as strings, bytea from jsonb as base64, dates at
// UTC midnight when the timezone fix is active.
func (d *PostgresDialect) TransformOutput(fieldType string, v interface{}) (interface{}, error) {
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
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		if d.FixTimezone && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Location() == time.UTC {
			// The driver reads DATE columns as UTC midnight; rebuild the
			// value in the local zone so the calendar day survives.
			y, m, day := t.Date()
			return time.Date(y, m, day, 0, 0, 0, 0, time.Local), nil
		}
		return t, nil
	case schema.TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			// jsonb carries bytea as base64.
			if decoded, err := base64.StdEncoding.DecodeString(b); err == nil {
				return decoded, nil
			}
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

func (d *PostgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (d *PostgresDialect) boolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
func (d *PostgresDialect) jsonObjectFn() string     { return "jsonb_build_object" }
func (d *PostgresDialect) jsonAggFn() string        { return "jsonb_agg" }
func (d *PostgresDialect) limitForBareOffset() *int { return nil }

func toBool(v interface{}) (interface{}, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case string:
		return b == "true" || b == "t" || b == "1", nil
	}
	return nil, fmt.Errorf("cannot read %T as Boolean", v)
}

func toInt64(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return nil, fmt.Errorf("cannot read %T as Int", v)
}

func toFloat64(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return nil, fmt.Errorf("cannot read %T as Float", v)
}

func toDecimal(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case string:
		return decimal.NewFromString(n)
	case []byte:
		return decimal.NewFromString(string(n))
	case float64:
		return decimal.NewFromFloat(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	}
	return nil, fmt.Errorf("cannot read %T as Decimal", v)
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseDateTime(t)
	case []byte:
		return parseDateTime(string(t))
	}
	return time.Time{}, fmt.Errorf("cannot read %T as DateTime", v)
}
