// Package types provides runtime value types shared across the client and
// the query pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateTime represents a timestamp
type DateTime = time.Time

// Json represents a JSON value
type Json = interface{}

// Bytes represents a binary column value
type Bytes = []byte

// BigInt represents a 64-bit integer column value
type BigInt = int64

// Decimal represents an arbitrary-precision decimal number
type Decimal = decimal.Decimal

// NewDecimal creates a decimal from its string representation
func NewDecimal(value string) (Decimal, error) {
	return decimal.NewFromString(value)
}

// Record is an entity as returned by read operations: scalar fields keyed by
// field name, to-one relations as nested Records (or nil), to-many relations
// as []Record.
type Record = map[string]interface{}

// List is a convenience alias for a slice of records.
type List = []Record
