package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for runtime operations.
var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrPolicyRejected is returned when a mutation is rejected by an access policy.
	ErrPolicyRejected = errors.New("rejected by access policy")

	// ErrUniqueConstraint is returned when a unique constraint is violated.
	ErrUniqueConstraint = errors.New("unique constraint violation")

	// ErrForeignKeyConstraint is returned when a foreign key constraint is violated.
	ErrForeignKeyConstraint = errors.New("foreign key constraint violation")

	// ErrNullConstraint is returned when a null constraint is violated.
	ErrNullConstraint = errors.New("null constraint violation")

	// ErrValidation is returned when query arguments are malformed.
	ErrValidation = errors.New("invalid query arguments")

	// ErrUnsupported is returned when a dialect cannot express the requested query.
	ErrUnsupported = errors.New("unsupported by dialect")

	// ErrInternal is returned on invariant violations inside the core.
	ErrInternal = errors.New("internal error")
)

// ValidationError reports malformed query arguments with the path of the
// offending key within the argument tree.
type ValidationError struct {
	Operation string
	Model     string
	Path      []string
	Message   string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	path := strings.Join(e.Path, ".")
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("%s on %s: %s at %s", e.Operation, e.Model, e.Message, path)
}

// Is checks if the error is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError is returned by the *OrThrow variants and by update/delete
// when no target row matches after policy filtering.
type NotFoundError struct {
	Model string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string { return fmt.Sprintf("no %s found", e.Model) }

// Is checks if the error is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PolicyError is returned when a write is rejected by an access policy.
// Reads never surface PolicyError; filtered rows are simply absent so that
// existence does not leak.
type PolicyError struct {
	Model     string
	Operation string
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s on %s rejected by access policy", e.Operation, e.Model)
}

// Is checks if the error is ErrPolicyRejected.
func (e *PolicyError) Is(target error) bool { return target == ErrPolicyRejected }

// ConstraintKind classifies database constraint violations.
type ConstraintKind string

// Constraint kinds reported by ConstraintError.
const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintNotNull    ConstraintKind = "not_null"
)

// ConstraintError wraps a database-reported constraint violation with the
// offending model and fields where detectable.
type ConstraintError struct {
	Kind   ConstraintKind
	Model  string
	Fields []string
	Cause  error
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s constraint failed on %s (%s): %v", e.Kind, e.Model, strings.Join(e.Fields, ", "), e.Cause)
	}
	return fmt.Sprintf("%s constraint failed on %s: %v", e.Kind, e.Model, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error { return e.Cause }

// Is checks if the error matches the sentinel for its kind.
func (e *ConstraintError) Is(target error) bool {
	switch e.Kind {
	case ConstraintUnique:
		return target == ErrUniqueConstraint
	case ConstraintForeignKey:
		return target == ErrForeignKeyConstraint
	case ConstraintNotNull:
		return target == ErrNullConstraint
	}
	return false
}

// InternalError reports an invariant violation in the core. It is never
// expected to be handled by callers.
type InternalError struct {
	Message string
}

// Error implements the error interface.
func (e *InternalError) Error() string { return "internal: " + e.Message }

// Is checks if the error is ErrInternal.
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// Internalf creates an InternalError with a formatted message.
func Internalf(format string, args ...interface{}) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedError is returned when a dialect cannot express the requested
// query (e.g. DISTINCT ON on SQLite).
type UnsupportedError struct {
	Dialect string
	Feature string
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Dialect, e.Feature)
}

// Is checks if the error is ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// DriverError wraps any other database error verbatim, with the compiled SQL
// attached for diagnostics.
type DriverError struct {
	Cause error
	SQL   string
	Args  []interface{}
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("driver error: %v (sql: %s)", e.Cause, e.SQL)
	}
	return fmt.Sprintf("driver error: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *DriverError) Unwrap() error { return e.Cause }

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPolicyRejected checks if an error is a policy rejection.
func IsPolicyRejected(err error) bool { return errors.Is(err, ErrPolicyRejected) }

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUniqueConstraint checks if an error is a unique constraint violation.
func IsUniqueConstraint(err error) bool { return errors.Is(err, ErrUniqueConstraint) }
