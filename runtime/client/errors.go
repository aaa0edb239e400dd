package client

import "github.com/satishbabariya/aegis/runtime/types"

// Error values and helpers re-exported for callers that only import the
// client package.
var (
	ErrNotFound             = types.ErrNotFound
	ErrPolicyRejected       = types.ErrPolicyRejected
	ErrUniqueConstraint     = types.ErrUniqueConstraint
	ErrForeignKeyConstraint = types.ErrForeignKeyConstraint
	ErrValidation           = types.ErrValidation
	ErrUnsupported          = types.ErrUnsupported
	ErrInternal             = types.ErrInternal
)

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool { return types.IsNotFound(err) }

// IsPolicyRejected checks if an error is a policy rejection.
func IsPolicyRejected(err error) bool { return types.IsPolicyRejected(err) }

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return types.IsValidation(err) }

// IsUniqueConstraint checks if an error is a unique constraint violation.
func IsUniqueConstraint(err error) bool { return types.IsUniqueConstraint(err) }
