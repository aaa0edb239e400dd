package schema

import (
	"strings"

	"github.com/satishbabariya/aegis/expr"
)

// PolicyKind distinguishes allow rules from deny rules.
type PolicyKind string

// Policy kinds.
const (
	PolicyAllow PolicyKind = "allow"
	PolicyDeny  PolicyKind = "deny"
)

// Operation is a policy-controlled operation.
type Operation string

// Policy operations.
const (
	OpCreate     Operation = "create"
	OpRead       Operation = "read"
	OpUpdate     Operation = "update"
	OpPostUpdate Operation = "post-update"
	OpDelete     Operation = "delete"
	OpAll        Operation = "all"
)

// Policy is an allow or deny rule attached to a model.
type Policy struct {
	Kind       PolicyKind
	Operations []Operation
	Expression expr.Expr
}

// Allow builds an allow policy. ops is a comma-separated operation list,
// e.g. "read" or "create,update".
func Allow(ops string, e expr.Expr) *Policy {
	return &Policy{Kind: PolicyAllow, Operations: parseOps(ops), Expression: e}
}

// Deny builds a deny policy.
func Deny(ops string, e expr.Expr) *Policy {
	return &Policy{Kind: PolicyDeny, Operations: parseOps(ops), Expression: e}
}

func parseOps(ops string) []Operation {
	var out []Operation
	for _, part := range strings.Split(ops, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, Operation(part))
		}
	}
	return out
}

// AppliesTo reports whether the policy governs op. "all" covers every
// operation except post-update, which must be named explicitly.
func (p *Policy) AppliesTo(op Operation) bool {
	for _, o := range p.Operations {
		if o == op {
			return true
		}
		if o == OpAll && op != OpPostUpdate {
			return true
		}
	}
	return false
}

// HasPolicies reports whether any policy governs op on the model.
func (m *Model) HasPolicies(op Operation) bool {
	for _, p := range m.Policies {
		if p.AppliesTo(op) {
			return true
		}
	}
	return false
}

// PoliciesFor returns the allow and deny expressions governing op.
func (m *Model) PoliciesFor(op Operation) (allows, denies []expr.Expr) {
	for _, p := range m.Policies {
		if !p.AppliesTo(op) {
			continue
		}
		if p.Kind == PolicyAllow {
			allows = append(allows, p.Expression)
		} else {
			denies = append(denies, p.Expression)
		}
	}
	return allows, denies
}
