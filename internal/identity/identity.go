// Package identity holds the role model and error taxonomy shared by the
// credential, invitation and session packages.
package identity

import (
	"context"
	"fmt"
	"strings"
)

// Role is the kind of principal. Each role has its own table and repository.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleProfessional Role = "professional"
	RolePatient      Role = "patient"
)

// ParseRole maps a wire value onto a Role. Matching ignores case and
// surrounding whitespace.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleProfessional:
		return RoleProfessional, nil
	case RolePatient:
		return RolePatient, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleProfessional || r == RolePatient
}

// ApprovalStatus is a professional's admin-driven lifecycle state.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "Pending"
	StatusApproved ApprovalStatus = "Approved"
	StatusRejected ApprovalStatus = "Rejected"
)

// ParseApprovalStatus accepts the canonical spelling in any case.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: unknown approval status %q", ErrValidation, s)
}

// Principal is an authenticated identity acting through a session.
type Principal struct {
	ID    int64
	Role  Role
	Email string
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
