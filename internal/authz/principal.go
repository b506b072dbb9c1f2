package authz

import (
	"slices"
	"time"
)

// Global roles with administrative bypass.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
)

var privilegedRoles = []string{RoleSuperAdmin, RoleAdmin}

// RoleAssignment is one time-bounded role grant to a principal.
type RoleAssignment struct {
	ID         string
	RoleType   string
	IsActive   bool
	ValidFrom  time.Time
	ValidUntil *time.Time
	CompanyID  string
}

// ActiveAt reports whether the assignment contributes permissions at t.
func (a RoleAssignment) ActiveAt(t time.Time) bool {
	if !a.IsActive {
		return false
	}
	if !a.ValidFrom.IsZero() && t.Before(a.ValidFrom) {
		return false
	}
	if a.ValidUntil != nil && !t.Before(*a.ValidUntil) {
		return false
	}
	return true
}

// Principal is the authenticated actor of one request.
type Principal struct {
	ID              string
	TenantID        string
	CompanyID       string
	GlobalRole      string
	Bypass          bool
	RoleAssignments []RoleAssignment
}

// IsPrivilegedBypass is the single predicate deciding administrative bypass.
// Every stage consults it instead of checking roles on its own.
func IsPrivilegedBypass(p Principal) bool {
	return p.Bypass || slices.Contains(privilegedRoles, p.GlobalRole)
}

// ActiveAssignments returns the assignments active at t.
func (p Principal) ActiveAssignments(t time.Time) []RoleAssignment {
	out := make([]RoleAssignment, 0, len(p.RoleAssignments))
	for _, a := range p.RoleAssignments {
		if a.ActiveAt(t) {
			out = append(out, a)
		}
	}
	return out
}
