// Package rbac stores role definitions and role assignments.
package rbac

import (
	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
)

// RolePermission is one permission entry declared by a role.
type RolePermission struct {
	Resource  string `json:"resource" validate:"required,max=64"`
	Action    string `json:"action" validate:"required,max=64"`
	IsGranted bool   `json:"isGranted"`
	Fields    string `json:"fields,omitempty"`
	Scope     string `json:"scope,omitempty" validate:"omitempty,oneof=global company own"`
	Condition string `json:"condition,omitempty" validate:"max=1024"`
}

func (p RolePermission) entry() authz.PermissionEntry {
	return authz.PermissionEntry{
		Resource:  p.Resource,
		Action:    p.Action,
		IsGranted: p.IsGranted,
		Fields:    p.Fields,
		Scope:     p.Scope,
		Condition: p.Condition,
	}
}

// Entries converts role permissions into resolver entries.
func Entries(perms []RolePermission) []authz.PermissionEntry {
	out := make([]authz.PermissionEntry, len(perms))
	for i, p := range perms {
		out[i] = p.entry()
	}
	return out
}
