package authz

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Wildcard matches any resource or action.
const Wildcard = "*"

// Common actions.
const (
	ActionRead        = "read"
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionErase       = "erase"
	ActionRestore     = "restore"
	ActionReadDeleted = "read_deleted"
)

// fold case-folds s. A Caser is stateful, so one is built per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Permission is a validated (resource, action) pair. Raw "resource:action"
// strings only enter the system through ParsePermission and NewPermission.
type Permission struct {
	Resource string
	Action   string
}

// NewPermission validates and normalises a resource and an action.
func NewPermission(resource, action string) (Permission, error) {
	res, err := normalizeSegment(resource)
	if err != nil {
		return Permission{}, fmt.Errorf("authz: resource: %w", err)
	}
	act, err := normalizeSegment(action)
	if err != nil {
		return Permission{}, fmt.Errorf("authz: action: %w", err)
	}
	return Permission{Resource: res, Action: act}, nil
}

// MustPermission is NewPermission for static declarations.
func MustPermission(resource, action string) Permission {
	p, err := NewPermission(resource, action)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePermission parses the "resource:action" form.
func ParsePermission(raw string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Permission{}, fmt.Errorf("authz: permission %q is not resource:action", raw)
	}
	return NewPermission(resource, action)
}

func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Specificity ranks how narrowly the permission names a pair: exact pairs
// rank highest, *:* lowest.
func (p Permission) Specificity() int {
	switch {
	case p.Resource != Wildcard && p.Action != Wildcard:
		return 3
	case p.Resource != Wildcard:
		return 2
	case p.Action != Wildcard:
		return 1
	}
	return 0
}

// Covers reports whether p applies to target, honouring wildcards.
func (p Permission) Covers(target Permission) bool {
	return (p.Resource == Wildcard || p.Resource == target.Resource) &&
		(p.Action == Wildcard || p.Action == target.Action)
}

func normalizeSegment(s string) (string, error) {
	s = fold(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("empty segment")
	}
	if s == Wildcard {
		return s, nil
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return "", fmt.Errorf("invalid character %q in %q", r, s)
		}
	}
	return s, nil
}
