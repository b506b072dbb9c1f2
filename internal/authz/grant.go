package authz

import (
	"slices"
	"sort"
	"strings"
)

// Scope is the breadth of data a grant applies to.
type Scope string

const (
	ScopeOwn     Scope = "own"
	ScopeCompany Scope = "company"
	ScopeGlobal  Scope = "global"
)

func (s Scope) rank() int {
	switch s {
	case ScopeGlobal:
		return 3
	case ScopeCompany:
		return 2
	case ScopeOwn:
		return 1
	}
	return 0
}

// ParseScope maps stored scope names, defaulting to global.
func ParseScope(raw string) (Scope, bool) {
	switch Scope(fold(strings.TrimSpace(raw))) {
	case "", ScopeGlobal:
		return ScopeGlobal, true
	case ScopeCompany:
		return ScopeCompany, true
	case ScopeOwn:
		return ScopeOwn, true
	}
	return "", false
}

// FieldSet is either every field or an explicit set.
type FieldSet struct {
	all    bool
	fields map[string]struct{}
}

// AllFields returns the "*" field set.
func AllFields() FieldSet {
	return FieldSet{all: true}
}

// Fields returns an explicit set.
func Fields(names ...string) FieldSet {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return FieldSet{fields: set}
}

// All reports whether every field is allowed.
func (f FieldSet) All() bool { return f.all }

// Allows reports whether name may be exposed.
func (f FieldSet) Allows(name string) bool {
	if f.all {
		return true
	}
	_, ok := f.fields[name]
	return ok
}

// Names lists explicit fields in sorted order, or ["*"].
func (f FieldSet) Names() []string {
	if f.all {
		return []string{Wildcard}
	}
	out := make([]string, 0, len(f.fields))
	for n := range f.fields {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Union merges two field sets.
func (f FieldSet) Union(other FieldSet) FieldSet {
	if f.all || other.all {
		return AllFields()
	}
	set := make(map[string]struct{}, len(f.fields)+len(other.fields))
	for n := range f.fields {
		set[n] = struct{}{}
	}
	for n := range other.fields {
		set[n] = struct{}{}
	}
	return FieldSet{fields: set}
}

// Grant is the resolved outcome for one (resource, action) pair.
type Grant struct {
	Permission
	Allowed bool
	Scope   Scope
	Fields  FieldSet
	// CompanyIDs lists the companies a company-scoped grant covers.
	CompanyIDs []string
}

func (g Grant) merge(other Grant) Grant {
	if !other.Allowed {
		return g
	}
	if !g.Allowed {
		return other
	}
	out := g
	out.Fields = g.Fields.Union(other.Fields)
	if other.Scope.rank() > g.Scope.rank() {
		out.Scope = other.Scope
	}
	out.CompanyIDs = mergeIDs(g.CompanyIDs, other.CompanyIDs)
	return out
}

func mergeIDs(a, b []string) []string {
	out := append(append([]string(nil), a...), b...)
	sort.Strings(out)
	return slices.Compact(out)
}

// roleEntry is an applicable entry of one role after validation.
type roleEntry struct {
	perm    Permission
	granted bool
	scope   Scope
	fields  FieldSet
}

// roleGrants holds the entries contributed by one role assignment.
type roleGrants struct {
	assignment RoleAssignment
	entries    []roleEntry
}

// decide evaluates one role in isolation: the most specific applicable
// entry wins, and at equal specificity a deny beats a grant.
func (rg roleGrants) decide(target Permission, principal Principal) (Grant, bool) {
	best := -1
	var matched []roleEntry
	for _, e := range rg.entries {
		if !e.perm.Covers(target) {
			continue
		}
		spec := e.perm.Specificity()
		switch {
		case spec > best:
			best = spec
			matched = []roleEntry{e}
		case spec == best:
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return Grant{}, false
	}
	out := Grant{Permission: target, Allowed: true}
	first := true
	for _, e := range matched {
		if !e.granted {
			return Grant{Permission: target}, true
		}
		g := Grant{Permission: target, Allowed: true, Scope: e.scope, Fields: e.fields}
		if e.scope == ScopeCompany {
			company := rg.assignment.CompanyID
			if company == "" {
				company = principal.CompanyID
			}
			if company != "" {
				g.CompanyIDs = []string{company}
			}
		}
		if first {
			out = g
			first = false
			continue
		}
		out = out.merge(g)
	}
	return out, true
}

// GrantSet is the effective permission set of one principal for one request.
// It is immutable once built.
type GrantSet struct {
	principal Principal
	universal bool
	roles     []roleGrants
}

// Universal reports whether the set came from the administrative bypass.
func (s *GrantSet) Universal() bool {
	return s != nil && s.universal
}

// Lookup resolves the grant for a pair. Roles are OR-merged: any granting
// role allows, and a deny only counts when no other role grants.
func (s *GrantSet) Lookup(p Permission) Grant {
	if s == nil {
		return Grant{Permission: p}
	}
	if s.universal {
		return Grant{Permission: p, Allowed: true, Scope: ScopeGlobal, Fields: AllFields()}
	}
	result := Grant{Permission: p}
	for _, rg := range s.roles {
		g, ok := rg.decide(p, s.principal)
		if !ok || !g.Allowed {
			continue
		}
		result = result.merge(g)
	}
	return result
}

// Allows is shorthand for Lookup(p).Allowed.
func (s *GrantSet) Allows(p Permission) bool {
	return s.Lookup(p).Allowed
}

// GrantedOn lists the permission names granted on resource, for client
// diagnostics on denial. Only names are exposed.
func (s *GrantSet) GrantedOn(resource string) []string {
	if s == nil {
		return []string{}
	}
	if s.universal {
		return []string{resource + ":" + Wildcard}
	}
	seen := map[string]struct{}{}
	for _, rg := range s.roles {
		for _, e := range rg.entries {
			if e.perm.Resource != resource && e.perm.Resource != Wildcard {
				continue
			}
			target := Permission{Resource: resource, Action: e.perm.Action}
			if s.Lookup(target).Allowed {
				seen[target.String()] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Permissions lists every explicitly declared pair with its resolved grant.
func (s *GrantSet) Permissions() map[Permission]Grant {
	out := map[Permission]Grant{}
	if s == nil {
		return out
	}
	for _, rg := range s.roles {
		for _, e := range rg.entries {
			if _, ok := out[e.perm]; ok {
				continue
			}
			out[e.perm] = s.Lookup(e.perm)
		}
	}
	return out
}
