package authz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEntrySource struct {
	mu      sync.Mutex
	entries map[string][]PermissionEntry
	calls   int
}

func (s *stubEntrySource) PermissionEntries(_ context.Context, a RoleAssignment) ([]PermissionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.entries[a.RoleType], nil
}

func (s *stubEntrySource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func assignment(id, role string) RoleAssignment {
	return RoleAssignment{ID: id, RoleType: role, IsActive: true, ValidFrom: fixedNow.Add(-time.Hour)}
}

func newTestResolver(t *testing.T, source EntrySource, warnings *[]string) *Resolver {
	t.Helper()
	conditions, err := NewConditionEvaluator(16, time.Minute)
	require.NoError(t, err)
	return NewResolver(ResolverConfig{
		Source:     source,
		Conditions: conditions,
		Now:        func() time.Time { return fixedNow },
		OnIntegrityWarning: func(reason string) {
			if warnings != nil {
				*warnings = append(*warnings, reason)
			}
		},
	})
}

func TestResolverMergesRolesWithOr(t *testing.T) {
	source := &stubEntrySource{entries: map[string][]PermissionEntry{
		"HR": {
			{Resource: "employees", Action: "read", IsGranted: true, Fields: `["firstName"]`, Scope: "company"},
		},
		"PAYROLL": {
			{Resource: "employees", Action: "read", IsGranted: true, Fields: `["lastName"]`, Scope: "global"},
			{Resource: "employees", Action: "delete", IsGranted: false},
		},
	}}
	resolver := newTestResolver(t, source, nil)
	principal := Principal{ID: "u1", TenantID: "t1", CompanyID: "c1", RoleAssignments: []RoleAssignment{
		assignment("a1", "HR"),
		assignment("a2", "PAYROLL"),
	}}

	set, err := resolver.Resolve(context.Background(), principal)
	require.NoError(t, err)

	read := set.Lookup(MustPermission("employees", "read"))
	require.True(t, read.Allowed)
	assert.Equal(t, ScopeGlobal, read.Scope)
	assert.Equal(t, []string{"firstName", "lastName"}, read.Fields.Names())
	assert.Equal(t, []string{"c1"}, read.CompanyIDs)

	assert.False(t, set.Allows(MustPermission("employees", "delete")))
	assert.False(t, set.Allows(MustPermission("courses", "read")))
	assert.False(t, set.Universal())
}

func TestResolverDenyWithinRole(t *testing.T) {
	source := &stubEntrySource{entries: map[string][]PermissionEntry{
		"MANAGER": {
			{Resource: "employees", Action: "*", IsGranted: true},
			{Resource: "employees", Action: "delete", IsGranted: false},
			{Resource: "courses", Action: "read", IsGranted: true},
			{Resource: "courses", Action: "read", IsGranted: false},
			{Resource: "*", Action: "export", IsGranted: true},
			{Resource: "reports", Action: "*", IsGranted: false},
		},
		"CLEANER": {
			{Resource: "employees", Action: "delete", IsGranted: true},
		},
	}}
	resolver := newTestResolver(t, source, nil)

	manager := Principal{ID: "u1", TenantID: "t1", RoleAssignments: []RoleAssignment{assignment("a1", "MANAGER")}}
	set, err := resolver.Resolve(context.Background(), manager)
	require.NoError(t, err)

	assert.True(t, set.Allows(MustPermission("employees", "update")))
	assert.False(t, set.Allows(MustPermission("employees", "delete")), "exact deny beats wildcard grant")
	assert.False(t, set.Allows(MustPermission("courses", "read")), "deny wins at equal specificity")
	assert.True(t, set.Allows(MustPermission("employees", "export")))
	assert.False(t, set.Allows(MustPermission("reports", "export")), "resource wildcard outranks action wildcard")

	both := manager
	both.ID = "u2"
	both.RoleAssignments = append(both.RoleAssignments, assignment("a2", "CLEANER"))
	set, err = resolver.Resolve(context.Background(), both)
	require.NoError(t, err)
	assert.True(t, set.Allows(MustPermission("employees", "delete")), "another role grants")
}

func TestResolverPrivilegedBypass(t *testing.T) {
	source := &stubEntrySource{}
	resolver := newTestResolver(t, source, nil)

	for _, p := range []Principal{
		{ID: "root", GlobalRole: RoleSuperAdmin},
		{ID: "admin", GlobalRole: RoleAdmin},
		{ID: "system", Bypass: true},
	} {
		set, err := resolver.Resolve(context.Background(), p)
		require.NoError(t, err)
		require.True(t, set.Universal(), p.ID)
		grant := set.Lookup(MustPermission("anything", "erase"))
		assert.True(t, grant.Allowed)
		assert.True(t, grant.Fields.All())
		assert.Equal(t, ScopeGlobal, grant.Scope)
	}
	assert.Zero(t, source.callCount())
	assert.False(t, IsPrivilegedBypass(Principal{GlobalRole: "EMPLOYEE"}))
}

func TestResolverSkipsInactiveAssignments(t *testing.T) {
	source := &stubEntrySource{entries: map[string][]PermissionEntry{
		"HR": {{Resource: "employees", Action: "read", IsGranted: true}},
	}}
	resolver := newTestResolver(t, source, nil)
	expired := fixedNow.Add(-time.Minute)

	principal := Principal{ID: "u1", RoleAssignments: []RoleAssignment{
		{ID: "a1", RoleType: "HR", IsActive: false},
		{ID: "a2", RoleType: "HR", IsActive: true, ValidUntil: &expired},
		{ID: "a3", RoleType: "HR", IsActive: true, ValidFrom: fixedNow.Add(time.Hour)},
	}}
	set, err := resolver.Resolve(context.Background(), principal)
	require.NoError(t, err)
	assert.False(t, set.Allows(MustPermission("employees", "read")))
	assert.Zero(t, source.callCount())
}

func TestResolverConditions(t *testing.T) {
	source := &stubEntrySource{entries: map[string][]PermissionEntry{
		"HR": {
			{Resource: "employees", Action: "read", IsGranted: true, Condition: "assignment.companyId == principal.companyId"},
			{Resource: "employees", Action: "update", IsGranted: true, Condition: "this is not cel"},
			{Resource: "courses", Action: "*", IsGranted: true},
			{Resource: "courses", Action: "delete", IsGranted: false, Condition: "principal.("},
		},
	}}
	var warnings []string
	resolver := newTestResolver(t, source, &warnings)

	matching := Principal{ID: "u1", CompanyID: "c1", RoleAssignments: []RoleAssignment{
		{ID: "a1", RoleType: "HR", IsActive: true, CompanyID: "c1"},
	}}
	set, err := resolver.Resolve(context.Background(), matching)
	require.NoError(t, err)
	assert.True(t, set.Allows(MustPermission("employees", "read")))
	assert.False(t, set.Allows(MustPermission("employees", "update")), "broken condition drops a grant")
	assert.False(t, set.Allows(MustPermission("courses", "delete")), "broken condition keeps a deny")
	assert.True(t, set.Allows(MustPermission("courses", "read")))
	assert.Equal(t, []string{"invalid permission condition", "invalid permission condition"}, warnings)

	other := Principal{ID: "u2", CompanyID: "c2", RoleAssignments: []RoleAssignment{
		{ID: "a2", RoleType: "HR", IsActive: true, CompanyID: "c1"},
	}}
	set, err = resolver.Resolve(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, set.Allows(MustPermission("employees", "read")))
}

func TestResolverIntegrityWarnings(t *testing.T) {
	source := &stubEntrySource{entries: map[string][]PermissionEntry{
		"HR": {
			{Resource: "emp loyees", Action: "read", IsGranted: true},
			{Resource: "employees", Action: "read", IsGranted: true, Scope: "planet"},
			{Resource: "employees", Action: "update", IsGranted: true, Fields: `[1,2]`},
		},
	}}
	var warnings []string
	resolver := newTestResolver(t, source, &warnings)

	set, err := resolver.Resolve(context.Background(), Principal{ID: "u1", RoleAssignments: []RoleAssignment{assignment("a1", "HR")}})
	require.NoError(t, err)

	assert.False(t, set.Allows(MustPermission("employees", "read")))
	update := set.Lookup(MustPermission("employees", "update"))
	require.True(t, update.Allowed)
	assert.False(t, update.Fields.Allows("firstName"), "malformed field list exposes nothing")
	assert.ElementsMatch(t, []string{"invalid permission name", "unknown permission scope", "malformed field list"}, warnings)
}

func TestResolverRequestCache(t *testing.T) {
	source := &stubEntrySource{entries: map[string][]PermissionEntry{
		"HR": {{Resource: "employees", Action: "read", IsGranted: true}},
	}}
	resolver := newTestResolver(t, source, nil)
	principal := Principal{ID: "u1", TenantID: "t1", RoleAssignments: []RoleAssignment{assignment("a1", "HR"), assignment("a2", "HR")}}

	ctx := WithRequestCache(context.Background())
	first, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 2, source.callCount())

	_, err = resolver.Resolve(context.Background(), principal)
	require.NoError(t, err)
	assert.Equal(t, 4, source.callCount(), "no cache without a request scope")

	assert.Equal(t, ctx, WithRequestCache(ctx))
}

func TestGrantedOnListsNames(t *testing.T) {
	source := &stubEntrySource{entries: map[string][]PermissionEntry{
		"HR": {
			{Resource: "employees", Action: "read", IsGranted: true},
			{Resource: "employees", Action: "update", IsGranted: true},
			{Resource: "employees", Action: "delete", IsGranted: false},
			{Resource: "courses", Action: "read", IsGranted: true},
		},
	}}
	resolver := newTestResolver(t, source, nil)
	set, err := resolver.Resolve(context.Background(), Principal{ID: "u1", RoleAssignments: []RoleAssignment{assignment("a1", "HR")}})
	require.NoError(t, err)

	assert.Equal(t, []string{"employees:read", "employees:update"}, set.GrantedOn("employees"))

	var empty *GrantSet
	assert.Empty(t, empty.GrantedOn("employees"))
	assert.False(t, empty.Allows(MustPermission("employees", "read")))
}
