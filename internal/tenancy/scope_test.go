package tenancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

func lookup(t *testing.T, entity string) policy.EntityPolicy {
	t.Helper()
	reg, err := policy.Default()
	require.NoError(t, err)
	pol, ok := reg.Lookup(entity)
	require.True(t, ok)
	return pol
}

func companyGrant(action string, companies ...string) authz.Grant {
	return authz.Grant{
		Permission: authz.MustPermission("employees", action),
		Allowed:    true,
		Scope:      authz.ScopeCompany,
		Fields:     authz.AllFields(),
		CompanyIDs: companies,
	}
}

func TestApplyScopeCompany(t *testing.T) {
	pol := lookup(t, "employees")
	p := authz.Principal{ID: "u1", TenantID: "t1", CompanyID: "c1"}

	read := &datastore.Operation{Entity: "employees", Kind: datastore.KindRead}
	require.NoError(t, ApplyScope(p, pol, companyGrant("read", "c1"), read))
	assert.Equal(t, datastore.Filter{"companyId": "c1"}, read.Where)

	multi := &datastore.Operation{Entity: "employees", Kind: datastore.KindRead}
	require.NoError(t, ApplyScope(p, pol, companyGrant("read", "c1", "c2"), multi))
	assert.Equal(t, datastore.In("c1", "c2"), multi.Where["companyId"])

	narrowed := &datastore.Operation{Entity: "employees", Kind: datastore.KindRead, Where: datastore.Filter{"companyId": "c9"}}
	require.NoError(t, ApplyScope(p, pol, companyGrant("read", "c1"), narrowed))
	assert.Equal(t, "c9", narrowed.Where["companyId"], "caller condition is kept")
	assert.Equal(t, []datastore.Filter{{"companyId": "c1"}}, narrowed.Where[datastore.KeyAnd])
	ok, err := narrowed.Where.Matches(datastore.Record{"companyId": "c9"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyScopeCompanyWrites(t *testing.T) {
	pol := lookup(t, "employees")
	p := authz.Principal{ID: "u1", TenantID: "t1", CompanyID: "c1"}

	create := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreate, Data: datastore.Record{"firstName": "Eve"}}
	require.NoError(t, ApplyScope(p, pol, companyGrant("create", "c1"), create))
	assert.Equal(t, "c1", create.Data["companyId"])
	assert.Nil(t, create.Where)

	other := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreate, Data: datastore.Record{"companyId": "c2"}}
	require.ErrorIs(t, ApplyScope(p, pol, companyGrant("create", "c1"), other), shared.ErrPermissionDenied)

	ambiguous := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreate, Data: datastore.Record{"firstName": "Eve"}}
	require.ErrorIs(t, ApplyScope(p, pol, companyGrant("create", "c1", "c2"), ambiguous), shared.ErrInvalidOperation)

	move := &datastore.Operation{Entity: "employees", Kind: datastore.KindUpdate, Data: datastore.Record{"companyId": "c2"}}
	require.ErrorIs(t, ApplyScope(p, pol, companyGrant("update", "c1"), move), shared.ErrPermissionDenied)

	update := &datastore.Operation{Entity: "employees", Kind: datastore.KindUpdate, Data: datastore.Record{"firstName": "X"}}
	require.NoError(t, ApplyScope(p, pol, companyGrant("update", "c1"), update))
	assert.Equal(t, "c1", update.Where["companyId"])
}

func TestApplyScopeOwnAndMissingFields(t *testing.T) {
	p := authz.Principal{ID: "u1", TenantID: "t1"}
	own := authz.Grant{Permission: authz.MustPermission("employees", "read"), Allowed: true, Scope: authz.ScopeOwn}

	read := &datastore.Operation{Entity: "employees", Kind: datastore.KindRead}
	require.NoError(t, ApplyScope(p, lookup(t, "employees"), own, read))
	assert.Equal(t, "u1", read.Where["userId"])

	err := ApplyScope(p, lookup(t, "gdpr_records"), own, &datastore.Operation{Entity: "gdpr_records", Kind: datastore.KindRead})
	var denied *shared.Error
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, []string{"employees:read"}, denied.Required)
	assert.Equal(t, []string{"employees:read@own"}, denied.Current)

	company := companyGrant("read")
	require.ErrorIs(t, ApplyScope(p, lookup(t, "employees"), company, &datastore.Operation{Entity: "employees", Kind: datastore.KindRead}), shared.ErrPermissionDenied)
}

func TestApplyScopeGlobalAndBypass(t *testing.T) {
	pol := lookup(t, "employees")
	global := authz.Grant{Permission: authz.MustPermission("employees", "read"), Allowed: true, Scope: authz.ScopeGlobal}

	op := &datastore.Operation{Entity: "employees", Kind: datastore.KindRead}
	require.NoError(t, ApplyScope(authz.Principal{ID: "u1"}, pol, global, op))
	assert.Nil(t, op.Where)

	admin := authz.Principal{ID: "root", GlobalRole: authz.RoleAdmin}
	require.NoError(t, ApplyScope(admin, pol, companyGrant("read"), op))
	assert.Nil(t, op.Where)
}
