package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore/memstore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

func newEnforcer(t *testing.T) (*Enforcer, *[]string) {
	t.Helper()
	reg, err := policy.Default()
	require.NoError(t, err)
	var violations []string
	return &Enforcer{
		Policies:    reg,
		OnViolation: func(entity string) { violations = append(violations, entity) },
	}, &violations
}

func seededStore(t *testing.T, reg *policy.Registry) *memstore.Store {
	t.Helper()
	store := memstore.New(reg)
	store.Seed("companies",
		datastore.Record{"id": "c1", "tenantId": "t1", "name": "Acme"},
		datastore.Record{"id": "c2", "tenantId": "t2", "name": "Globex"},
	)
	store.Seed("employees",
		datastore.Record{"id": "e1", "tenantId": "t1", "companyId": "c1", "firstName": "Ada"},
		datastore.Record{"id": "e2", "tenantId": "t1", "companyId": "c2", "firstName": "Bob"},
		datastore.Record{"id": "e3", "tenantId": "t2", "companyId": "c2", "firstName": "Cleo"},
		datastore.Record{"id": "e4", "tenantId": "t2", "companyId": "c2", "firstName": "Dan"},
	)
	return store
}

func TestEnforceIsolatesTenants(t *testing.T) {
	enforcer, violations := newEnforcer(t)
	store := seededStore(t, enforcer.Policies)
	ctx := context.Background()

	for _, tenant := range []string{"t1", "t2"} {
		p := authz.Principal{ID: "u-" + tenant, TenantID: tenant}

		ops := []*datastore.Operation{
			{Entity: "employees", Kind: datastore.KindRead},
			{Entity: "employees", Kind: datastore.KindRead, Where: datastore.Filter{"tenantId": "t1"}},
			{Entity: "employees", Kind: datastore.KindRead, Where: datastore.Filter{datastore.KeyOr: []datastore.Filter{{"tenantId": "t1"}, {"tenantId": "t2"}}}},
			{Entity: "employees", Kind: datastore.KindRead, Include: map[string]*datastore.IncludeSpec{"company": {}}},
		}
		for _, op := range ops {
			require.NoError(t, enforcer.Enforce(p, op))
			res, err := store.Dispatch(ctx, op)
			require.NoError(t, err)
			require.Len(t, res.Records, 2)
			for _, row := range res.Records {
				assert.Equal(t, tenant, row["tenantId"])
				if company, ok := row["company"].(datastore.Record); ok {
					assert.Equal(t, tenant, company["tenantId"])
				}
			}
		}

		count := &datastore.Operation{Entity: "employees", Kind: datastore.KindCount}
		require.NoError(t, enforcer.Enforce(p, count))
		res, err := store.Dispatch(ctx, count)
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Count)
	}

	// e2 in t1 points at a t2 company: the include must come back empty.
	include := &datastore.Operation{Entity: "employees", Kind: datastore.KindRead, Where: datastore.Filter{"id": "e2"},
		Include: map[string]*datastore.IncludeSpec{"company": {}}}
	require.NoError(t, enforcer.Enforce(authz.Principal{ID: "u1", TenantID: "t1"}, include))
	res, err := store.Dispatch(ctx, include)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Nil(t, res.Records[0]["company"])

	update := &datastore.Operation{Entity: "employees", Kind: datastore.KindUpdate, Data: datastore.Record{"firstName": "X"}}
	require.NoError(t, enforcer.Enforce(authz.Principal{ID: "u1", TenantID: "t1"}, update))
	res, err = store.Dispatch(ctx, update)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Affected)
	for _, row := range store.Rows("employees") {
		if row["tenantId"] == "t2" {
			assert.NotEqual(t, "X", row["firstName"])
		}
	}

	remove := &datastore.Operation{Entity: "employees", Kind: datastore.KindDelete, Where: datastore.Filter{"id": "e3"}}
	require.NoError(t, enforcer.Enforce(authz.Principal{ID: "u1", TenantID: "t1"}, remove))
	res, err = store.Dispatch(ctx, remove)
	require.NoError(t, err)
	assert.Zero(t, res.Affected)
	assert.Empty(t, *violations)
}

func TestEnforceStampsAndRejectsCreates(t *testing.T) {
	enforcer, violations := newEnforcer(t)
	p := authz.Principal{ID: "u1", TenantID: "t1"}

	create := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreate, Data: datastore.Record{"firstName": "Eve"}}
	require.NoError(t, enforcer.Enforce(p, create))
	assert.Equal(t, "t1", create.Data["tenantId"])

	same := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreate, Data: datastore.Record{"tenantId": "t1"}}
	require.NoError(t, enforcer.Enforce(p, same))

	foreign := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreateMany, Rows: []datastore.Record{
		{"firstName": "ok"},
		{"firstName": "bad", "tenantId": "t2"},
	}}
	err := enforcer.Enforce(p, foreign)
	require.ErrorIs(t, err, shared.ErrCrossTenantViolation)

	move := &datastore.Operation{Entity: "employees", Kind: datastore.KindUpdate, Data: datastore.Record{"tenantId": "t2"}}
	require.ErrorIs(t, enforcer.Enforce(p, move), shared.ErrCrossTenantViolation)

	upsert := &datastore.Operation{Entity: "employees", Kind: datastore.KindUpsert,
		Where: datastore.Filter{"id": "e9"}, Data: datastore.Record{"firstName": "U"}, Create: datastore.Record{"id": "e9"}}
	require.NoError(t, enforcer.Enforce(p, upsert))
	assert.Equal(t, "t1", upsert.Create["tenantId"])
	assert.Equal(t, "t1", upsert.Where["tenantId"])

	assert.Equal(t, []string{"employees", "employees"}, *violations)
}

func TestEnforceConfigurationErrors(t *testing.T) {
	enforcer, _ := newEnforcer(t)

	err := enforcer.Enforce(authz.Principal{ID: "u1"}, &datastore.Operation{Entity: "employees", Kind: datastore.KindRead})
	require.ErrorIs(t, err, shared.ErrConfiguration)

	err = enforcer.Enforce(authz.Principal{ID: "u1", TenantID: "t1"}, &datastore.Operation{Entity: "planets", Kind: datastore.KindRead})
	require.ErrorIs(t, err, shared.ErrConfiguration)

	global := &datastore.Operation{Entity: "sessions", Kind: datastore.KindRead, Where: datastore.Filter{"token": "abc"}}
	require.NoError(t, enforcer.Enforce(authz.Principal{ID: "u1"}, global))
	assert.Equal(t, datastore.Filter{"token": "abc"}, global.Where)
}

func TestEnforceBypass(t *testing.T) {
	enforcer, violations := newEnforcer(t)
	store := seededStore(t, enforcer.Policies)
	admin := authz.Principal{ID: "root", GlobalRole: authz.RoleSuperAdmin}

	read := &datastore.Operation{Entity: "employees", Kind: datastore.KindRead, Include: map[string]*datastore.IncludeSpec{"company": {}}}
	require.NoError(t, enforcer.Enforce(admin, read))
	assert.Nil(t, read.Where)
	res, err := store.Dispatch(context.Background(), read)
	require.NoError(t, err)
	assert.Len(t, res.Records, 4)

	create := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreate, Data: datastore.Record{"tenantId": "t2"}}
	require.NoError(t, enforcer.Enforce(admin, create))
	assert.Empty(t, *violations)

	missing := &datastore.Operation{Entity: "employees", Kind: datastore.KindCreate, Data: datastore.Record{"firstName": "x"}}
	require.ErrorIs(t, enforcer.Enforce(admin, missing), shared.ErrInvalidOperation)
}
