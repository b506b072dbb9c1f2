package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore/memstore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/gate"
	"github.com/Matteomic94/ElementMedica-sub007/internal/observability"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/records"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

type staticAuth map[string]authz.Principal

func (a staticAuth) Resolve(_ context.Context, token string) (authz.Principal, error) {
	p, ok := a[token]
	if !ok {
		return authz.Principal{}, shared.Unauthenticated("invalid token")
	}
	return p, nil
}

type staticRoles map[string][]authz.PermissionEntry

func (s staticRoles) PermissionEntries(_ context.Context, a authz.RoleAssignment) ([]authz.PermissionEntry, error) {
	return s[a.RoleType], nil
}

func newTestRouter(t *testing.T, cfg *Config, health func(*http.Request) error) http.Handler {
	t.Helper()
	reg, err := policy.Default()
	require.NoError(t, err)
	store := memstore.New(reg)
	store.Seed("employees", datastore.Record{"id": "e1", "tenantId": "t1", "firstName": "Ada"})

	metrics := observability.NewMetrics()
	g := gate.New(gate.Config{
		Authenticator: staticAuth{"reader": {ID: "u1", TenantID: "t1", RoleAssignments: []authz.RoleAssignment{{ID: "a1", RoleType: "READER", IsActive: true}}}},
		Grants: authz.NewResolver(authz.ResolverConfig{Source: staticRoles{
			"READER": {{Resource: "employees", Action: "read", IsGranted: true}},
		}}),
		Policies: reg,
		Store:    store,
		Audit:    audit.NewEmitter(audit.SinkFunc(func(context.Context, audit.Event) error { return nil }), nil),
		Recorder: metrics.Authz(),
	})
	return NewRouter(RouterParams{
		Config:         cfg,
		Gate:           g,
		RecordsHandler: records.NewHandler(nil, g),
		Metrics:        metrics,
		Health:         health,
	})
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndHeaders(t *testing.T) {
	healthy := true
	h := newTestRouter(t, &Config{RateLimitPerMinute: 100}, func(*http.Request) error {
		if healthy {
			return nil
		}
		return errors.New("database unreachable")
	})

	rec := get(h, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	healthy = false
	rec = get(h, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database")
}

func TestRouterProtectsTheAPI(t *testing.T) {
	h := newTestRouter(t, &Config{RateLimitPerMinute: 100}, nil)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/v1/employees", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(h, "/api/v1/employees", "stolen").Code)

	rec := get(h, "/api/v1/employees", "reader")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Ada")

	assert.Equal(t, http.StatusForbidden, get(h, "/api/v1/admin/employees/deleted", "reader").Code)

	rec = get(h, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
	assert.Contains(t, rec.Body.String(), "authz_decisions_total")
}

func TestRouterRateLimits(t *testing.T) {
	h := newTestRouter(t, &Config{RateLimitPerMinute: 2}, nil)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, get(h, "/healthz", "").Code)
	}
	rec := get(h, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}
