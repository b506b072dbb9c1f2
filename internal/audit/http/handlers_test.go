package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Event
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Event, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type stubGuard struct {
	required []string
	deny     bool
}

func (g *stubGuard) Require(resource, action string) func(http.Handler) http.Handler {
	g.required = append(g.required, resource+":"+action)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.deny {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newAuditRouter(t *testing.T, service *stubTimelineService, guard *stubGuard) http.Handler {
	t.Helper()
	handler := NewHandler(nil, service, guard)
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func withPrincipal(req *http.Request, p authz.Principal) *http.Request {
	return req.WithContext(authz.ContextWithPrincipal(req.Context(), p))
}

var tenantAuditor = authz.Principal{ID: "p-7", TenantID: "t-1"}

func TestTimelineRequiresPermission(t *testing.T) {
	guard := &stubGuard{deny: true}
	router := newAuditRouter(t, &stubTimelineService{}, guard)
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/audit", nil), tenantAuditor)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if len(guard.required) != 2 || guard.required[0] != "audit:read" || guard.required[1] != "audit:export" {
		t.Fatalf("unexpected guarded permissions %v", guard.required)
	}
}

func TestTimelineReturnsTenantRows(t *testing.T) {
	rows := []audit.Event{{OccurredAt: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: "auditor", Type: audit.EventPermissionDenied, Resource: "employees", Action: "read", Outcome: audit.OutcomeDenied}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router := newAuditRouter(t, service, &stubGuard{})
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/audit?from=2024-03-01&to=2024-03-15&tenant=t-2", nil), tenantAuditor)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Data       []audit.Event    `json:"data"`
		Pagination audit.PagingInfo `json:"pagination"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ActorID != "auditor" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if service.lastFilters.From.Format("2006-01-02") != "2024-03-01" {
		t.Fatalf("unexpected filters: %+v", service.lastFilters)
	}
	if !service.lastFilters.To.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected exclusive end of day, got %s", service.lastFilters.To)
	}
	if service.lastFilters.TenantID != "t-1" {
		t.Fatalf("tenant override must be ignored, got %q", service.lastFilters.TenantID)
	}
}

func TestTimelineBypassChoosesTenant(t *testing.T) {
	service := &stubTimelineService{}
	router := newAuditRouter(t, service, &stubGuard{})
	admin := authz.Principal{ID: "root", GlobalRole: authz.RoleSuperAdmin}
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/audit?tenant=t-2", nil), admin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if service.lastFilters.TenantID != "t-2" {
		t.Fatalf("expected tenant t-2, got %q", service.lastFilters.TenantID)
	}
	if !strings.Contains(rr.Body.String(), `"data":[]`) {
		t.Fatalf("expected empty data array, got %s", rr.Body.String())
	}
}

func TestTimelineRejectsBadRange(t *testing.T) {
	router := newAuditRouter(t, &stubTimelineService{}, &stubGuard{})
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/audit?from=2024-03-20&to=2024-03-15", nil), tenantAuditor)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.Event{{ActorID: "auditor", Type: audit.EventBypassAccess, Outcome: audit.OutcomeAllowed}}}
	router := newAuditRouter(t, service, &stubGuard{})
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/audit/export.csv?from=2024-03-01&to=2024-03-05", nil), tenantAuditor)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if !strings.Contains(rr.Body.String(), "auditor") {
		t.Fatalf("expected actor in csv: %s", rr.Body.String())
	}
}
