package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Authz().Decision("employees", "read", false)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	want := `authz_decisions_total{action="read",outcome="denied",resource="employees"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected body to contain %s, got: %s", want, body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, `http_requests_total{code="418",method="GET",route="/test"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, `http_request_duration_seconds_bucket{route="/test"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_requests_in_flight 0") {
		t.Fatalf("expected in-flight gauge back at zero, got: %s", metricsBody)
	}
}

func TestAuthzMetricsCountOutcomes(t *testing.T) {
	metrics := NewMetrics()
	authz := metrics.Authz()
	authz.Decision("employees", "read", true)
	authz.Decision("employees", "read", true)
	authz.TenantViolation("employees")
	authz.Privileged("erase")
	authz.IntegrityWarning("unknown_scope")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		`authz_decisions_total{action="read",outcome="allowed",resource="employees"} 2`,
		`authz_tenant_violations_total{entity="employees"} 1`,
		`authz_privileged_operations_total{operation="erase"} 1`,
		`authz_integrity_warnings_total{reason="unknown_scope"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in metrics output, got: %s", want, body)
		}
	}
}

func TestNilAuthzMetricsAreNoop(t *testing.T) {
	var m *Metrics
	authz := m.Authz()
	authz.Decision("employees", "read", true)
	authz.TenantViolation("employees")
	authz.Privileged("erase")
	authz.IntegrityWarning("bad_fields")
}
