package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AuthzMetrics counts authorization outcomes. A nil *AuthzMetrics is a no-op.
type AuthzMetrics struct {
	decisions         *prometheus.CounterVec
	tenantViolations  *prometheus.CounterVec
	privileged        *prometheus.CounterVec
	integrityWarnings *prometheus.CounterVec
}

func newAuthzMetrics(reg prometheus.Registerer) *AuthzMetrics {
	m := &AuthzMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Permission decisions by resource, action and outcome.",
		}, []string{"resource", "action", "outcome"}),
		tenantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_tenant_violations_total",
			Help: "Rejected cross-tenant attempts by entity.",
		}, []string{"entity"}),
		privileged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_privileged_operations_total",
			Help: "Privileged data operations by kind.",
		}, []string{"operation"}),
		integrityWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_integrity_warnings_total",
			Help: "Malformed stored permission entries by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.decisions, m.tenantViolations, m.privileged, m.integrityWarnings)
	return m
}

// Decision counts one permission decision.
func (m *AuthzMetrics) Decision(resource, action string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.decisions.WithLabelValues(resource, action, outcome).Inc()
}

// TenantViolation counts one rejected cross-tenant attempt.
func (m *AuthzMetrics) TenantViolation(entity string) {
	if m == nil {
		return
	}
	m.tenantViolations.WithLabelValues(entity).Inc()
}

// Privileged counts one privileged operation.
func (m *AuthzMetrics) Privileged(operation string) {
	if m == nil {
		return
	}
	m.privileged.WithLabelValues(operation).Inc()
}

// IntegrityWarning counts one malformed permission entry.
func (m *AuthzMetrics) IntegrityWarning(reason string) {
	if m == nil {
		return
	}
	m.integrityWarnings.WithLabelValues(reason).Inc()
}
