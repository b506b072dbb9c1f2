package gate

import (
	"context"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
)

// Decision is the allow decision taken for the current request.
type Decision struct {
	Principal authz.Principal
	Grant     authz.Grant
	Grants    *authz.GrantSet
}

type decisionContextKey struct{}

func withDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext returns the decision recorded by Require.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

// SystemPrincipal is the bypass principal of background jobs.
func SystemPrincipal(name string) authz.Principal {
	return authz.Principal{ID: "system:" + name, GlobalRole: authz.RoleSuperAdmin, Bypass: true}
}
