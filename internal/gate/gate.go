// Package gate is the authorization entry point: it authenticates requests,
// decides permissions, and hands out the only data accessor handlers use.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	"github.com/Matteomic94/ElementMedica-sub007/internal/auth"
	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/httpx"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
	"github.com/Matteomic94/ElementMedica-sub007/internal/softdelete"
	"github.com/Matteomic94/ElementMedica-sub007/internal/tenancy"
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (authz.Principal, error)
}

// GrantResolver computes the effective permissions of a principal.
type GrantResolver interface {
	Resolve(ctx context.Context, p authz.Principal) (*authz.GrantSet, error)
}

// Recorder receives authorization outcomes for metrics.
type Recorder interface {
	Decision(resource, action string, allowed bool)
	Privileged(operation string)
}

// Config collects Gate dependencies.
type Config struct {
	Authenticator Authenticator
	Grants        GrantResolver
	Policies      *policy.Registry
	Tenancy       *tenancy.Enforcer
	SoftDelete    *softdelete.Rewriter
	Store         datastore.Store
	Audit         *audit.Emitter
	Recorder      Recorder
	Logger        *slog.Logger
}

// Gate orchestrates the per-request authorization pipeline.
type Gate struct {
	auth       Authenticator
	grants     GrantResolver
	policies   *policy.Registry
	tenancy    *tenancy.Enforcer
	softDelete *softdelete.Rewriter
	store      datastore.Store
	audit      *audit.Emitter
	recorder   Recorder
	logger     *slog.Logger
}

// New constructs a Gate.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enforcer := cfg.Tenancy
	if enforcer == nil {
		enforcer = &tenancy.Enforcer{Policies: cfg.Policies, Logger: logger}
	}
	rewriter := cfg.SoftDelete
	if rewriter == nil {
		rewriter = softdelete.New(cfg.Policies, nil)
	}
	return &Gate{
		auth:       cfg.Authenticator,
		grants:     cfg.Grants,
		policies:   cfg.Policies,
		tenancy:    enforcer,
		softDelete: rewriter,
		store:      cfg.Store,
		audit:      cfg.Audit,
		recorder:   cfg.Recorder,
		logger:     logger,
	}
}

// Policies exposes the entity registry.
func (g *Gate) Policies() *policy.Registry {
	return g.policies
}

// Authenticate resolves the principal from the bearer token. Requests
// without a valid principal end here with 401.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r)
		if !ok {
			httpx.RespondError(w, shared.Unauthenticated("authentication required"))
			return
		}
		p, err := g.auth.Resolve(r.Context(), token)
		if err != nil {
			if !errors.Is(err, shared.ErrAuthenticationRequired) {
				g.logger.Error("resolve principal", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		ctx := authz.ContextWithPrincipal(r.Context(), p)
		ctx = authz.WithRequestCache(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require allows the request only when the principal holds resource:action.
func (g *Gate) Require(resource, action string) func(http.Handler) http.Handler {
	perm := authz.MustPermission(resource, action)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serveDecision(w, r, next, perm)
		})
	}
}

// RequireEntity is Require for routes carrying an {entity} URL parameter.
// The resource is the entity's policy resource.
func (g *Gate) RequireEntity(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entity := strings.TrimSpace(chi.URLParam(r, "entity"))
			pol, ok := g.policies.Lookup(entity)
			if !ok {
				httpx.RespondError(w, shared.ErrNotFound)
				return
			}
			perm, err := authz.NewPermission(pol.Resource, action)
			if err != nil {
				g.logger.Error("entity permission", slog.String("entity", entity), slog.Any("error", err))
				httpx.RespondError(w, shared.Misconfigured("entity %s has an invalid resource", entity))
				return
			}
			g.serveDecision(w, r, next, perm)
		})
	}
}

func (g *Gate) serveDecision(w http.ResponseWriter, r *http.Request, next http.Handler, perm authz.Permission) {
	ctx := r.Context()
	p, ok := authz.PrincipalFromContext(ctx)
	if !ok {
		httpx.RespondError(w, shared.Unauthenticated("authentication required"))
		return
	}
	set, err := g.grants.Resolve(ctx, p)
	if err != nil {
		g.logger.Error("resolve permissions", slog.String("principal", p.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	grant, err := g.decide(ctx, p, set, perm, "")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx = withDecision(ctx, Decision{Principal: p, Grant: grant, Grants: set})
	next.ServeHTTP(w, r.WithContext(ctx))
}

// decide looks up perm and turns a denial into an audited error.
func (g *Gate) decide(ctx context.Context, p authz.Principal, set *authz.GrantSet, perm authz.Permission, entity string) (authz.Grant, error) {
	grant := set.Lookup(perm)
	if g.recorder != nil {
		g.recorder.Decision(perm.Resource, perm.Action, grant.Allowed)
	}
	if grant.Allowed {
		return grant, nil
	}
	g.audit.Emit(ctx, audit.Event{
		Type:     audit.EventPermissionDenied,
		ActorID:  p.ID,
		TenantID: p.TenantID,
		Resource: perm.Resource,
		Action:   perm.Action,
		Outcome:  audit.OutcomeDenied,
		Entity:   entity,
	})
	return authz.Grant{}, shared.Denied(
		"missing permission "+perm.String(),
		[]string{perm.String()},
		set.GrantedOn(perm.Resource),
	)
}
