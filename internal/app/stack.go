package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	"github.com/Matteomic94/ElementMedica-sub007/internal/auth"
	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore/memstore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore/pgstore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/gate"
	"github.com/Matteomic94/ElementMedica-sub007/internal/observability"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/rbac"
	"github.com/Matteomic94/ElementMedica-sub007/internal/softdelete"
	"github.com/Matteomic94/ElementMedica-sub007/internal/tenancy"
)

// StackDeps are the external resources the authorization stack runs on.
type StackDeps struct {
	Config    *Config
	Logger    *slog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	AuditSink audit.Sink
}

// Stack is the authorization pipeline shared by the API server and the worker.
type Stack struct {
	Policies   *policy.Registry
	Conditions *authz.ConditionEvaluator
	Roles      *rbac.Service
	RoleCache  *rbac.CachedEntries
	Resolver   *authz.Resolver
	Auth       *auth.Service
	Audit      *audit.Emitter
	Gate       *gate.Gate
}

// NewStack wires policies, permission resolution, tenancy, soft delete,
// audit and the data store into one Gate.
func NewStack(deps StackDeps) (*Stack, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policies, err := policy.Load(cfg.PolicyFile, cfg.IncludeMaxDepth)
	if err != nil {
		return nil, err
	}
	if cycles := policies.Cycles(); len(cycles) > 0 {
		logger.Info("entity relations contain cycles, include depth is bounded",
			slog.Any("cycles", cycles), slog.Int("max_depth", policies.MaxDepth()))
	}

	conditions, err := authz.NewConditionEvaluator(512, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	authzMetrics := deps.Metrics.Authz()

	roles := rbac.NewService(deps.Pool)
	roleCache := rbac.NewCachedEntries(roles, deps.Redis, cfg.RoleCacheTTL, logger)
	resolver := authz.NewResolver(authz.ResolverConfig{
		Source:             roleCache,
		Conditions:         conditions,
		Logger:             logger,
		OnIntegrityWarning: authzMetrics.IntegrityWarning,
	})

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}
	authService := auth.NewService(auth.NewRepository(deps.Pool), roles, tokens, auth.NewRevocations(deps.Redis), logger)

	store, err := newDataStore(cfg.StoreDriver, deps.Pool, policies)
	if err != nil {
		return nil, err
	}
	emitter := audit.NewEmitter(deps.AuditSink, logger)

	var recorder gate.Recorder
	if authzMetrics != nil {
		recorder = authzMetrics
	}
	g := gate.New(gate.Config{
		Authenticator: authService,
		Grants:        resolver,
		Policies:      policies,
		Tenancy: &tenancy.Enforcer{
			Policies:    policies,
			Logger:      logger,
			OnViolation: authzMetrics.TenantViolation,
		},
		SoftDelete: softdelete.New(policies, nil),
		Store:      store,
		Audit:      emitter,
		Recorder:   recorder,
		Logger:     logger,
	})

	return &Stack{
		Policies:   policies,
		Conditions: conditions,
		Roles:      roles,
		RoleCache:  roleCache,
		Resolver:   resolver,
		Auth:       authService,
		Audit:      emitter,
		Gate:       g,
	}, nil
}

func newDataStore(driver string, pool *pgxpool.Pool, policies *policy.Registry) (datastore.Store, error) {
	switch driver {
	case StoreDriverMemory:
		return memstore.New(policies), nil
	case StoreDriverPostgres, "":
		if pool == nil {
			return nil, fmt.Errorf("app: postgres store requires a pool")
		}
		return pgstore.New(pool, policies), nil
	}
	return nil, fmt.Errorf("app: unknown store driver %q", driver)
}
