package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/Matteomic94/ElementMedica-sub007/internal/audit/http"
	"github.com/Matteomic94/ElementMedica-sub007/internal/auth"
	"github.com/Matteomic94/ElementMedica-sub007/internal/gate"
	"github.com/Matteomic94/ElementMedica-sub007/internal/observability"
	"github.com/Matteomic94/ElementMedica-sub007/internal/rbac"
	"github.com/Matteomic94/ElementMedica-sub007/internal/records"
	"github.com/Matteomic94/ElementMedica-sub007/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Gate               *gate.Gate
	AuthHandler        *auth.Handler
	RecordsHandler     *records.Handler
	PermissionsHandler *rbac.PermissionsHandler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	Health             func(r *http.Request) error
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Health != nil {
			if err := params.Health(r); err != nil {
				logger.Warn("health check failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountPublic)
		}
		r.Group(func(r chi.Router) {
			r.Use(params.Gate.Authenticate)
			if params.AuthHandler != nil {
				r.Route("/session", params.AuthHandler.MountAuthenticated)
			}
			r.Route("/admin", func(r chi.Router) {
				if params.PermissionsHandler != nil {
					r.Route("/roles", params.PermissionsHandler.MountRoutes)
				}
				if params.AuditHandler != nil {
					params.AuditHandler.MountRoutes(r)
				}
				if params.RecordsHandler != nil {
					params.RecordsHandler.MountAdmin(r)
				}
			})
			if params.RecordsHandler != nil {
				r.Route("/gdpr", params.RecordsHandler.MountErasure)
				params.RecordsHandler.MountRoutes(r)
			}
		})
	})

	return r
}
