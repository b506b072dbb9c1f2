package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/httpx"
)

// RoleStore reads and replaces role definitions.
type RoleStore interface {
	RolePermissions(ctx context.Context, roleType string) ([]RolePermission, error)
	SetRolePermissions(ctx context.Context, roleType string, perms []RolePermission) error
}

// Invalidator drops cached role definitions.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Guard gates a route on one permission.
type Guard interface {
	Require(resource, action string) func(http.Handler) http.Handler
}

// PermissionsHandler manages the permission entries of roles.
type PermissionsHandler struct {
	logger     *slog.Logger
	store      RoleStore
	cache      Invalidator
	conditions *authz.ConditionEvaluator
	guard      Guard
	validator  *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance. cache may be nil.
func NewPermissionsHandler(logger *slog.Logger, store RoleStore, cache Invalidator, conditions *authz.ConditionEvaluator, guard Guard) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, store: store, cache: cache, conditions: conditions, guard: guard, validator: validator.New()}
}

// MountRoutes registers role permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require("roles", authz.ActionRead)).Get("/{roleType}/permissions", h.listPermissions)
	r.With(h.guard.Require("roles", authz.ActionUpdate)).Put("/{roleType}/permissions", h.replacePermissions)
}

type permissionsPayload struct {
	Permissions []RolePermission `json:"permissions" validate:"max=500,dive"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	roleType := strings.TrimSpace(chi.URLParam(r, "roleType"))
	perms, err := h.store.RolePermissions(r.Context(), roleType)
	if err != nil {
		h.logger.Error("list role permissions", slog.String("role", roleType), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if perms == nil {
		perms = []RolePermission{}
	}
	httpx.JSON(w, http.StatusOK, permissionsPayload{Permissions: perms})
}

func (h *PermissionsHandler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	roleType := strings.TrimSpace(chi.URLParam(r, "roleType"))
	var payload permissionsPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: fieldErrs[0].Namespace() + " is invalid", Code: httpx.CodeValidation})
			return
		}
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	for i, p := range payload.Permissions {
		if err := h.check(p); err != nil {
			httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: fmt.Sprintf("permissions[%d]: %v", i, err), Code: httpx.CodeValidation})
			return
		}
	}

	ctx := r.Context()
	if err := h.store.SetRolePermissions(ctx, roleType, payload.Permissions); err != nil {
		if errors.Is(err, ErrUnknownRole) {
			httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: "role type is required", Code: httpx.CodeValidation})
			return
		}
		h.logger.Error("replace role permissions", slog.String("role", roleType), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("invalidate role cache", slog.Any("error", err))
		}
	}
	h.logger.Info("role permissions replaced", slog.String("role", roleType), slog.Int("entries", len(payload.Permissions)))
	w.WriteHeader(http.StatusNoContent)
}

// check rejects entries the resolver would otherwise skip at request time.
func (h *PermissionsHandler) check(p RolePermission) error {
	if _, err := authz.NewPermission(p.Resource, p.Action); err != nil {
		return err
	}
	if _, ok := authz.ParseScope(p.Scope); !ok {
		return fmt.Errorf("unknown scope %q", p.Scope)
	}
	if _, err := authz.ParseFieldList(p.Fields); err != nil {
		return err
	}
	if p.Condition != "" {
		if err := h.conditions.Check(p.Condition); err != nil {
			return err
		}
	}
	return nil
}
