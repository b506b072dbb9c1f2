package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/httpx"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// GrantResolver computes the effective permissions of a principal.
type GrantResolver interface {
	Resolve(ctx context.Context, p authz.Principal) (*authz.GrantSet, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	grants    GrantResolver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, grants GrantResolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, grants: grants, validator: validator.New()}
}

// MountPublic registers unauthenticated routes.
func (h *Handler) MountPublic(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

// MountAuthenticated registers routes that need a resolved principal.
func (h *Handler) MountAuthenticated(r chi.Router) {
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: fieldErrs[0].Field() + " is invalid", Code: httpx.CodeValidation})
			return
		}
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	issued, err := h.service.Login(r.Context(), form.Email, form.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		if !errors.Is(err, shared.ErrAuthenticationRequired) {
			h.logger.Error("login", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issued)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerToken(r)
	if !ok {
		httpx.RespondError(w, shared.Unauthenticated("missing bearer token"))
		return
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	CompanyID   string   `json:"companyId,omitempty"`
	GlobalRole  string   `json:"globalRole,omitempty"`
	Roles       []string `json:"roles"`
	Bypass      bool     `json:"bypass"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.Unauthenticated("authentication required"))
		return
	}
	resp := meResponse{
		ID:          p.ID,
		TenantID:    p.TenantID,
		CompanyID:   p.CompanyID,
		GlobalRole:  p.GlobalRole,
		Roles:       []string{},
		Bypass:      authz.IsPrivilegedBypass(p),
		Permissions: []string{},
	}
	for _, a := range p.RoleAssignments {
		resp.Roles = append(resp.Roles, a.RoleType)
	}
	if h.grants != nil {
		set, err := h.grants.Resolve(r.Context(), p)
		if err != nil {
			h.logger.Error("resolve permissions", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if set.Universal() {
			resp.Permissions = append(resp.Permissions, authz.Wildcard+":"+authz.Wildcard)
		}
		for perm, grant := range set.Permissions() {
			if grant.Allowed {
				resp.Permissions = append(resp.Permissions, perm.String())
			}
		}
		sort.Strings(resp.Permissions)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// BearerToken extracts the token of an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
