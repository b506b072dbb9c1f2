package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// AssignmentSource loads the role assignments of a principal.
type AssignmentSource interface {
	ActiveRoleAssignments(ctx context.Context, personID string) ([]authz.RoleAssignment, error)
}

// RevocationList tracks logged-out sessions.
type RevocationList interface {
	Revoke(ctx context.Context, sessionID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

var errInvalidCredentials = shared.Unauthenticated("invalid email or password")

// Service wraps authentication rules and principal resolution.
type Service struct {
	repo        Repository
	assignments AssignmentSource
	tokens      *Tokens
	revocations RevocationList
	logger      *slog.Logger
}

// NewService constructs a new Service. revocations may be nil.
func NewService(repo Repository, assignments AssignmentSource, tokens *Tokens, revocations RevocationList, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, assignments: assignments, tokens: tokens, revocations: revocations, logger: logger}
}

// Login validates credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password, ip, ua string) (IssuedToken, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return IssuedToken{}, errInvalidCredentials
		}
		return IssuedToken{}, err
	}
	if !user.IsActive {
		return IssuedToken{}, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return IssuedToken{}, errInvalidCredentials
	}
	sessionID := uuid.NewString()
	token, expiresAt, err := s.tokens.Issue(*user, sessionID)
	if err != nil {
		return IssuedToken{}, err
	}
	if err := s.repo.CreateSession(ctx, sessionID, user.ID, expiresAt, ip, ua); err != nil {
		s.logger.Warn("register session", slog.Any("error", err))
	}
	return IssuedToken{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// Logout revokes the session behind raw.
func (s *Service) Logout(ctx context.Context, raw string) error {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return shared.Unauthenticated("invalid token")
	}
	if s.revocations != nil {
		if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteSession(ctx, claims.ID); err != nil {
		s.logger.Warn("remove session", slog.Any("error", err))
	}
	return nil
}

// Resolve turns a bearer token into the request principal. The account
// record is authoritative: tokens of disabled users or moved tenants fail.
func (s *Service) Resolve(ctx context.Context, raw string) (authz.Principal, error) {
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return authz.Principal{}, shared.Unauthenticated("invalid or expired token")
	}
	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return authz.Principal{}, err
		}
		if revoked {
			return authz.Principal{}, shared.Unauthenticated("session has ended")
		}
	}
	user, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return authz.Principal{}, shared.Unauthenticated("unknown account")
		}
		return authz.Principal{}, err
	}
	if !user.IsActive || user.TenantID != claims.TenantID {
		return authz.Principal{}, shared.Unauthenticated("account is not active")
	}
	var assignments []authz.RoleAssignment
	if s.assignments != nil {
		assignments, err = s.assignments.ActiveRoleAssignments(ctx, user.ID)
		if err != nil {
			return authz.Principal{}, err
		}
	}
	return authz.Principal{
		ID:              user.ID,
		TenantID:        user.TenantID,
		CompanyID:       user.CompanyID,
		GlobalRole:      user.GlobalRole,
		RoleAssignments: assignments,
	}, nil
}
