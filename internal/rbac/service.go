package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/platform/db"
)

// ErrUnknownRole indicates a role type without definition.
var ErrUnknownRole = errors.New("rbac: unknown role")

// Service reads and maintains role definitions in PostgreSQL.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// ActiveRoleAssignments returns the active role assignments of a person.
// Validity windows are checked by the permission resolver.
func (s *Service) ActiveRoleAssignments(ctx context.Context, personID string) ([]authz.RoleAssignment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id::text, role_type, is_active, valid_from, valid_until, COALESCE(company_id::text, '')
		FROM role_assignments WHERE person_id::text = $1 AND is_active ORDER BY valid_from`, personID)
	if err != nil {
		return nil, fmt.Errorf("rbac: query assignments: %w", err)
	}
	assignments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (authz.RoleAssignment, error) {
		var (
			a         authz.RoleAssignment
			validFrom *time.Time
		)
		if err := row.Scan(&a.ID, &a.RoleType, &a.IsActive, &validFrom, &a.ValidUntil, &a.CompanyID); err != nil {
			return authz.RoleAssignment{}, err
		}
		if validFrom != nil {
			a.ValidFrom = *validFrom
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: scan assignments: %w", err)
	}
	return assignments, nil
}

// RolePermissions lists the permission entries declared by a role type.
func (s *Service) RolePermissions(ctx context.Context, roleType string) ([]RolePermission, error) {
	rows, err := s.pool.Query(ctx, `SELECT resource, action, is_granted, COALESCE(fields, ''), COALESCE(scope, ''), COALESCE(condition, '')
		FROM role_permissions WHERE role_type = $1 ORDER BY resource, action`, roleType)
	if err != nil {
		return nil, fmt.Errorf("rbac: query role permissions: %w", err)
	}
	perms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RolePermission, error) {
		var p RolePermission
		err := row.Scan(&p.Resource, &p.Action, &p.IsGranted, &p.Fields, &p.Scope, &p.Condition)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: scan role permissions: %w", err)
	}
	return perms, nil
}

// PermissionEntries implements authz.EntrySource.
func (s *Service) PermissionEntries(ctx context.Context, assignment authz.RoleAssignment) ([]authz.PermissionEntry, error) {
	perms, err := s.RolePermissions(ctx, assignment.RoleType)
	if err != nil {
		return nil, err
	}
	return Entries(perms), nil
}

// SetRolePermissions replaces the entries of a role in one serializable
// transaction, so concurrent replacements of the same role never interleave.
func (s *Service) SetRolePermissions(ctx context.Context, roleType string, perms []RolePermission) error {
	roleType = strings.TrimSpace(roleType)
	if roleType == "" {
		return ErrUnknownRole
	}
	return db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_type = $1`, roleType); err != nil {
			return fmt.Errorf("rbac: clear role permissions: %w", err)
		}
		batch := &pgx.Batch{}
		for _, p := range perms {
			batch.Queue(`INSERT INTO role_permissions (role_type, resource, action, is_granted, fields, scope, condition)
				VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))`,
				roleType, p.Resource, p.Action, p.IsGranted, p.Fields, p.Scope, p.Condition)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("rbac: insert role permissions: %w", err)
		}
		return nil
	})
}
