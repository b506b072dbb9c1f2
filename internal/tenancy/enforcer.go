// Package tenancy confines staged data operations to the principal's tenant.
package tenancy

import (
	"log/slog"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// Enforcer injects and validates tenant filters on pending operations.
type Enforcer struct {
	Policies *policy.Registry
	Logger   *slog.Logger
	// OnViolation is called with the entity name for every rejected
	// cross-tenant attempt.
	OnViolation func(entity string)
}

// Enforce rewrites op in place so that it only touches the principal's
// tenant, or rejects it. Entities outside tenant isolation pass unmodified.
func (e *Enforcer) Enforce(p authz.Principal, op *datastore.Operation) error {
	pol, ok := e.Policies.Lookup(op.Entity)
	if !ok {
		return e.misconfigured(shared.Misconfigured("no entity policy for %q", op.Entity))
	}
	bypass := authz.IsPrivilegedBypass(p)
	if pol.TenantScoped && p.TenantID == "" && !bypass {
		return e.misconfigured(shared.Misconfigured("principal %s has no tenant for tenant-scoped entity %s", p.ID, op.Entity))
	}

	if pol.TenantScoped {
		if err := e.enforceRoot(p, pol, op, bypass); err != nil {
			return err
		}
	}
	if len(op.Include) == 0 || bypass {
		return nil
	}
	return e.Policies.WalkIncludes(op.Entity, op.Include, func(target policy.EntityPolicy, spec *datastore.IncludeSpec) error {
		if !target.TenantScoped {
			return nil
		}
		if p.TenantID == "" {
			return e.misconfigured(shared.Misconfigured("principal %s has no tenant for included entity %s", p.ID, target.Name))
		}
		spec.Where.Set(target.TenantField, p.TenantID)
		return nil
	})
}

func (e *Enforcer) enforceRoot(p authz.Principal, pol policy.EntityPolicy, op *datastore.Operation, bypass bool) error {
	field := pol.TenantField
	switch op.Kind {
	case datastore.KindCreate:
		return e.stamp(p, pol, op.Data, bypass)
	case datastore.KindCreateMany:
		for _, row := range op.Rows {
			if err := e.stamp(p, pol, row, bypass); err != nil {
				return err
			}
		}
		return nil
	case datastore.KindRead, datastore.KindCount, datastore.KindAggregate:
		if !bypass {
			op.Where.Set(field, p.TenantID)
		}
		return nil
	case datastore.KindUpdate, datastore.KindDelete:
		if err := e.guardPayload(p, pol, op.Data, bypass); err != nil {
			return err
		}
		if !bypass {
			op.Where.Set(field, p.TenantID)
		}
		return nil
	case datastore.KindUpsert:
		if err := e.guardPayload(p, pol, op.Data, bypass); err != nil {
			return err
		}
		if err := e.stamp(p, pol, op.Create, bypass); err != nil {
			return err
		}
		if !bypass {
			op.Where.Set(field, p.TenantID)
		}
		return nil
	}
	return shared.Invalid("unknown operation kind %q", op.Kind)
}

// stamp fills the tenant of a row to be inserted.
func (e *Enforcer) stamp(p authz.Principal, pol policy.EntityPolicy, row datastore.Record, bypass bool) error {
	if row == nil {
		return shared.Invalid("%s: missing row data", pol.Name)
	}
	current, present := row[pol.TenantField]
	if !present || current == nil || current == "" {
		if p.TenantID == "" {
			return shared.Invalid("%s: %s is required", pol.Name, pol.TenantField)
		}
		row[pol.TenantField] = p.TenantID
		return nil
	}
	if bypass || current == p.TenantID {
		return nil
	}
	return e.violation(p, pol, "create in tenant %v", current)
}

// guardPayload rejects updates that move rows into another tenant.
func (e *Enforcer) guardPayload(p authz.Principal, pol policy.EntityPolicy, data datastore.Record, bypass bool) error {
	next, present := data[pol.TenantField]
	if !present || bypass || next == p.TenantID {
		return nil
	}
	return e.violation(p, pol, "move row to tenant %v", next)
}

func (e *Enforcer) violation(p authz.Principal, pol policy.EntityPolicy, format string, arg any) error {
	e.logger().Warn("cross-tenant attempt rejected",
		slog.String("principal", p.ID),
		slog.String("tenant", p.TenantID),
		slog.String("entity", pol.Name),
	)
	if e.OnViolation != nil {
		e.OnViolation(pol.Name)
	}
	return shared.CrossTenant(pol.Name+": "+format, arg)
}

func (e *Enforcer) misconfigured(err error) error {
	e.logger().Error("tenant enforcement misconfigured", slog.Any("error", err))
	return err
}

func (e *Enforcer) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
