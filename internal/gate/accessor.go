package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Matteomic94/ElementMedica-sub007/internal/audit"
	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
	"github.com/Matteomic94/ElementMedica-sub007/internal/softdelete"
	"github.com/Matteomic94/ElementMedica-sub007/internal/tenancy"
)

// Accessor is the request-scoped data access boundary. Every operation is
// authorized, confined to the principal's tenant and grant scope, and
// rewritten for soft delete before exactly one store call.
type Accessor struct {
	g         *Gate
	principal authz.Principal
	grants    *authz.GrantSet
}

// Data returns the accessor for the principal carried by ctx.
func (g *Gate) Data(ctx context.Context) (*Accessor, error) {
	p, ok := authz.PrincipalFromContext(ctx)
	if !ok {
		return nil, shared.Unauthenticated("authentication required")
	}
	set, err := g.grants.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Accessor{g: g, principal: p, grants: set}, nil
}

// Principal returns the acting principal.
func (a *Accessor) Principal() authz.Principal {
	return a.principal
}

func actionsFor(kind datastore.Kind) []string {
	switch kind {
	case datastore.KindRead, datastore.KindCount, datastore.KindAggregate:
		return []string{authz.ActionRead}
	case datastore.KindCreate, datastore.KindCreateMany:
		return []string{authz.ActionCreate}
	case datastore.KindUpdate:
		return []string{authz.ActionUpdate}
	case datastore.KindUpsert:
		return []string{authz.ActionUpdate, authz.ActionCreate}
	case datastore.KindDelete:
		return []string{authz.ActionDelete}
	}
	return nil
}

// Do runs one ordinary operation. op itself is never modified.
func (a *Accessor) Do(ctx context.Context, op *datastore.Operation) (datastore.Result, error) {
	if op == nil {
		return datastore.Result{}, shared.Invalid("nil operation")
	}
	staged := op.Clone()
	staged.Privileged = false
	actions := actionsFor(staged.Kind)
	if len(actions) == 0 {
		return datastore.Result{}, shared.Invalid("unknown operation kind %q", staged.Kind)
	}
	return a.run(ctx, staged, actions...)
}

// Find reads rows of entity.
func (a *Accessor) Find(ctx context.Context, entity string, where datastore.Filter, include map[string]*datastore.IncludeSpec) ([]datastore.Record, error) {
	res, err := a.Do(ctx, &datastore.Operation{Entity: entity, Kind: datastore.KindRead, Where: where, Include: include})
	return res.Records, err
}

// Count counts rows of entity.
func (a *Accessor) Count(ctx context.Context, entity string, where datastore.Filter) (int64, error) {
	res, err := a.Do(ctx, &datastore.Operation{Entity: entity, Kind: datastore.KindCount, Where: where})
	return res.Count, err
}

// Create inserts one row.
func (a *Accessor) Create(ctx context.Context, entity string, data datastore.Record) (datastore.Record, error) {
	res, err := a.Do(ctx, &datastore.Operation{Entity: entity, Kind: datastore.KindCreate, Data: data})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("gate: create %s returned no row", entity)
	}
	return res.Records[0], nil
}

// Update changes matching rows.
func (a *Accessor) Update(ctx context.Context, entity string, where datastore.Filter, data datastore.Record) (datastore.Result, error) {
	return a.Do(ctx, &datastore.Operation{Entity: entity, Kind: datastore.KindUpdate, Where: where, Data: data})
}

// Delete deletes matching rows, softly where the entity supports it.
func (a *Accessor) Delete(ctx context.Context, entity string, where datastore.Filter) (datastore.Result, error) {
	return a.Do(ctx, &datastore.Operation{Entity: entity, Kind: datastore.KindDelete, Where: where})
}

// HardDelete physically removes matching rows. It is the erasure path and
// requires the erase action.
func (a *Accessor) HardDelete(ctx context.Context, entity string, where datastore.Filter) (datastore.Result, error) {
	op := &datastore.Operation{Entity: entity, Kind: datastore.KindDelete, Where: where.Clone(), Privileged: true}
	return a.privileged(ctx, "hard_delete", op, authz.ActionErase)
}

// FindIncludingDeleted reads rows without hiding soft-deleted ones.
func (a *Accessor) FindIncludingDeleted(ctx context.Context, op *datastore.Operation) (datastore.Result, error) {
	if op == nil || !op.Kind.IsRead() {
		return datastore.Result{}, shared.Invalid("find including deleted needs a read operation")
	}
	staged := op.Clone()
	staged.Privileged = true
	return a.privileged(ctx, "find_including_deleted", staged, authz.ActionReadDeleted)
}

// Restore brings soft-deleted rows back.
func (a *Accessor) Restore(ctx context.Context, entity string, where datastore.Filter) (datastore.Result, error) {
	pol, ok := a.g.policies.Lookup(entity)
	if !ok {
		return datastore.Result{}, shared.Invalid("unknown entity %q", entity)
	}
	if !pol.SoftDeletes() {
		return datastore.Result{}, shared.Invalid("%s does not support restore", entity)
	}
	guarded := where.Clone()
	guarded.Set(datastore.KeyAnd, append(andBranches(guarded), datastore.Filter{pol.SoftDeleteField: softdelete.DeletedCondition(pol)}))
	op := &datastore.Operation{
		Entity:     entity,
		Kind:       datastore.KindUpdate,
		Where:      guarded,
		Data:       datastore.Record{pol.SoftDeleteField: softdelete.AliveCondition(pol)},
		Privileged: true,
	}
	return a.privileged(ctx, "restore", op, authz.ActionRestore)
}

func andBranches(f datastore.Filter) []datastore.Filter {
	and, _ := f[datastore.KeyAnd].([]datastore.Filter)
	return and
}

func (a *Accessor) privileged(ctx context.Context, name string, op *datastore.Operation, action string) (datastore.Result, error) {
	res, err := a.run(ctx, op, action)
	outcome := audit.OutcomeAllowed
	if err != nil {
		if errors.Is(err, shared.ErrPermissionDenied) {
			return res, err
		}
		outcome = audit.OutcomeError
	}
	a.g.logger.Warn("privileged data operation",
		slog.String("operation", name),
		slog.String("actor", a.principal.ID),
		slog.String("tenant", a.principal.TenantID),
		slog.String("entity", op.Entity),
		slog.Int64("affected", res.Affected),
		slog.Bool("ok", err == nil),
	)
	if a.g.recorder != nil {
		a.g.recorder.Privileged(name)
	}
	a.g.audit.Emit(ctx, audit.Event{
		Type:     audit.EventPrivilegedOperation,
		ActorID:  a.principal.ID,
		TenantID: a.principal.TenantID,
		Resource: a.resourceOf(op.Entity),
		Action:   action,
		Outcome:  outcome,
		Entity:   op.Entity,
		RecordID: recordID(op.Where),
		Detail:   map[string]any{"operation": name, "affected": res.Affected},
	})
	return res, err
}

func (a *Accessor) resourceOf(entity string) string {
	if pol, ok := a.g.policies.Lookup(entity); ok {
		return pol.Resource
	}
	return entity
}

func recordID(where datastore.Filter) string {
	if id, ok := where[policy.DefaultPrimaryKey].(string); ok {
		return id
	}
	return ""
}

// run is the pipeline shared by every operation: decision, tenant
// enforcement, scope narrowing, soft-delete rewrite, one dispatch.
func (a *Accessor) run(ctx context.Context, op *datastore.Operation, actions ...string) (datastore.Result, error) {
	if err := ctx.Err(); err != nil {
		return datastore.Result{}, err
	}
	if err := op.Validate(); err != nil {
		return datastore.Result{}, shared.Invalid("%v", err)
	}
	pol, ok := a.g.policies.Lookup(op.Entity)
	if !ok {
		return datastore.Result{}, shared.Invalid("unknown entity %q", op.Entity)
	}

	var grant authz.Grant
	for i, action := range actions {
		perm, err := authz.NewPermission(pol.Resource, action)
		if err != nil {
			return datastore.Result{}, shared.Misconfigured("entity %s: %v", pol.Name, err)
		}
		g, err := a.g.decide(ctx, a.principal, a.grants, perm, pol.Name)
		if err != nil {
			return datastore.Result{}, err
		}
		if i == 0 {
			grant = g
		}
	}

	if err := a.authorizeIncludes(ctx, op); err != nil {
		return datastore.Result{}, err
	}
	if err := a.g.tenancy.Enforce(a.principal, op); err != nil {
		a.reportRejection(ctx, pol, actions[0], err)
		return datastore.Result{}, err
	}
	if err := tenancy.ApplyScope(a.principal, pol, grant, op); err != nil {
		a.reportRejection(ctx, pol, actions[0], err)
		return datastore.Result{}, err
	}
	if err := a.g.softDelete.Rewrite(op); err != nil {
		a.reportRejection(ctx, pol, actions[0], err)
		return datastore.Result{}, err
	}
	if pol.TenantScoped && authz.IsPrivilegedBypass(a.principal) {
		a.g.audit.Emit(ctx, audit.Event{
			Type:     audit.EventBypassAccess,
			ActorID:  a.principal.ID,
			TenantID: a.principal.TenantID,
			Resource: pol.Resource,
			Action:   actions[0],
			Outcome:  audit.OutcomeAllowed,
			Entity:   pol.Name,
			Detail:   map[string]any{"kind": string(op.Kind)},
		})
	}

	if err := ctx.Err(); err != nil {
		return datastore.Result{}, err
	}
	return a.g.store.Dispatch(ctx, op)
}

// authorizeIncludes requires read access on every related resource an
// operation pulls in.
func (a *Accessor) authorizeIncludes(ctx context.Context, op *datastore.Operation) error {
	if len(op.Include) == 0 {
		return nil
	}
	checked := map[string]bool{}
	return a.g.policies.WalkIncludes(op.Entity, op.Include, func(target policy.EntityPolicy, _ *datastore.IncludeSpec) error {
		if checked[target.Resource] {
			return nil
		}
		checked[target.Resource] = true
		perm, err := authz.NewPermission(target.Resource, authz.ActionRead)
		if err != nil {
			return shared.Misconfigured("entity %s: %v", target.Name, err)
		}
		_, err = a.g.decide(ctx, a.principal, a.grants, perm, target.Name)
		return err
	})
}

func (a *Accessor) reportRejection(ctx context.Context, pol policy.EntityPolicy, action string, err error) {
	var eventType audit.EventType
	switch {
	case errors.Is(err, shared.ErrCrossTenantViolation):
		eventType = audit.EventCrossTenant
	case errors.Is(err, shared.ErrConfiguration):
		eventType = audit.EventConfigurationError
	case errors.Is(err, shared.ErrPermissionDenied):
		eventType = audit.EventPermissionDenied
		if a.g.recorder != nil {
			a.g.recorder.Decision(pol.Resource, action, false)
		}
	default:
		return
	}
	a.g.audit.Emit(ctx, audit.Event{
		Type:     eventType,
		ActorID:  a.principal.ID,
		TenantID: a.principal.TenantID,
		Resource: pol.Resource,
		Action:   action,
		Outcome:  audit.OutcomeDenied,
		Entity:   pol.Name,
		Detail:   map[string]any{"error": err.Error()},
	})
}
