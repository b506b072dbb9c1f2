// Package softdelete turns deletes into state updates and hides deleted rows
// from ordinary reads.
package softdelete

import (
	"time"

	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// Rewriter applies soft-delete semantics to pending operations.
type Rewriter struct {
	policies *policy.Registry
	now      func() time.Time
}

// New constructs a Rewriter. now defaults to time.Now.
func New(policies *policy.Registry, now func() time.Time) *Rewriter {
	if now == nil {
		now = time.Now
	}
	return &Rewriter{policies: policies, now: now}
}

// AliveCondition is the filter value matching rows that are not deleted.
func AliveCondition(pol policy.EntityPolicy) any {
	if pol.SoftDelete == policy.SoftDeleteFlag {
		return true
	}
	return nil
}

// DeletedCondition matches rows that are soft deleted.
func DeletedCondition(pol policy.EntityPolicy) any {
	if pol.SoftDelete == policy.SoftDeleteFlag {
		return false
	}
	return datastore.Ne(nil)
}

// DeletedValue is the value written to mark a row deleted at t.
func DeletedValue(pol policy.EntityPolicy, t time.Time) any {
	if pol.SoftDelete == policy.SoftDeleteFlag {
		return false
	}
	return t.UTC()
}

// Rewrite applies soft-delete semantics to op in place. Privileged
// operations are left untouched.
func (r *Rewriter) Rewrite(op *datastore.Operation) error {
	if op.Privileged {
		return nil
	}
	pol, ok := r.policies.Lookup(op.Entity)
	if !ok {
		return shared.Misconfigured("no entity policy for %q", op.Entity)
	}
	if pol.SoftDeletes() {
		if err := r.rewriteRoot(pol, op); err != nil {
			return err
		}
	}
	if len(op.Include) == 0 {
		return nil
	}
	return r.policies.WalkIncludes(op.Entity, op.Include, func(target policy.EntityPolicy, spec *datastore.IncludeSpec) error {
		if target.SoftDeletes() && !spec.Where.References(target.SoftDeleteField) {
			spec.Where.Set(target.SoftDeleteField, AliveCondition(target))
		}
		return nil
	})
}

func (r *Rewriter) rewriteRoot(pol policy.EntityPolicy, op *datastore.Operation) error {
	field := pol.SoftDeleteField
	switch op.Kind {
	case datastore.KindRead, datastore.KindCount, datastore.KindAggregate:
		if !op.Where.References(field) {
			op.Where.Set(field, AliveCondition(pol))
		}
	case datastore.KindCreate:
		markAlive(pol, op.Data)
	case datastore.KindCreateMany:
		for _, row := range op.Rows {
			markAlive(pol, row)
		}
	case datastore.KindUpdate, datastore.KindUpsert:
		if _, ok := op.Data[field]; ok {
			return shared.Invalid("%s.%s can only change through delete or restore", pol.Name, field)
		}
		if op.Kind == datastore.KindUpsert {
			markAlive(pol, op.Create)
		}
		if !op.Where.References(field) {
			op.Where.Set(field, AliveCondition(pol))
		}
	case datastore.KindDelete:
		op.Kind = datastore.KindUpdate
		op.Data = datastore.Record{field: DeletedValue(pol, r.now())}
		op.SoftDeleted = true
		requireAlive(pol, &op.Where)
	}
	return nil
}

// requireAlive guards a filter to alive rows even when the caller already
// constrained the soft-delete field.
func requireAlive(pol policy.EntityPolicy, where *datastore.Filter) {
	field := pol.SoftDeleteField
	if *where == nil || !(*where).References(field) {
		where.Set(field, AliveCondition(pol))
		return
	}
	and, _ := (*where)[datastore.KeyAnd].([]datastore.Filter)
	(*where)[datastore.KeyAnd] = append(and, datastore.Filter{field: AliveCondition(pol)})
}

func markAlive(pol policy.EntityPolicy, row datastore.Record) {
	if row == nil || pol.SoftDelete != policy.SoftDeleteFlag {
		return
	}
	if _, ok := row[pol.SoftDeleteField]; !ok {
		row[pol.SoftDeleteField] = true
	}
}
