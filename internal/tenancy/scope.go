package tenancy

import (
	"slices"

	"github.com/Matteomic94/ElementMedica-sub007/internal/authz"
	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// ApplyScope narrows op to the breadth of the grant: company-scoped grants
// see only their companies, own-scoped grants only rows the principal owns.
// Entities without the field a narrowed scope needs are refused.
func ApplyScope(p authz.Principal, pol policy.EntityPolicy, grant authz.Grant, op *datastore.Operation) error {
	if authz.IsPrivilegedBypass(p) {
		return nil
	}
	switch grant.Scope {
	case authz.ScopeGlobal, "":
		return nil
	case authz.ScopeCompany:
		if pol.CompanyField == "" || len(grant.CompanyIDs) == 0 {
			return deniedScope(grant)
		}
		return narrow(op, pol.CompanyField, grant.CompanyIDs, grant)
	case authz.ScopeOwn:
		if pol.OwnerField == "" || p.ID == "" {
			return deniedScope(grant)
		}
		return narrow(op, pol.OwnerField, []string{p.ID}, grant)
	}
	return deniedScope(grant)
}

func narrow(op *datastore.Operation, field string, allowed []string, grant authz.Grant) error {
	switch op.Kind {
	case datastore.KindCreate:
		return stampScope(op.Data, field, allowed, grant)
	case datastore.KindCreateMany:
		for _, row := range op.Rows {
			if err := stampScope(row, field, allowed, grant); err != nil {
				return err
			}
		}
		return nil
	case datastore.KindUpsert:
		if err := stampScope(op.Create, field, allowed, grant); err != nil {
			return err
		}
	}
	if v, ok := op.Data[field]; ok && !contains(allowed, v) {
		return deniedScope(grant)
	}
	if op.Kind.IsCreate() {
		return nil
	}
	var cond any = allowed[0]
	if len(allowed) > 1 {
		cond = datastore.In(allowed...)
	}
	constrain(&op.Where, field, cond)
	return nil
}

func stampScope(row datastore.Record, field string, allowed []string, grant authz.Grant) error {
	if row == nil {
		return shared.Invalid("missing row data")
	}
	v, ok := row[field]
	if !ok || v == nil || v == "" {
		if len(allowed) != 1 {
			return shared.Invalid("%s is required", field)
		}
		row[field] = allowed[0]
		return nil
	}
	if !contains(allowed, v) {
		return deniedScope(grant)
	}
	return nil
}

// constrain adds a condition without discarding one the caller already set.
func constrain(where *datastore.Filter, field string, cond any) {
	if *where == nil || !(*where).References(field) {
		where.Set(field, cond)
		return
	}
	and, _ := (*where)[datastore.KeyAnd].([]datastore.Filter)
	(*where)[datastore.KeyAnd] = append(and, datastore.Filter{field: cond})
}

func contains(allowed []string, v any) bool {
	s, ok := v.(string)
	return ok && slices.Contains(allowed, s)
}

func deniedScope(grant authz.Grant) error {
	return shared.Denied(
		"permission "+grant.Permission.String()+" does not cover the requested records",
		[]string{grant.Permission.String()},
		[]string{grant.Permission.String() + "@" + string(grant.Scope)},
	)
}
