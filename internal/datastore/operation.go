// Package datastore defines the staged data operation that the authorization
// interceptors annotate before it reaches a Store.
package datastore

import (
	"context"
	"fmt"
)

// Kind is the shape of a data operation.
type Kind string

const (
	KindCreate     Kind = "create"
	KindCreateMany Kind = "createMany"
	KindRead       Kind = "read"
	KindCount      Kind = "count"
	KindAggregate  Kind = "aggregate"
	KindUpdate     Kind = "update"
	KindUpsert     Kind = "upsert"
	KindDelete     Kind = "delete"
)

// IsRead reports whether the kind only reads.
func (k Kind) IsRead() bool {
	return k == KindRead || k == KindCount || k == KindAggregate
}

// IsCreate reports whether the kind inserts rows.
func (k Kind) IsCreate() bool {
	return k == KindCreate || k == KindCreateMany
}

// Record is one row, keyed by logical field name.
type Record map[string]any

// IncludeSpec selects a related entity and narrows it.
type IncludeSpec struct {
	Where   Filter
	Include map[string]*IncludeSpec
}

// Aggregation describes an aggregate over one field.
type Aggregation struct {
	Func  AggregateFunc
	Field string
}

// AggregateFunc names a supported aggregate.
type AggregateFunc string

const (
	AggCount AggregateFunc = "count"
	AggSum   AggregateFunc = "sum"
	AggAvg   AggregateFunc = "avg"
	AggMin   AggregateFunc = "min"
	AggMax   AggregateFunc = "max"
)

// Order sorts results by one field.
type Order struct {
	Field string
	Desc  bool
}

// Operation is the pending data access staged for one store call.
type Operation struct {
	Entity    string
	Kind      Kind
	Where     Filter
	Data      Record
	Rows      []Record
	Create    Record
	Include   map[string]*IncludeSpec
	Aggregate *Aggregation
	OrderBy   []Order
	Limit     int
	Offset    int

	// SoftDeleted is set by the soft-delete rewriter when a delete was
	// turned into an update.
	SoftDeleted bool
	// Privileged marks escape-hatch operations that skip soft-delete rewriting.
	Privileged bool
}

// Validate checks the operation shape independent of any policy.
func (op *Operation) Validate() error {
	if op == nil {
		return fmt.Errorf("datastore: nil operation")
	}
	if op.Entity == "" {
		return fmt.Errorf("datastore: operation without entity")
	}
	switch op.Kind {
	case KindCreate:
		if len(op.Data) == 0 {
			return fmt.Errorf("datastore: create %s without data", op.Entity)
		}
	case KindCreateMany:
		if len(op.Rows) == 0 {
			return fmt.Errorf("datastore: createMany %s without rows", op.Entity)
		}
	case KindUpdate:
		if len(op.Data) == 0 {
			return fmt.Errorf("datastore: update %s without data", op.Entity)
		}
	case KindUpsert:
		if len(op.Create) == 0 {
			return fmt.Errorf("datastore: upsert %s without create branch", op.Entity)
		}
	case KindAggregate:
		if op.Aggregate == nil {
			return fmt.Errorf("datastore: aggregate %s without aggregation", op.Entity)
		}
	case KindRead, KindCount, KindDelete:
	default:
		return fmt.Errorf("datastore: unknown operation kind %q", op.Kind)
	}
	if op.Limit < 0 || op.Offset < 0 {
		return fmt.Errorf("datastore: negative limit or offset")
	}
	return nil
}

// Clone deep-copies the operation so interceptors never touch caller state.
func (op *Operation) Clone() *Operation {
	if op == nil {
		return nil
	}
	out := *op
	out.Where = op.Where.Clone()
	out.Data = op.Data.Clone()
	out.Create = op.Create.Clone()
	if op.Rows != nil {
		out.Rows = make([]Record, len(op.Rows))
		for i, row := range op.Rows {
			out.Rows[i] = row.Clone()
		}
	}
	out.Include = cloneIncludes(op.Include)
	if op.Aggregate != nil {
		agg := *op.Aggregate
		out.Aggregate = &agg
	}
	if op.OrderBy != nil {
		out.OrderBy = append([]Order(nil), op.OrderBy...)
	}
	return &out
}

func cloneIncludes(in map[string]*IncludeSpec) map[string]*IncludeSpec {
	if in == nil {
		return nil
	}
	out := make(map[string]*IncludeSpec, len(in))
	for name, spec := range in {
		if spec == nil {
			out[name] = &IncludeSpec{}
			continue
		}
		out[name] = &IncludeSpec{Where: spec.Where.Clone(), Include: cloneIncludes(spec.Include)}
	}
	return out
}

// Clone copies the record, recursing into nested maps and slices.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-like values.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []Record:
		out := make([]Record, len(t))
		for i, item := range t {
			out[i] = item.Clone()
		}
		return out
	case Filter:
		return t.Clone()
	default:
		return v
	}
}

// Result is what a store returns for one dispatched operation.
type Result struct {
	Records  []Record
	Count    int64
	Affected int64
	Value    any
}

// Store is the external persistence engine. Each Dispatch is exactly one
// underlying store call.
type Store interface {
	Dispatch(ctx context.Context, op *Operation) (Result, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, op *Operation) (Result, error)

// Dispatch calls f.
func (f StoreFunc) Dispatch(ctx context.Context, op *Operation) (Result, error) {
	return f(ctx, op)
}
