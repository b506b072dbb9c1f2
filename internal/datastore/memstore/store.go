// Package memstore is an in-process datastore.Store used by tests and by
// STORE_DRIVER=memory deployments.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Matteomic94/ElementMedica-sub007/internal/datastore"
	"github.com/Matteomic94/ElementMedica-sub007/internal/policy"
	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// Store keeps rows per entity in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	policies *policy.Registry
	tables   map[string][]datastore.Record
	newID    func() string
}

// New constructs an empty store for the registered entities.
func New(policies *policy.Registry) *Store {
	return &Store{policies: policies, tables: map[string][]datastore.Record{}, newID: uuid.NewString}
}

// Seed inserts rows verbatim, bypassing every interceptor.
func (s *Store) Seed(entity string, rows ...datastore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tables[entity] = append(s.tables[entity], row.Clone())
	}
}

// Rows returns a copy of every stored row of entity.
func (s *Store) Rows(entity string) []datastore.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.tables[entity])
}

// Dispatch executes one operation.
func (s *Store) Dispatch(ctx context.Context, op *datastore.Operation) (datastore.Result, error) {
	if err := ctx.Err(); err != nil {
		return datastore.Result{}, err
	}
	if err := op.Validate(); err != nil {
		return datastore.Result{}, fmt.Errorf("%w: %v", shared.ErrInvalidOperation, err)
	}
	pol, ok := s.policies.Lookup(op.Entity)
	if !ok {
		return datastore.Result{}, shared.Misconfigured("memstore: unknown entity %q", op.Entity)
	}
	if op.Kind.IsRead() {
		s.mu.RLock()
		defer s.mu.RUnlock()
	} else {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	switch op.Kind {
	case datastore.KindCreate:
		row, err := s.insert(pol, op.Data)
		if err != nil {
			return datastore.Result{}, err
		}
		return datastore.Result{Records: []datastore.Record{row}, Affected: 1}, nil
	case datastore.KindCreateMany:
		return s.insertMany(pol, op.Rows)
	case datastore.KindRead:
		return s.read(pol, op)
	case datastore.KindCount:
		matched, err := s.match(op.Entity, op.Where)
		if err != nil {
			return datastore.Result{}, err
		}
		return datastore.Result{Count: int64(len(matched))}, nil
	case datastore.KindAggregate:
		matched, err := s.match(op.Entity, op.Where)
		if err != nil {
			return datastore.Result{}, err
		}
		value, err := aggregate(matched, op.Aggregate)
		if err != nil {
			return datastore.Result{}, err
		}
		return datastore.Result{Value: value, Count: int64(len(matched))}, nil
	case datastore.KindUpdate:
		return s.update(op.Entity, op.Where, op.Data)
	case datastore.KindUpsert:
		res, err := s.update(op.Entity, op.Where, op.Data)
		if err != nil || res.Affected > 0 {
			return res, err
		}
		row, err := s.insert(pol, op.Create)
		if err != nil {
			return datastore.Result{}, err
		}
		return datastore.Result{Records: []datastore.Record{row}, Affected: 1}, nil
	case datastore.KindDelete:
		return s.remove(op.Entity, op.Where)
	}
	return datastore.Result{}, shared.Invalid("memstore: unsupported kind %q", op.Kind)
}

func (s *Store) insert(pol policy.EntityPolicy, data datastore.Record) (datastore.Record, error) {
	row := data.Clone()
	if id, ok := row[pol.PrimaryKey]; !ok || id == nil || id == "" {
		row[pol.PrimaryKey] = s.newID()
	}
	id := row[pol.PrimaryKey]
	if !comparableKey(id) {
		return nil, shared.Invalid("memstore: %s primary key must be a scalar, got %T", pol.Name, id)
	}
	for _, existing := range s.tables[pol.Name] {
		if comparableKey(existing[pol.PrimaryKey]) && existing[pol.PrimaryKey] == id {
			return nil, fmt.Errorf("memstore: %s %v: %w", pol.Name, row[pol.PrimaryKey], shared.ErrDuplicate)
		}
	}
	s.tables[pol.Name] = append(s.tables[pol.Name], row)
	return row.Clone(), nil
}

func comparableKey(v any) bool {
	return v == nil || reflect.TypeOf(v).Comparable()
}

func (s *Store) insertMany(pol policy.EntityPolicy, rows []datastore.Record) (datastore.Result, error) {
	before := len(s.tables[pol.Name])
	out := make([]datastore.Record, 0, len(rows))
	for _, data := range rows {
		row, err := s.insert(pol, data)
		if err != nil {
			s.tables[pol.Name] = s.tables[pol.Name][:before]
			return datastore.Result{}, err
		}
		out = append(out, row)
	}
	return datastore.Result{Records: out, Affected: int64(len(out))}, nil
}

func (s *Store) read(pol policy.EntityPolicy, op *datastore.Operation) (datastore.Result, error) {
	matched, err := s.match(op.Entity, op.Where)
	if err != nil {
		return datastore.Result{}, err
	}
	sortRows(matched, op.OrderBy)
	total := int64(len(matched))
	if op.Offset > 0 {
		if op.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[op.Offset:]
		}
	}
	if op.Limit > 0 && len(matched) > op.Limit {
		matched = matched[:op.Limit]
	}
	out := cloneAll(matched)
	for _, row := range out {
		if err := s.attach(pol, row, op.Include); err != nil {
			return datastore.Result{}, err
		}
	}
	return datastore.Result{Records: out, Count: total}, nil
}

// attach resolves includes for row. Recursion follows the include tree of
// the operation, which is finite.
func (s *Store) attach(pol policy.EntityPolicy, row datastore.Record, includes map[string]*datastore.IncludeSpec) error {
	for name, spec := range includes {
		rel, ok := pol.Relations[name]
		if !ok {
			return shared.Invalid("memstore: %s has no relation %q", pol.Name, name)
		}
		target, _ := s.policies.Lookup(rel.Entity)
		var where datastore.Filter
		var nested map[string]*datastore.IncludeSpec
		if spec != nil {
			where = spec.Where
			nested = spec.Include
		}
		key := row[rel.LocalField]
		var related []datastore.Record
		if key != nil {
			candidates, err := s.match(rel.Entity, where)
			if err != nil {
				return err
			}
			for _, c := range candidates {
				if ok, _ := (datastore.Filter{rel.RemoteField: key}).Matches(c); ok {
					related = append(related, c.Clone())
				}
			}
		}
		for _, r := range related {
			if err := s.attach(target, r, nested); err != nil {
				return err
			}
		}
		if rel.Many {
			if related == nil {
				related = []datastore.Record{}
			}
			row[name] = related
			continue
		}
		if len(related) == 0 {
			row[name] = nil
		} else {
			row[name] = related[0]
		}
	}
	return nil
}

func (s *Store) match(entity string, where datastore.Filter) ([]datastore.Record, error) {
	var out []datastore.Record
	for _, row := range s.tables[entity] {
		ok, err := where.Matches(row)
		if err != nil {
			return nil, shared.Invalid("%v", err)
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) update(entity string, where datastore.Filter, data datastore.Record) (datastore.Result, error) {
	matched, err := s.match(entity, where)
	if err != nil {
		return datastore.Result{}, err
	}
	out := make([]datastore.Record, 0, len(matched))
	for _, row := range matched {
		for k, v := range data {
			row[k] = datastore.CloneValue(v)
		}
		out = append(out, row.Clone())
	}
	return datastore.Result{Records: out, Affected: int64(len(out))}, nil
}

func (s *Store) remove(entity string, where datastore.Filter) (datastore.Result, error) {
	kept := s.tables[entity][:0:0]
	var removed int64
	for _, row := range s.tables[entity] {
		ok, err := where.Matches(row)
		if err != nil {
			return datastore.Result{}, shared.Invalid("%v", err)
		}
		if ok {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[entity] = kept
	return datastore.Result{Affected: removed}, nil
}

func sortRows(rows []datastore.Record, order []datastore.Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := rows[i][o.Field], rows[j][o.Field]
			if a == nil || b == nil {
				if (a == nil) == (b == nil) {
					continue
				}
				return b == nil
			}
			cmp, ok := datastore.Compare(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func aggregate(rows []datastore.Record, agg *datastore.Aggregation) (any, error) {
	if agg.Func == datastore.AggCount {
		n := 0
		for _, row := range rows {
			if agg.Field == "" || row[agg.Field] != nil {
				n++
			}
		}
		return int64(n), nil
	}
	var (
		best  any
		sum   float64
		count int
	)
	for _, row := range rows {
		v := row[agg.Field]
		if v == nil {
			continue
		}
		switch agg.Func {
		case datastore.AggSum, datastore.AggAvg:
			f, ok := datastore.AsFloat(v)
			if !ok {
				return nil, shared.Invalid("memstore: %s of non-numeric field %s", agg.Func, agg.Field)
			}
			sum += f
			count++
		case datastore.AggMin, datastore.AggMax:
			if best == nil {
				best = v
				continue
			}
			cmp, ok := datastore.Compare(v, best)
			if !ok {
				return nil, shared.Invalid("memstore: cannot order field %s", agg.Field)
			}
			if (agg.Func == datastore.AggMin && cmp < 0) || (agg.Func == datastore.AggMax && cmp > 0) {
				best = v
			}
		default:
			return nil, shared.Invalid("memstore: unknown aggregate %q", agg.Func)
		}
	}
	switch agg.Func {
	case datastore.AggSum:
		return sum, nil
	case datastore.AggAvg:
		if count == 0 {
			return nil, nil
		}
		return sum / float64(count), nil
	}
	return best, nil
}

func cloneAll(rows []datastore.Record) []datastore.Record {
	out := make([]datastore.Record, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
