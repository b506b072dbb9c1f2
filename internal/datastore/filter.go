package datastore

import (
	"fmt"
	"sort"
)

// Logical keys inside a Filter.
const (
	KeyAnd = "AND"
	KeyOr  = "OR"
	KeyNot = "NOT"
)

// Filter is a conjunction of field conditions. A value is one of:
// a literal (equality), nil (IS NULL), a Cond, or for the logical keys
// AND/OR a []Filter and for NOT a Filter.
type Filter map[string]any

// Op is a comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

// Cond is an explicit comparison.
type Cond struct {
	Op    Op
	Value any
}

// Eq, Ne, In and friends build conditions.
func Eq(v any) Cond  { return Cond{Op: OpEq, Value: v} }
func Ne(v any) Cond  { return Cond{Op: OpNe, Value: v} }
func Gt(v any) Cond  { return Cond{Op: OpGt, Value: v} }
func Gte(v any) Cond { return Cond{Op: OpGte, Value: v} }
func Lt(v any) Cond  { return Cond{Op: OpLt, Value: v} }
func Lte(v any) Cond { return Cond{Op: OpLte, Value: v} }

// In matches any of values.
func In[T any](values ...T) Cond {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return Cond{Op: OpIn, Value: out}
}

// Contains is a case-insensitive substring match.
func Contains(s string) Cond { return Cond{Op: OpContains, Value: s} }

// Clone deep-copies the filter.
func (f Filter) Clone() Filter {
	if f == nil {
		return nil
	}
	out := make(Filter, len(f))
	for k, v := range f {
		switch t := v.(type) {
		case Filter:
			out[k] = t.Clone()
		case []Filter:
			items := make([]Filter, len(t))
			for i, item := range t {
				items[i] = item.Clone()
			}
			out[k] = items
		case Cond:
			if vals, ok := t.Value.([]any); ok {
				t.Value = append([]any(nil), vals...)
			}
			out[k] = t
		default:
			out[k] = CloneValue(v)
		}
	}
	return out
}

// References reports whether field is constrained anywhere in the filter,
// including inside AND, OR and NOT branches.
func (f Filter) References(field string) bool {
	for k, v := range f {
		switch k {
		case KeyAnd, KeyOr:
			if branches, ok := v.([]Filter); ok {
				for _, b := range branches {
					if b.References(field) {
						return true
					}
				}
			}
		case KeyNot:
			if sub, ok := v.(Filter); ok && sub.References(field) {
				return true
			}
		default:
			if k == field {
				return true
			}
		}
	}
	return false
}

// Fields lists every field the filter constrains, walking AND, OR and NOT,
// sorted and without duplicates.
func (f Filter) Fields() []string {
	seen := map[string]bool{}
	f.collectFields(seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f Filter) collectFields(seen map[string]bool) {
	for k, v := range f {
		switch k {
		case KeyAnd, KeyOr:
			if branches, ok := v.([]Filter); ok {
				for _, b := range branches {
					b.collectFields(seen)
				}
			}
		case KeyNot:
			if sub, ok := v.(Filter); ok {
				sub.collectFields(seen)
			}
		default:
			seen[k] = true
		}
	}
}

// Set overwrites the condition on field, creating the filter if needed.
func (f *Filter) Set(field string, value any) {
	if *f == nil {
		*f = Filter{}
	}
	(*f)[field] = value
}

// Matches evaluates the filter against a record.
func (f Filter) Matches(r Record) (bool, error) {
	for k, v := range f {
		switch k {
		case KeyAnd:
			branches, ok := v.([]Filter)
			if !ok {
				return false, fmt.Errorf("datastore: AND expects []Filter, got %T", v)
			}
			for _, b := range branches {
				ok, err := b.Matches(r)
				if err != nil || !ok {
					return false, err
				}
			}
		case KeyOr:
			branches, ok := v.([]Filter)
			if !ok {
				return false, fmt.Errorf("datastore: OR expects []Filter, got %T", v)
			}
			matched := false
			for _, b := range branches {
				ok, err := b.Matches(r)
				if err != nil {
					return false, err
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
		case KeyNot:
			sub, ok := v.(Filter)
			if !ok {
				return false, fmt.Errorf("datastore: NOT expects Filter, got %T", v)
			}
			ok, err := sub.Matches(r)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		default:
			ok, err := matchValue(r[k], v)
			if err != nil {
				return false, fmt.Errorf("datastore: field %s: %w", k, err)
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}
