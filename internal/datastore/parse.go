package datastore

import (
	"fmt"
	"regexp"
	"sort"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// ValidField reports whether name is usable as a field name.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

var knownOps = map[string]Op{
	"eq": OpEq, "ne": OpNe, "gt": OpGt, "gte": OpGte,
	"lt": OpLt, "lte": OpLte, "in": OpIn, "contains": OpContains,
}

// ParseFilter converts a decoded JSON object into a Filter. Field values are
// literals, null, or operator objects such as {"gte": 18, "lt": 65}.
func ParseFilter(raw map[string]any) (Filter, error) {
	out := Filter{}
	var extra []Filter
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := raw[k]
		switch k {
		case KeyAnd, KeyOr:
			items, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("datastore: %s expects an array", k)
			}
			branches := make([]Filter, 0, len(items))
			for _, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("datastore: %s items must be objects", k)
				}
				sub, err := ParseFilter(obj)
				if err != nil {
					return nil, err
				}
				branches = append(branches, sub)
			}
			out[k] = branches
		case KeyNot:
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("datastore: NOT expects an object")
			}
			sub, err := ParseFilter(obj)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		default:
			if !ValidField(k) {
				return nil, fmt.Errorf("datastore: invalid field name %q", k)
			}
			conds, err := parseConds(k, v)
			if err != nil {
				return nil, err
			}
			out[k] = conds[0]
			for _, c := range conds[1:] {
				extra = append(extra, Filter{k: c})
			}
		}
	}
	if len(extra) > 0 {
		and, _ := out[KeyAnd].([]Filter)
		out[KeyAnd] = append(and, extra...)
	}
	return out, nil
}

func parseConds(field string, v any) ([]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		if _, isList := v.([]any); isList {
			return nil, fmt.Errorf("datastore: field %s: use {\"in\": [...]} for lists", field)
		}
		return []any{v}, nil
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("datastore: field %s: empty condition", field)
	}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]any, 0, len(obj))
	for _, name := range names {
		op, ok := knownOps[name]
		if !ok {
			return nil, fmt.Errorf("datastore: field %s: unknown operator %q", field, name)
		}
		val := obj[name]
		switch op {
		case OpIn:
			if _, ok := val.([]any); !ok {
				return nil, fmt.Errorf("datastore: field %s: in expects an array", field)
			}
		case OpContains:
			if _, ok := val.(string); !ok {
				return nil, fmt.Errorf("datastore: field %s: contains expects a string", field)
			}
		}
		out = append(out, Cond{Op: op, Value: val})
	}
	return out, nil
}
