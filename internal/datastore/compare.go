package datastore

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

func matchValue(actual any, cond any) (bool, error) {
	c, ok := cond.(Cond)
	if !ok {
		c = Cond{Op: OpEq, Value: cond}
	}
	switch c.Op {
	case OpEq:
		return equal(actual, c.Value), nil
	case OpNe:
		return !equal(actual, c.Value), nil
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("in expects a list, got %T", c.Value)
		}
		for _, v := range values {
			if equal(actual, v) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		s, ok := actual.(string)
		needle, ok2 := c.Value.(string)
		if !ok || !ok2 {
			return false, nil
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(needle)), nil
	case OpGt, OpGte, OpLt, OpLte:
		if actual == nil || c.Value == nil {
			return false, nil
		}
		cmp, ok := compare(actual, c.Value)
		if !ok {
			return false, fmt.Errorf("cannot order %T against %T", actual, c.Value)
		}
		switch c.Op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return isNil(a) && isNil(b)
	}
	if cmp, ok := compare(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Compare orders two scalar values. It reports false when they are not comparable.
func Compare(a, b any) (int, bool) {
	return compare(a, b)
}

func compare(a, b any) (int, bool) {
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), true
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			if ba == bb {
				return 0, true
			}
			if !ba {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}

// AsFloat converts numeric values to float64.
func AsFloat(v any) (float64, bool) {
	return asFloat(v)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
