// Package jsondiff implements the structural diff/patch/transform algebra
// used to express changes to schemaless JSON objects as operations relative
// to a shared "ghost" state.
package jsondiff

import "sort"

// Value is a JSON value: nil, bool, float64, string, []Value, or
// map[string]Value. Decoded JSON numbers are always float64, matching
// encoding/json's default decode target so that diffs computed on decoded
// wire data behave the same as diffs computed on values built in Go code.
type Value = interface{}

// Kind classifies a Value for diff/apply purposes.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

// KindOf returns the structural kind of v.
func KindOf(v Value) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64, int, int64:
		return KindNumber
	case string:
		return KindString
	case []Value:
		return KindList
	case map[string]Value:
		return KindObject
	default:
		return KindNull
	}
}

// AsFloat64 coerces a numeric Value to float64.
func AsFloat64(v Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// DeepEqual reports whether a and b represent the same JSON value.
func DeepEqual(a, b Value) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindNull:
		return true
	case KindBool:
		return a.(bool) == b.(bool)
	case KindNumber:
		fa, _ := AsFloat64(a)
		fb, _ := AsFloat64(b)
		return fa == fb
	case KindString:
		return a.(string) == b.(string)
	case KindList:
		la, lb := a.([]Value), b.([]Value)
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !DeepEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	case KindObject:
		ma, mb := a.(map[string]Value), b.(map[string]Value)
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !DeepEqual(va, vb) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// DeepCopy returns a value with no shared mutable structure with v.
func DeepCopy(v Value) Value {
	switch x := v.(type) {
	case []Value:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = DeepCopy(e)
		}
		return out
	case map[string]Value:
		out := make(map[string]Value, len(x))
		for k, e := range x {
			out[k] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}

// sortedKeys returns the keys of m in canonical (lexicographic) order so
// that operations derived from map iteration are reproducible across peers,
// per spec.md's determinism requirement.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
