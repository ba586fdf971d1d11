package jsondiff

import "sort"

// ApplyObjectDiff applies ops to a deep copy of base and returns the result.
// base is never mutated. Unknown operation tags fail with
// ErrMalformedOperation; precondition violations fail with
// ErrOperationPreconditionViolated (spec.md §4.1).
func ApplyObjectDiff(ops ObjectOperationSet, base map[string]Value) (map[string]Value, error) {
	out := DeepCopy(base).(map[string]Value)
	if out == nil {
		out = make(map[string]Value)
	}

	for _, key := range sortedOpKeys(ops) {
		if err := applyFieldOp(out, key, ops[key]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sortedOpKeys(ops ObjectOperationSet) []string {
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func applyFieldOp(obj map[string]Value, key string, op Operation) error {
	cur, exists := obj[key]

	switch o := op.(type) {
	case Add:
		if exists {
			return ErrOperationPreconditionViolated{Path: key, Message: "add to existing key"}
		}
		obj[key] = DeepCopy(o.Value)

	case Remove:
		if !exists {
			return ErrOperationPreconditionViolated{Path: key, Message: "remove of absent key"}
		}
		delete(obj, key)

	case Replace:
		obj[key] = DeepCopy(o.Value)

	case Increment:
		n, ok := AsFloat64(cur)
		if !exists || !ok {
			return ErrOperationPreconditionViolated{Path: key, Message: "increment of non-number"}
		}
		obj[key] = n + o.Delta

	case List:
		list, ok := cur.([]Value)
		if !exists || !ok {
			return ErrOperationPreconditionViolated{Path: key, Message: "list op on non-list"}
		}
		newList, err := applyListOps(list, o.Items)
		if err != nil {
			return err
		}
		obj[key] = newList

	case Object:
		child, ok := cur.(map[string]Value)
		if !exists || !ok {
			return ErrOperationPreconditionViolated{Path: key, Message: "object op on non-object"}
		}
		newChild, err := ApplyObjectDiff(o.Fields, child)
		if err != nil {
			return err
		}
		obj[key] = newChild

	case DMP:
		s, ok := cur.(string)
		if !exists || !ok {
			return ErrOperationPreconditionViolated{Path: key, Message: "dmp op on non-string"}
		}
		newStr, err := applyDMP(o.Patch, s)
		if err != nil {
			return err
		}
		obj[key] = newStr

	default:
		return ErrMalformedOperation{Message: "unknown operation at " + key}
	}

	return nil
}

// listEntry is a decoded List operation key: the real pre-image index it
// addresses and, for insertions, its ordinal within that gap (0 means "the
// real element itself").
type listEntry struct {
	baseIdx int
	ordinal int
	op      Operation
}

func applyListOps(base []Value, items map[int]Operation) ([]Value, error) {
	entries := make([]listEntry, 0, len(items))
	for key, op := range items {
		entries = append(entries, listEntry{baseIdx: key / listStride, ordinal: key % listStride, op: op})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].baseIdx != entries[j].baseIdx {
			return entries[i].baseIdx < entries[j].baseIdx
		}
		return entries[i].ordinal < entries[j].ordinal
	})

	byBase := make(map[int][]listEntry, len(entries))
	for _, e := range entries {
		byBase[e.baseIdx] = append(byBase[e.baseIdx], e)
	}

	out := make([]Value, 0, len(base))
	for idx := 0; idx <= len(base); idx++ {
		for _, e := range byBase[idx] {
			if e.ordinal == 0 {
				continue // the real element itself, handled below
			}
			add, ok := e.op.(Add)
			if !ok {
				return nil, ErrMalformedOperation{Message: "non-add operation used as list insertion"}
			}
			out = append(out, DeepCopy(add.Value))
		}

		if idx == len(base) {
			break
		}

		real, hasReal := realEntry(byBase[idx])
		if !hasReal {
			out = append(out, DeepCopy(base[idx]))
			continue
		}

		switch o := real.(type) {
		case Remove:
			// element dropped

		case Replace:
			out = append(out, DeepCopy(o.Value))

		case Increment:
			n, ok := AsFloat64(base[idx])
			if !ok {
				return nil, ErrOperationPreconditionViolated{Path: "[]", Message: "increment of non-number"}
			}
			out = append(out, n+o.Delta)

		case List:
			child, ok := base[idx].([]Value)
			if !ok {
				return nil, ErrOperationPreconditionViolated{Path: "[]", Message: "list op on non-list"}
			}
			newChild, err := applyListOps(child, o.Items)
			if err != nil {
				return nil, err
			}
			out = append(out, newChild)

		case Object:
			child, ok := base[idx].(map[string]Value)
			if !ok {
				return nil, ErrOperationPreconditionViolated{Path: "[]", Message: "object op on non-object"}
			}
			newChild, err := ApplyObjectDiff(o.Fields, child)
			if err != nil {
				return nil, err
			}
			out = append(out, newChild)

		case DMP:
			s, ok := base[idx].(string)
			if !ok {
				return nil, ErrOperationPreconditionViolated{Path: "[]", Message: "dmp op on non-string"}
			}
			newStr, err := applyDMP(o.Patch, s)
			if err != nil {
				return nil, err
			}
			out = append(out, newStr)

		default:
			return nil, ErrMalformedOperation{Message: "unexpected operation on list element"}
		}
	}

	return out, nil
}

func realEntry(entries []listEntry) (Operation, bool) {
	for _, e := range entries {
		if e.ordinal == 0 {
			return e.op, true
		}
	}
	return nil, false
}
