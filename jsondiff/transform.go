package jsondiff

// TransformObjectDiff rebases local onto upstream: the returned change set,
// applied after upstream has been applied to base, yields a result
// equivalent to applying the original local change after some reordering
// (spec.md §4.1). base is the ghost data the two change sets diverged from.
func TransformObjectDiff(local, upstream ObjectOperationSet, base map[string]Value) (ObjectOperationSet, error) {
	out := make(ObjectOperationSet, len(local))

	for key, localOp := range local {
		upstreamOp, conflicts := upstream[key]
		if !conflicts {
			out[key] = localOp
			continue
		}

		transformed, keep, err := transformPair(localOp, upstreamOp, base[key])
		if err != nil {
			return nil, err
		}
		if keep {
			out[key] = transformed
		}
	}

	return out, nil
}

// transformPair applies the per-operation-kind transform table of
// spec.md §4.1's §4.1 table to one (local, upstream) pair targeting the
// same path, whose pre-transform value was subBase.
func transformPair(local, upstream Operation, subBase Value) (Operation, bool, error) {
	switch l := local.(type) {
	case Add:
		switch upstream.(type) {
		case Add, Remove, Increment:
			return local, true, nil
		default: // Replace, List, Object, DMP
			return nil, false, nil
		}

	case Remove:
		switch upstream.(type) {
		case Remove:
			return nil, false, nil // already removed
		default: // Add (n/a, kept defensively), Replace, Increment, List, Object, DMP
			return local, true, nil
		}

	case Replace:
		switch upstream.(type) {
		case Add, Replace:
			return nil, false, nil // upstream wins
		default: // Remove, Increment, List, Object, DMP
			return local, true, nil
		}

	case Increment:
		switch u := upstream.(type) {
		case Add:
			return local, true, nil // n/a, kept defensively
		case Increment:
			_ = u
			return local, true, nil // increments commute
		default: // Remove, Replace, List, Object, DMP
			return nil, false, nil
		}

	case List:
		switch u := upstream.(type) {
		case Add:
			return local, true, nil // n/a, kept defensively
		case List:
			items, err := transformListItems(l.Items, u.Items, subBase)
			if err != nil {
				return nil, false, err
			}
			if len(items) == 0 {
				return nil, false, nil
			}
			return List{Items: items}, true, nil
		default: // Remove, Replace, Increment, Object (structural conflict), DMP
			return nil, false, nil
		}

	case Object:
		switch u := upstream.(type) {
		case Add:
			return local, true, nil // n/a, kept defensively
		case Object:
			sub, _ := subBase.(map[string]Value)
			fields, err := TransformObjectDiff(l.Fields, u.Fields, sub)
			if err != nil {
				return nil, false, err
			}
			if len(fields) == 0 {
				return nil, false, nil
			}
			return Object{Fields: fields}, true, nil
		default: // Remove, Replace, Increment, List (structural conflict), DMP
			return nil, false, nil
		}

	case DMP:
		switch u := upstream.(type) {
		case Add:
			return local, true, nil // n/a, kept defensively
		case DMP:
			baseStr, _ := subBase.(string)
			rebased, ok := dmpTransform(l.Patch, u.Patch, baseStr)
			if !ok {
				return nil, false, nil // upstream wins, caller should re-diff
			}
			return DMP{Patch: rebased}, true, nil
		default: // Remove, Replace, Increment, List, Object
			return nil, false, nil
		}

	default:
		return nil, false, ErrMalformedOperation{Message: "unknown local operation in transform"}
	}
}

// transformListItems rebases a List operation's items map the same way
// TransformObjectDiff rebases an ObjectOperationSet, addressing items by
// their decoded pre-image index instead of a string key.
func transformListItems(local, upstream map[int]Operation, subBase Value) (map[int]Operation, error) {
	baseList, _ := subBase.([]Value)

	out := make(map[int]Operation, len(local))
	for key, localOp := range local {
		upstreamOp, conflicts := upstream[key]
		if !conflicts {
			out[key] = localOp
			continue
		}

		var elemBase Value
		if idx := key / listStride; key%listStride == 0 && idx < len(baseList) {
			elemBase = baseList[idx]
		}

		transformed, keep, err := transformPair(localOp, upstreamOp, elemBase)
		if err != nil {
			return nil, err
		}
		if keep {
			out[key] = transformed
		}
	}
	return out, nil
}
