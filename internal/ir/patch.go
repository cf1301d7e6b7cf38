package ir

// Merge patches follow RFC 7386: an object patch merges key by key, null
// deletes, and any non-object patch replaces the target wholesale.

// MergePatch applies patch to target and returns the result.
// target is not modified.
func MergePatch(target IRValue, patch IRValue) IRValue {
	p, ok := patch.(IRObject)
	if !ok {
		return Clone(patch)
	}
	t, ok := target.(IRObject)
	if !ok {
		t = IRObject{}
	}
	out := t.Clone()
	for k, v := range p {
		if KindOf(v) == KindNull {
			delete(out, k)
			continue
		}
		out[k] = MergePatch(out[k], v)
	}
	return out
}

// MergeDiff returns the patch that turns before into after, such that
// MergePatch(before, MergeDiff(before, after)) equals after.
func MergeDiff(before, after IRObject) IRObject {
	patch := IRObject{}
	for k, bv := range before {
		av, ok := after[k]
		if !ok {
			patch[k] = IRNull{}
			continue
		}
		if d, changed := diffValue(bv, av); changed {
			patch[k] = d
		}
	}
	for k, av := range after {
		if _, ok := before[k]; !ok {
			patch[k] = Clone(av)
		}
	}
	return patch
}

// DiffValue is MergeDiff for a single slot: it reports the patch value that
// turns before into after, and whether anything changed.
func DiffValue(before, after IRValue) (IRValue, bool) {
	return diffValue(before, after)
}

func diffValue(before, after IRValue) (IRValue, bool) {
	if Equal(before, after) {
		return nil, false
	}
	bo, bok := before.(IRObject)
	ao, aok := after.(IRObject)
	if bok && aok {
		return MergeDiff(bo, ao), true
	}
	if KindOf(after) == KindNull {
		return IRNull{}, true
	}
	return Clone(after), true
}

// DropNulls returns a copy of v with null object members removed at every
// object depth. A merge patch reads a null member as a delete, so values
// written into a document must not hold one. Arrays are replaced wholesale
// by patches and are copied as they are.
func DropNulls(v IRValue) IRValue {
	obj, ok := v.(IRObject)
	if !ok {
		return Clone(v)
	}
	out := make(IRObject, len(obj))
	for k, member := range obj {
		if KindOf(member) == KindNull {
			continue
		}
		out[k] = DropNulls(member)
	}
	return out
}
