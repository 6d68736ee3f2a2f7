package confmodel

// Merge overlays project on baseline and returns a new document. Neither
// input is modified.
func Merge(baseline, project Mapping, preserved []string) Mapping {
	keep := keySet(preserved)
	out := cloneMapping(baseline)
	for k, pv := range project {
		if keep[k] {
			out[k] = Clone(pv)
			continue
		}
		out[k] = mergeValue(out[k], pv)
	}
	return out
}

func mergeValue(base, override Value) Value {
	bm, bok := base.(Mapping)
	om, ook := override.(Mapping)
	if !bok || !ook {
		return Clone(override)
	}
	out := cloneMapping(bm)
	for k, ov := range om {
		out[k] = mergeValue(out[k], ov)
	}
	return out
}

// Diff returns the parts of runtime that differ from baseline. Preserved
// top-level keys are copied from runtime unconditionally.
func Diff(runtime, baseline Mapping, preserved []string) Mapping {
	keep := keySet(preserved)
	out := make(Mapping)
	for k, rv := range runtime {
		if keep[k] {
			out[k] = Clone(rv)
			continue
		}
		if d, ok := diffValue(rv, baseline[k]); ok {
			out[k] = d
		}
	}
	return out
}

// diffValue reports the value to record for a key and whether the key
// belongs in the result at all.
func diffValue(runtime, baseline Value) (Value, bool) {
	if baseline == nil {
		return Clone(runtime), true
	}
	if Equal(runtime, baseline) {
		return nil, false
	}
	rm, rok := runtime.(Mapping)
	bm, bok := baseline.(Mapping)
	if !rok || !bok {
		return Clone(runtime), true
	}
	out := make(Mapping)
	for k, rv := range rm {
		if d, ok := diffValue(rv, bm[k]); ok {
			out[k] = d
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func keySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
