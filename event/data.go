package event

import "strings"

// Event data is a tree of JSON-shaped values: nil, bool, float64/int/int64,
// string, []any, and map[string]any. All helpers here dispatch on those
// kinds with type switches; anything else is treated as an opaque scalar.

// Merge returns a new map combining base and overlay. Nested maps merge
// recursively; lists and scalars are taken wholesale. When overwrite is
// false, keys already present in base win; when true, overlay wins.
func Merge(base, overlay map[string]any, overwrite bool) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		em, emOK := existing.(map[string]any)
		vm, vmOK := v.(map[string]any)
		if emOK && vmOK {
			out[k] = Merge(em, vm, overwrite)
			continue
		}
		if overwrite {
			out[k] = v
		}
	}
	return out
}

// Get resolves a dot-separated path into the data tree. It returns false
// when any segment is missing or traverses a non-map value.
func Get(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	return getSegments(data, strings.Split(path, "."))
}

func getSegments(data map[string]any, segments []string) (any, bool) {
	var cur any = data
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// CloneMap deep-copies a data tree. Lists and nested maps are copied;
// scalars are shared (they are immutable values).
func CloneMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
