package search

// Field accessors tolerant of the shapes index adapters return: stored
// fields come back as scalars for single values and []interface{} for
// arrays, with all numerics as float64.

func fieldString(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func fieldStrings(fields map[string]interface{}, key string) []string {
	switch v := fields[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fieldFloats(fields map[string]interface{}, key string) []float64 {
	switch v := fields[key].(type) {
	case float64:
		return []float64{v}
	case []float64:
		return v
	case []interface{}:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			if f, ok := item.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

func fieldInt64s(fields map[string]interface{}, key string) []int64 {
	floats := fieldFloats(fields, key)
	if floats == nil {
		return nil
	}
	out := make([]int64, len(floats))
	for i, f := range floats {
		out[i] = int64(f)
	}
	return out
}

func fieldIntPtr(fields map[string]interface{}, key string) *int {
	floats := fieldFloats(fields, key)
	if len(floats) == 0 {
		return nil
	}
	n := int(floats[0])
	return &n
}
