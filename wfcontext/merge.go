package wfcontext

// deepMerge recurses into mapping-typed values (spec.md §4.5: "Deep-merge
// recurses into mapping-typed values; arrays and scalars are replaced").
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	for k, sv := range src {
		if dv, ok := dst[k]; ok {
			dstMap, dstIsMap := dv.(map[string]interface{})
			srcMap, srcIsMap := sv.(map[string]interface{})
			if dstIsMap && srcIsMap {
				dst[k] = deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = sv
	}
	return dst
}

// depthOf computes the maximum nesting depth of a mapping/array structure.
func depthOf(v interface{}) int {
	switch t := v.(type) {
	case map[string]interface{}:
		max := 0
		for _, child := range t {
			if d := depthOf(child); d > max {
				max = d
			}
		}
		return max + 1
	case []interface{}:
		max := 0
		for _, child := range t {
			if d := depthOf(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}
