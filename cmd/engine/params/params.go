package params

// Package params implements the effective-parameter merge rule: for each
// key the first non-empty of configurations > input_params > defaults wins.

// Placeholder is the literal an editor leaves behind for an unset value;
// it counts as empty.
const Placeholder = "{{$placeholder}}"

// IsEmpty reports whether a value counts as unset for merging purposes:
// nil, empty string, empty collection, or the placeholder literal.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == "" || val == Placeholder
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// Merge computes effective parameters. The result is a fresh map; inputs are
// never mutated, so re-evaluation with the same triple is stable.
func Merge(defaults, configurations, inputParams map[string]any) map[string]any {
	effective := make(map[string]any)

	for key, value := range defaults {
		if !IsEmpty(value) {
			effective[key] = value
		}
	}
	for key, value := range inputParams {
		if !IsEmpty(value) {
			effective[key] = value
		}
	}
	for key, value := range configurations {
		if !IsEmpty(value) {
			effective[key] = value
		}
	}

	return effective
}

// String reads a string parameter, returning "" when absent or mistyped
func String(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Int reads an integer parameter, tolerating JSON's float64 decoding
func Int(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Bool reads a boolean parameter
func Bool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// Map reads a nested mapping parameter
func Map(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

// Slice reads a list parameter
func Slice(m map[string]any, key string) []any {
	v, _ := m[key].([]any)
	return v
}
