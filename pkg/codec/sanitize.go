package codec

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// isNestingError reports whether a row encoding failure was caused by the
// encoder's structural depth limit rather than by the row's content.
func isNestingError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "recursion") ||
		strings.Contains(msg, "nest") ||
		strings.Contains(msg, "depth") ||
		strings.Contains(msg, "stack")
}

// repairWebVitalsAttribution performs a best-effort structural repair for a
// known pathological row shape: web vitals events that carried deeply nested
// DOM structures under the INP attribution metadata. Returns true if the
// offending subtree was found and removed.
func repairWebVitalsAttribution(row map[string]interface{}) bool {
	if row["event"] != "$web_vitals" {
		return false
	}

	props, ok := row["properties"].(map[string]interface{})
	if !ok {
		return false
	}
	inp, ok := props["$web_vitals_INP_event"].(map[string]interface{})
	if !ok {
		return false
	}
	attr, ok := inp["attribution"].(map[string]interface{})
	if !ok {
		return false
	}
	if _, ok := attr["interactionTargetElement"]; !ok {
		return false
	}

	delete(attr, "interactionTargetElement")
	return true
}

// sanitizeValue walks a decoded row replacing content the strict encoder
// rejects: invalid byte sequences in strings become the standard replacement
// character, and non-finite floats become their string rendering. The result
// is a new value; the input is not modified.
func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if utf8.ValidString(val) {
			return val
		}
		return strings.ToValidUTF8(val, string(utf8.RuneError))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return strconv.FormatFloat(val, 'g', -1, 64)
		}
		return val
	case float32:
		return sanitizeValue(float64(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			ck, _ := sanitizeValue(k).(string)
			out[ck] = sanitizeValue(item)
		}
		return out
	default:
		return val
	}
}
