package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// timestampLayout pads the fraction to a fixed nine digits. Timestamps are
// stored as strings and compared with Cypher string operators (ORDER BY,
// <=), so lexicographic order must equal chronological order; RFC3339Nano
// drops trailing fractional zeros and breaks that.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTimestamp renders t for storage and for inline Cypher comparisons.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// escapeCypherString escapes single quotes and backslashes so a value can be
// inlined into a Cypher string literal.
func escapeCypherString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

// quote renders s as a Cypher string literal.
func quote(s string) string {
	return "'" + escapeCypherString(s) + "'"
}

// stringList renders a Cypher list of string literals.
func stringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// floatList renders a Cypher list of floats, used for stored embeddings.
func floatList(values []float32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// propsString converts a property map to Cypher inline property syntax with
// deterministic key order.
func propsString(props map[string]interface{}) string {
	if len(props) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, cypherValue(props[key])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func cypherValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []string:
		return stringList(v)
	case []float32:
		return floatList(v)
	case time.Time:
		return quote(formatTimestamp(v))
	default:
		// Complex values are stored as JSON strings.
		data, _ := json.Marshal(v)
		return quote(string(data))
	}
}

// Row value coercion. The driver returns int64 for integers, float64 for
// floats and []interface{} for lists; absent properties come back nil.

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asTime(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func asStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asFloat32Slice(v interface{}) []float32 {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, item := range raw {
		switch f := item.(type) {
		case float64:
			out = append(out, float32(f))
		case int64:
			out = append(out, float32(f))
		}
	}
	return out
}

// asAttributes decodes the JSON-encoded attribute blob stored on entity
// nodes.
func asAttributes(v interface{}) map[string]interface{} {
	s, ok := v.(string)
	if !ok || s == "" {
		return map[string]interface{}{}
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal([]byte(s), &attrs); err != nil {
		return map[string]interface{}{}
	}
	return attrs
}
