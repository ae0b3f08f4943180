package index

import (
	"encoding/json"
	"strconv"
)

// Flatten maps a property tree to dotted keys and their keyword text. Null values are
// not indexed.
func Flatten(props map[string]any) map[string]string {
	out := make(map[string]string, len(props))
	flattenInto(out, "", props)
	return out
}

func flattenInto(out map[string]string, prefix string, props map[string]any) {
	for key, value := range props {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flattenInto(out, path, nested)
			continue
		}
		if value == nil {
			continue
		}
		out[path] = Text(value)
	}
}

// Text renders a property value in the canonical form used for equality filters.
func Text(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
