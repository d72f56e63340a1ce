package fulfillment

import (
	"encoding/json"
	"fmt"
	"strconv"
)

func propString(props Properties, key string) string {
	if props == nil {
		return ""
	}
	switch v := props[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func propBool(props Properties, key string) bool {
	if props == nil {
		return false
	}
	v, _ := props[key].(bool)
	return v
}

// propInt returns the value as an int pointer, accepting the numeric shapes
// JSON decoding produces.
func propInt(props Properties, key string) *int {
	if props == nil {
		return nil
	}
	switch v := props[key].(type) {
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			n := int(parsed)
			return &n
		}
	}
	return nil
}

func propInt64(props Properties, key string) (int64, bool) {
	if props == nil {
		return 0, false
	}
	switch v := props[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return parsed, true
		}
	case string:
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// propStringSlice normalizes a JSON array of ids into strings.
func propStringSlice(props Properties, key string) []string {
	if props == nil {
		return nil
	}
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatInt(int64(v), 10))
		case json.Number:
			out = append(out, v.String())
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

func propMapSlice(props Properties, key string) []Properties {
	if props == nil {
		return nil
	}
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]Properties, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
