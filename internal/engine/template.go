package engine

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// RenderTemplate replaces {{field}} placeholders with context values.
// Unknown fields render as the empty string.
func RenderTemplate(tmpl string, context map[string]interface{}) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		field := placeholderPattern.FindStringSubmatch(match)[1]
		val, ok := lookupPath(field, context)
		if !ok || val == nil {
			return ""
		}
		switch v := val.(type) {
		case string:
			return v
		case []string:
			return strings.Join(v, ", ")
		default:
			return fmt.Sprintf("%v", v)
		}
	})
}

// renderValue renders placeholders in every string nested in value
func renderValue(value interface{}, context map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return RenderTemplate(v, context)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = renderValue(item, context)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = renderValue(item, context)
		}
		return out
	default:
		return value
	}
}
