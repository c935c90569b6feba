package config

import (
	"os"
	"regexp"
	"strings"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} references in a string.
// Unset variables without a default expand to the empty string.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		return fallback
	})
}

// expandEnvInData walks a decoded config tree and expands env references in
// every string leaf.
func expandEnvInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		if strings.Contains(v, "${") {
			return expandEnv(v)
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[key] = expandEnvInData(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, value := range v {
			out[i] = expandEnvInData(value)
		}
		return out
	default:
		return data
	}
}
