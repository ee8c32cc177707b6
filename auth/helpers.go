package auth

import (
	"maps"
	"strings"

	"github.com/goliatone/go-bankauth/core"
)

// firstField returns the first non-empty value among keys of a decoded
// token endpoint body.
func firstField(decoded map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := decoded[key]; ok && value != nil {
			if text := core.ReadAnyString(value); text != "" {
				return text
			}
		}
	}
	return ""
}

// normalizeScopes trims and drops case-insensitive duplicates, keeping the
// first spelling.
func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" || seen[strings.ToLower(scope)] {
			continue
		}
		seen[strings.ToLower(scope)] = true
		out = append(out, scope)
	}
	return out
}

func copyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return maps.Clone(fields)
}
