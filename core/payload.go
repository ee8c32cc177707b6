package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var (
	accessTokenFields  = []string{"access_token", "token", "accessToken"}
	refreshTokenFields = []string{"refresh_token", "refreshToken"}
	expiresInFields    = []string{"expires_in", "expires", "access_expires", "expiresIn"}
)

// NormalizeTokenPayload maps a decoded token endpoint response onto
// RefreshPayload. Providers disagree on field names, so every known alias is
// tried in order.
func NormalizeTokenPayload(decoded map[string]any) (RefreshPayload, error) {
	if len(decoded) == 0 {
		return RefreshPayload{}, fmt.Errorf("core: token payload is empty")
	}
	if code := ReadAnyString(decoded["error"]); code != "" {
		description := ReadAnyString(decoded["error_description"])
		if description != "" {
			return RefreshPayload{}, fmt.Errorf("core: token endpoint error %s: %s", code, description)
		}
		return RefreshPayload{}, fmt.Errorf("core: token endpoint error %s", code)
	}

	payload := RefreshPayload{
		AccessToken:  firstString(decoded, accessTokenFields),
		RefreshToken: firstString(decoded, refreshTokenFields),
		ExpiresIn:    firstInt64(decoded, expiresInFields),
	}
	if payload.AccessToken == "" {
		return RefreshPayload{}, fmt.Errorf("core: token payload is missing an access token")
	}
	return payload, nil
}

func firstString(decoded map[string]any, fields []string) string {
	for _, field := range fields {
		if value := ReadAnyString(decoded[field]); value != "" {
			return value
		}
	}
	return ""
}

func firstInt64(decoded map[string]any, fields []string) int64 {
	for _, field := range fields {
		if value := ReadAnyInt64(decoded[field]); value > 0 {
			return value
		}
	}
	return 0
}

func ReadAnyString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func ReadAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
