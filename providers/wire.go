package providers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-bankauth/core"
)

// ParseTime accepts RFC 3339 timestamps and plain dates. Unparseable values
// yield nil.
func ParseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

// FormatDate renders t as YYYY-MM-DD, or "" for nil.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

// Amount renders a JSON number or numeric string without float rounding.
func Amount(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return ""
	}
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		return strings.TrimSpace(quoted)
	}
	return text
}

// TransactionQueryParams maps a TransactionQuery onto date_from/date_to.
func TransactionQueryParams(query core.TransactionQuery) map[string]string {
	return map[string]string{
		"date_from": FormatDate(query.From),
		"date_to":   FormatDate(query.To),
	}
}
