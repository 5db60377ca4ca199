package attendance

import (
	"encoding/json"
	"strings"
)

// ExtractServerMessage pulls a human readable message out of a backend error body.
// Fields are tried in the order error, detail, message; fallback is used when none is a
// non-empty string.
func ExtractServerMessage(body []byte, fallback string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fallback
	}
	for _, key := range []string{"error", "detail", "message"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fallback
}
