package ingest

import (
	"encoding/json"
	"unicode/utf8"
)

// TruncateBytes cuts input to at most maxBytes without splitting a UTF-8
// sequence. A non-positive limit keeps nothing.
func TruncateBytes(input string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(input) <= maxBytes {
		return input
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(input[cut]) {
		cut--
	}
	return input[:cut]
}

// rawValue renders a stored JSON value, dropping an explicit null. A value
// longer than maxBytes is stored as a JSON string holding its prefix, so the
// column always holds valid JSON.
func rawValue(raw json.RawMessage, maxBytes int) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if len(raw) <= maxBytes {
		return string(raw)
	}
	prefix := TruncateBytes(string(raw), maxBytes)
	if prefix == "" {
		return ""
	}
	quoted, err := json.Marshal(prefix)
	if err != nil {
		return ""
	}
	return string(quoted)
}
