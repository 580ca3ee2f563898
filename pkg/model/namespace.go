package model

import (
	"encoding/json"
	"strings"
)

// Namespace prefixes that are stripped from incoming keys and values so
// compacted and expanded JSON both map onto the same fields.
var namespacePrefixes = []string{
	"https://w3id.org/edc/v0.0.1/ns/",
	"http://www.w3.org/ns/odrl/2/",
	"https://w3id.org/dspace/v0.8/",
	"edc:",
	"odrl:",
}

// StripNamespace removes a known vocabulary prefix.
func StripNamespace(s string) string {
	for _, p := range namespacePrefixes {
		if strings.HasPrefix(s, p) {
			return s[len(p):]
		}
	}
	return s
}

// idOrString reads either "value" or {"@id": "value"}.
func idOrString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StripNamespace(s)
	}
	var obj struct {
		ID string `json:"@id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return StripNamespace(obj.ID)
	}
	return ""
}

// oneOrMany decodes either a single object or an array of them.
func oneOrMany[T any](raw json.RawMessage) ([]T, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []T
		err := json.Unmarshal(raw, &out)
		return out, err
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
