package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeArguments repairs tool arguments from models that JSON-encode
// list and object parameter values as strings. For each top-level parameter
// whose schema declares an array or object type but whose value arrived as a
// string, the string is parsed and substituted. Anything else passes through
// untouched.
func NormalizeArguments(params, schema json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		return params, nil
	}

	var args map[string]json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("arguments are not an object: %w", err)
	}

	wantStructured := structuredParams(schema)
	changed := false
	for key, raw := range args {
		if !wantStructured[key] {
			continue
		}
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			continue // already structured
		}
		trimmed := strings.TrimSpace(str)
		if !strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "{") {
			return nil, fmt.Errorf("parameter %q: expected JSON array or object, got %q", key, clip(trimmed, 80))
		}
		var parsed json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return nil, fmt.Errorf("parameter %q: embedded JSON does not parse: %w", key, err)
		}
		args[key] = parsed
		changed = true
	}

	if !changed {
		return params, nil
	}
	return json.Marshal(args)
}

// structuredParams extracts the top-level parameter names whose schema type
// is array or object.
func structuredParams(schema json.RawMessage) map[string]bool {
	out := make(map[string]bool)
	if len(schema) == 0 {
		return out
	}
	var doc struct {
		Properties map[string]struct {
			Type any `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return out
	}
	for name, prop := range doc.Properties {
		switch t := prop.Type.(type) {
		case string:
			if t == "array" || t == "object" {
				out[name] = true
			}
		case []any:
			for _, v := range t {
				if s, ok := v.(string); ok && (s == "array" || s == "object") {
					out[name] = true
				}
			}
		}
	}
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
