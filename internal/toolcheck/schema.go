// Package toolcheck validates function_call turns against the seed's tool
// schemas and normalizes well-known ID formats. Validation is strict: a
// single invalid call discards the whole conversation.
package toolcheck

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Property describes one parameter in a tool schema.
type Property struct {
	Type  string    `json:"type"`
	Items *Property `json:"items,omitempty"`
}

// Parameters is a tool's argument schema.
type Parameters struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Schema is one tool definition.
type Schema struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// ParseSchemas decodes a tools JSON list into a name-indexed map. Both the
// flat form ({name, description, parameters}) and the OpenAI wrapper form
// ({type: "function", function: {...}}) are accepted. An empty string
// yields an empty map.
func ParseSchemas(toolsJSON string) (map[string]Schema, error) {
	trimmed := strings.TrimSpace(toolsJSON)
	if trimmed == "" {
		return map[string]Schema{}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		return nil, fmt.Errorf("tools JSON is not a list: %w", err)
	}
	schemas := make(map[string]Schema, len(entries))
	for i, raw := range entries {
		var wrapped struct {
			Type     string  `json:"type"`
			Function *Schema `json:"function"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Type == "function" && wrapped.Function != nil {
			schemas[wrapped.Function.Name] = *wrapped.Function
			continue
		}
		var s Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("tool entry %d: %w", i, err)
		}
		if s.Name != "" {
			schemas[s.Name] = s
		}
	}
	return schemas, nil
}
