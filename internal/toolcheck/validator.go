package toolcheck

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/tauforge/internal/dialogue"
)

// Verdict reports the outcome of a conversation validation pass. When a
// conversation is discarded, Turn is the index of the offending turn (-1
// for conversation-wide failures) and Reason says why.
type Verdict struct {
	OK     bool
	Turn   int
	Reason string
}

func discard(turn int, reason string) Verdict {
	return Verdict{Turn: turn, Reason: reason}
}

// Validate checks every function_call turn against the tool schemas,
// normalizes domain-specific argument formats and re-serializes repaired
// calls back into the turn values. A single invalid call discards the
// whole conversation; the returned turns are nil in that case.
//
// Domain selects the normalization table: "retail" and "telecom" get
// argument rewrites plus post-normalization format checks, every other
// domain gets schema checks only.
func Validate(turns []dialogue.Turn, schemas map[string]Schema, domain string) ([]dialogue.Turn, Verdict) {
	if ContainsThinkCall(turns) {
		return nil, discard(-1, "conversation calls the think tool")
	}

	out := make([]dialogue.Turn, len(turns))
	for i, t := range turns {
		if t.From != dialogue.RoleFunctionCall {
			out[i] = t
			continue
		}
		prefix, call, err := ParseCall(t.Value)
		if err != nil {
			return nil, discard(i, err.Error())
		}
		if reason := checkCall(&call, schemas, domain); reason != "" {
			return nil, discard(i, reason)
		}
		value, err := renderCall(prefix, call)
		if err != nil {
			return nil, discard(i, err.Error())
		}
		out[i] = dialogue.Turn{From: t.From, Value: value}
	}
	return out, Verdict{OK: true, Turn: -1}
}

// checkCall validates one call against the schemas and rewrites its
// arguments in place. A non-empty return is the discard reason.
func checkCall(call *Call, schemas map[string]Schema, domain string) string {
	if call.Name == "" {
		return "function call has no name"
	}
	schema, ok := schemas[call.Name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", call.Name)
	}

	props := schema.Parameters.Properties
	for _, req := range schema.Parameters.Required {
		if _, ok := call.Arguments[req]; !ok {
			return fmt.Sprintf("%s: missing required argument %q", call.Name, req)
		}
	}
	for name := range call.Arguments {
		if _, ok := props[name]; !ok {
			return fmt.Sprintf("%s: undeclared argument %q", call.Name, name)
		}
	}

	for name, value := range call.Arguments {
		prop := props[name]
		if !typeOK(value, prop) {
			return fmt.Sprintf("%s: argument %q is not of type %s", call.Name, name, prop.Type)
		}
		switch domain {
		case "retail":
			fixed := normalizeRetail(name, value)
			if !checkRetail(name, fixed) {
				return fmt.Sprintf("%s: argument %q has invalid retail format", call.Name, name)
			}
			call.Arguments[name] = fixed
		case "telecom":
			fixed := normalizeTelecom(name, value)
			if !checkTelecom(name, fixed) {
				return fmt.Sprintf("%s: argument %q has invalid telecom format", call.Name, name)
			}
			call.Arguments[name] = fixed
		}
	}
	return ""
}

// typeOK checks a decoded argument against the declared schema type.
// Numbers arrive as json.Number; "integer" additionally requires the
// literal to parse as an int64. Undeclared types always pass.
func typeOK(value any, prop Property) bool {
	switch prop.Type {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		return isInteger(value)
	case "array":
		list, ok := value.([]any)
		if !ok {
			return false
		}
		if prop.Items != nil && prop.Items.Type != "" {
			for _, item := range list {
				if !typeOK(item, *prop.Items) {
					return false
				}
			}
		}
		return true
	}
	return true
}

func isNumber(value any) bool {
	switch value.(type) {
	case json.Number, float64, int:
		return true
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case json.Number:
		_, err := v.Int64()
		return err == nil
	case int:
		return true
	}
	return false
}

// renderCall serializes a validated call back into a function_call turn
// value, keeping any <think> prefix verbatim.
func renderCall(prefix string, call Call) (string, error) {
	payload := struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}{Name: call.Name, Arguments: call.Arguments}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("re-serialize %s call: %w", call.Name, err)
	}
	return prefix + string(data), nil
}
