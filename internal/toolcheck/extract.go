package toolcheck

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/tauforge/internal/dialogue"
)

var (
	thinkRE         = regexp.MustCompile(`(?s)<think>(.*?)</think>\s*(.*)`)
	toolCallBlockRE = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)
)

// Call is a parsed function call. Argument numbers are kept as json.Number
// so re-serialization does not reformat them.
type Call struct {
	Name      string
	Arguments map[string]any
}

// ParseCall extracts the function call from a function_call turn value.
// An optional leading <think>…</think> block is preserved verbatim (plus a
// trailing newline) in prefix; the call JSON is the first balanced object
// in the remainder. One extraction attempt only.
func ParseCall(value string) (prefix string, call Call, err error) {
	rest := strings.TrimSpace(value)
	if strings.Contains(value, "<think>") && strings.Contains(value, "</think>") {
		if m := thinkRE.FindStringSubmatch(value); m != nil {
			prefix = "<think>" + m[1] + "</think>\n"
			rest = strings.TrimSpace(m[2])
		}
	}

	obj, ok := balancedObject(rest)
	if !ok {
		return "", Call{}, errors.New("no JSON object in function_call value")
	}

	var raw struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return "", Call{}, fmt.Errorf("malformed function call: %w", err)
	}
	call.Name = raw.Name
	call.Arguments = map[string]any{}

	if len(raw.Arguments) > 0 && !bytes.Equal(raw.Arguments, []byte("null")) {
		argsRaw := raw.Arguments
		// Arguments sometimes arrive double-encoded as a JSON string.
		var inner string
		if json.Unmarshal(argsRaw, &inner) == nil {
			argsRaw = json.RawMessage(inner)
		}
		dec := json.NewDecoder(bytes.NewReader(argsRaw))
		dec.UseNumber()
		if err := dec.Decode(&call.Arguments); err != nil {
			return "", Call{}, fmt.Errorf("arguments are not an object: %w", err)
		}
	}
	return prefix, call, nil
}

// balancedObject returns the first balanced {…} substring of s, honoring
// JSON string literals and escapes.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ContainsThinkCall reports whether any turn carries a call to the tool
// named "think", either as a function_call turn or inside a
// <tool_call>…</tool_call> block in any role. Such conversations are
// banned from the output corpus.
func ContainsThinkCall(turns []dialogue.Turn) bool {
	for _, t := range turns {
		if t.From == dialogue.RoleFunctionCall {
			if _, call, err := ParseCall(t.Value); err == nil {
				if call.Name == "think" {
					return true
				}
			} else if hasThinkNameLiteral(t.Value) {
				return true
			}
		}
		for _, m := range toolCallBlockRE.FindAllStringSubmatch(t.Value, -1) {
			var call struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal([]byte(m[1]), &call); err == nil {
				if call.Name == "think" {
					return true
				}
			} else if hasThinkNameLiteral(m[1]) {
				return true
			}
		}
	}
	return false
}

func hasThinkNameLiteral(s string) bool {
	return strings.Contains(s, `"name": "think"`) || strings.Contains(s, `"name":"think"`)
}
