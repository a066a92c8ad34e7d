package dialogue

import "strings"

// Recognized line prefixes and the roles they open. Long forms are listed
// before their one-letter shorthands so "HUMAN:" never half-matches "H:".
var linePrefixes = []struct {
	token string
	role  string
}{
	{"HUMAN:", RoleHuman},
	{"H:", RoleHuman},
	{"ASSISTANT:", RoleAssistant},
	{"A:", RoleAssistant},
	{"FUNCTION_CALL:", RoleFunctionCall},
	{"OBSERVATION:", RoleObservation},
}

// Parse reconstructs a turn list from free-form model output.
//
// The parser is a line-oriented state machine. Every line is trimmed
// before prefix matching; a recognized prefix flushes the current turn and
// opens a new one, with the text after the colon as the first accumulated
// line. Non-empty lines accumulate into the open turn; blank lines inside a
// turn are dropped, as are lines before the first prefix. EOF flushes the
// last turn. Turns whose accumulated value trims to nothing are discarded.
// No semantic validation happens here.
func Parse(text string) []Turn {
	var turns []Turn
	role := ""
	var content []string

	flush := func() {
		if role == "" {
			return
		}
		value := strings.TrimSpace(strings.Join(content, "\n"))
		if value != "" {
			turns = append(turns, Turn{From: role, Value: value})
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if token, r, ok := matchPrefix(line); ok {
			flush()
			role = r
			content = []string{strings.TrimSpace(line[len(token):])}
			continue
		}
		if line != "" && role != "" {
			content = append(content, line)
		}
	}
	flush()

	return turns
}

func matchPrefix(line string) (token, role string, ok bool) {
	for _, p := range linePrefixes {
		if strings.HasPrefix(line, p.token) {
			return p.token, p.role, true
		}
	}
	return "", "", false
}
