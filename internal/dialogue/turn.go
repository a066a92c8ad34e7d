// Package dialogue defines the conversation turn model shared by the
// generator, the scorers, and the judge, plus the line-oriented parser
// that reconstructs turns from free-form model output.
package dialogue

// Roles a turn may carry. Assistant turns are stored as "gpt" in the
// output records.
const (
	RoleHuman        = "human"
	RoleAssistant    = "gpt"
	RoleFunctionCall = "function_call"
	RoleObservation  = "observation"
)

// Turn is one utterance in a conversation.
type Turn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// ValidRole reports whether role is one of the four recognized roles.
func ValidRole(role string) bool {
	switch role {
	case RoleHuman, RoleAssistant, RoleFunctionCall, RoleObservation:
		return true
	}
	return false
}

// CheckStructure verifies the structural invariants every output
// conversation must satisfy: at least one turn, known roles, non-empty
// values, a human first turn, and every observation directly after a
// function_call.
func CheckStructure(turns []Turn) bool {
	if len(turns) == 0 {
		return false
	}
	if turns[0].From != RoleHuman {
		return false
	}
	for i, t := range turns {
		if !ValidRole(t.From) || t.Value == "" {
			return false
		}
		if t.From == RoleObservation {
			if i == 0 || turns[i-1].From != RoleFunctionCall {
				return false
			}
		}
	}
	return true
}
