package dialogue

import "encoding/json"

// Conversation is the output record produced from one seed. Tools and
// System are copied verbatim from the seed; the record is never mutated
// once appended to the checkpoint.
type Conversation struct {
	Conversations  []Turn          `json:"conversations"`
	Tools          json.RawMessage `json:"tools"`
	System         string          `json:"system"`
	BasedOnSample  string          `json:"based_on_sample"`
	SampleTurns    int             `json:"sample_turns"`
	GeneratedTurns int             `json:"generated_turns"`
	SampleQuestion string          `json:"sample_question"`
	Domain         string          `json:"domain"`
	SimulatorMode  string          `json:"simulator_mode"`
}

// Sentinel reports whether the record marks an exhausted generation
// attempt rather than a usable conversation.
func (c Conversation) Sentinel() bool {
	return len(c.Conversations) == 0
}
