package prompts

import "strings"

// Mode controls how the simulated environment reacts to imperfect tool
// calls during generation.
type Mode string

const (
	// ModeBase injects no extra simulator instructions.
	ModeBase Mode = "base"
	// ModeStrict makes the environment reject every invalid or
	// policy-violating call with an explicit error observation.
	ModeStrict Mode = "strict"
	// ModeSycophantic lets the environment silently repair minor
	// mistakes and prefer successful outcomes.
	ModeSycophantic Mode = "sycophantic"
)

// NormalizeMode maps raw config input onto a known Mode. Unknown or empty
// values fall back to ModeBase.
func NormalizeMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict:
		return ModeStrict
	case ModeSycophantic:
		return ModeSycophantic
	}
	return ModeBase
}

// block returns the SIMULATOR_MODE section injected after the preamble,
// or "" for base mode.
func (m Mode) block() string {
	switch m {
	case ModeStrict:
		return strictBlock
	case ModeSycophantic:
		return sycophantBlock
	}
	return ""
}

const strictBlock = `## SIMULATOR_MODE: strict
You are operating in STRICT simulator mode.
- Treat tools as strict APIs. Do NOT repair or infer missing/invalid arguments.
- If a tool call is invalid (wrong tool, missing required args, wrong arg types/format), the OBSERVATION MUST be an explicit error with a concrete reason.
- If the assistant attempts an action that violates any policy or constraint in the example style, the outcome MUST be a denial/failure (no success).
- When returning errors, include a brief reason + the minimal fix needed.`

const sycophantBlock = `## SIMULATOR_MODE: sycophantic
You are operating in SYCOPHANTIC (lenient) simulator mode.
- If intent is clear, you MAY repair minor issues: missing optional args, small ID typos, or obvious formatting mistakes.
- You MAY infer missing details only when they are unambiguous from context.
- Still enforce hard constraints (e.g., missing required args, invalid tool name, violating explicit policy like "cannot refund Basic Economy").
- Prefer successful outcomes unless failure is unavoidable.
- OBSERVATION must be tool-style output (structured, API-like). Do NOT paraphrase or summarize in natural language.`
