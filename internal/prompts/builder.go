// Package prompts assembles the generation prompt sent to the completion
// model: a fixed instruction scaffold around one exemplar conversation,
// with the simulator mode and the seed's domain selecting extra blocks.
package prompts

import "strings"

// Build renders the full generation prompt. domain selects the policy
// compliance section ("retail", "airline", "telecom"; anything else gets
// the generic template), exemplar is the rendered seed conversation, and
// tools the "- name: description" list the model is restricted to.
func Build(domain string, mode Mode, exemplar, tools string) string {
	spec := specFor(domain)

	sections := make([]string, 0, 10)
	sections = append(sections, preamble)
	if block := mode.block(); block != "" {
		sections = append(sections, block)
	}
	sections = append(sections, "## Example Trajectory:\n"+exemplar)
	sections = append(sections, "## Available Tools:\n"+tools)
	sections = append(sections, spec.formatHeader+"\n"+formatRules)
	if spec.compliance != "" {
		sections = append(sections, spec.compliance)
	}
	sections = append(sections, functionCallRules)

	prohibitions := commonProhibitions
	for _, p := range spec.prohibitions {
		prohibitions += "\n" + p
	}
	sections = append(sections, "## ABSOLUTE PROHIBITIONS:\n"+prohibitions)

	sections = append(sections, requirements)
	sections = append(sections, guidelines)
	sections = append(sections, outputFormat)
	return strings.Join(sections, "\n\n")
}

const preamble = "You are an AI assistant that generates multi-turn conversation data for agent training. Your task is to create new agent trajectories based on existing examples."

const formatRules = `1. **STRICTLY PRESERVE ORIGINAL FORMAT**: You MUST maintain the EXACT format structure from the example trajectory (EXCEPTION: function_call turns may include <think> tags when reasoning is needed)
2. **NO SYSTEM PROMPT GENERATION**: Do NOT generate any SYSTEM messages - follow the system prompt from the original example and that will be preserved separately
3. **TOOL CONSTRAINT ADHERENCE**: You MUST STRICTLY use ONLY the tools listed in the "Available Tools" section above. DO NOT use any tools outside this specified allowed tool set. This is MANDATORY.
4. **FORMAT CONSISTENCY**: Maintain identical conversation structure, role naming conventions, and response patterns as shown in the example (EXCEPTION: function_call turns may include <think> tags when reasoning is added)
5. **TURN COUNT MATCHING**: Generate approximately the SAME NUMBER of conversation turns as the example trajectory - the generated conversation should have a comparable length and depth to the sample data`

// Quoted rather than raw because the text itself carries backticks.
const functionCallRules = "## FUNCTION_CALL TURN REQUIREMENTS:\n" +
	"1. **REASONING IN THINK TAGS**: When making function calls, add brief reasoning (1-3 sentences) inside `<think> </think>` tags ONLY in FUNCTION_CALL turns after you output 'FUNCTION_CALL:'\n" +
	"2. **SELECTIVE REASONING**: Not every function call needs reasoning. Only include it when it helps explain the complex decision-making process\n" +
	"3. **STRICT TURN CONSTRAINT**: Reasoning in `<think> </think>` tags should ONLY appear in FUNCTION_CALL turns, NEVER in HUMAN, GPT, OBSERVATION or additional turns\n" +
	"4. **FORMAT REQUIREMENT**: If reasoning is included, the FUNCTION_CALL turn are allowed to add the thinking sentences instead of only JSON format. You should follow this format:\n" +
	"   ```\n" +
	"   FUNCTION_CALL:\n" +
	"   <think>\n" +
	"   Brief reasoning about why this function call is needed (1-3 sentences). Ended with: I will call the function <function_name>.\n" +
	"   </think>\n" +
	"   {\"name\": \"function_name\", \"arguments\": {...}}\n" +
	"   ```"

const commonProhibitions = `- DO NOT use ANY tools that are not explicitly listed in the "Available Tools" section above
- DO NOT change the conversation format structure (human/gpt roles, value formatting, etc.) - EXCEPTION: function_call turns may include <think> tags when reasoning is needed
- DO NOT violate any fixed formatting elements, tool specifications, or requirements in system instructions from the example - EXCEPTION: function_call turns may include <think> tags when reasoning is added
- DO NOT generate significantly fewer or more turns than the example trajectory
- DO NOT invent or create new tools - use ONLY the provided tools`

const requirements = `## Requirements:
1. Generate a completely NEW scenario/task that is different from the example but requires similar problem-solving patterns
2. Create a multi-turn conversation between Human and Assistant that demonstrates systematic problem-solving
3. The conversation should show the agent's reasoning process and step-by-step approach
4. **Start directly with a HUMAN message - do not include the SYSTEM content**
5. **CRITICAL: Ensure the generated conversation has approximately the same number of turns as the example trajectory**`

const guidelines = `## Agent Behavior Guidelines:
- Think step by step and explain reasoning
- Use ONLY the tools listed in the "Available Tools" section above - no exceptions
- Provide clear and helpful responses
- Maintain conversation flow and context
- Generate a conversation with comparable depth and turn count to the example
- Strictly adhere to the provided tool constraints without deviation`

const outputFormat = `## Output Format:
Generate the conversation:
HUMAN: [user message content]
ASSISTANT: [assistant reply content]
HUMAN: [user message content]
ASSISTANT: [assistant reply content]
HUMAN: [user message content]
ASSISTANT: [assistant reply content]
...(until the task is finished and the conversation is complete)`
