package prompts

import (
	"strings"
	"testing"
)

func TestBuildIncludesExemplarAndTools(t *testing.T) {
	prompt := Build("retail", ModeBase, "HUMAN:\nhi there", "- get_order_details: Look up an order.")
	if !strings.HasPrefix(prompt, "You are an AI assistant") {
		t.Fatalf("expected role preamble first, got %q", prompt[:60])
	}
	if !strings.Contains(prompt, "## Example Trajectory:\nHUMAN:\nhi there") {
		t.Fatalf("expected exemplar section, got %q", prompt)
	}
	if !strings.Contains(prompt, "## Available Tools:\n- get_order_details: Look up an order.") {
		t.Fatalf("expected tools section, got %q", prompt)
	}
}

func TestBuildBaseModeOmitsSimulatorBlock(t *testing.T) {
	prompt := Build("retail", ModeBase, "x", "y")
	if strings.Contains(prompt, "SIMULATOR_MODE") {
		t.Fatalf("base mode must not inject a simulator block, got %q", prompt)
	}
}

func TestBuildStrictMode(t *testing.T) {
	prompt := Build("retail", ModeStrict, "x", "y")
	if !strings.Contains(prompt, "## SIMULATOR_MODE: strict") {
		t.Fatalf("expected strict block header, got %q", prompt)
	}
	if !strings.Contains(prompt, "explicit error with a concrete reason") {
		t.Fatalf("expected strict error instruction, got %q", prompt)
	}
}

func TestBuildSycophanticMode(t *testing.T) {
	prompt := Build("retail", ModeSycophantic, "x", "y")
	if !strings.Contains(prompt, "## SIMULATOR_MODE: sycophantic") {
		t.Fatalf("expected sycophantic block header, got %q", prompt)
	}
	if !strings.Contains(prompt, "Prefer successful outcomes unless failure is unavoidable.") {
		t.Fatalf("expected lenient instruction, got %q", prompt)
	}
}

func TestBuildDomainSections(t *testing.T) {
	tests := []struct {
		domain  string
		want    []string
		wantNot []string
	}{
		{
			domain: "retail",
			want: []string{
				"## CRITICAL RETAIL COMPLIANCE RULES:",
				"Use pending tools for pending orders, delivered tools for delivered orders",
			},
			wantNot: []string{"ABSOLUTE COMPLIANCE"},
		},
		{
			domain: "airline",
			want: []string{
				"CRITICAL FORMAT PRESERVATION REQUIREMENTS - ABSOLUTE COMPLIANCE:",
				"## AIRLINE POLICY COMPLIANCE REQUIREMENTS:",
				"Basic Economy tickets are NON-REFUNDABLE and NON-CHANGEABLE",
				"- DO NOT attempt cancellations/refunds beyond 24 hours or for Basic Economy",
			},
		},
		{
			domain: "telecom",
			want: []string{
				"## TELECOM COMPLIANCE RULES:",
				"Maximum 2GB per refuel transaction",
				`Customer IDs follow "C####" format`,
				"- DO NOT refuel data beyond the 2GB maximum or resume lines with expired contracts",
			},
		},
		{
			domain: "other",
			want:   []string{"CRITICAL FORMAT PRESERVATION REQUIREMENTS:"},
			wantNot: []string{
				"COMPLIANCE RULES",
				"POLICY COMPLIANCE REQUIREMENTS",
				"ABSOLUTE COMPLIANCE",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			prompt := Build(tt.domain, ModeBase, "exemplar", "tools")
			for _, want := range tt.want {
				if !strings.Contains(prompt, want) {
					t.Errorf("prompt missing %q", want)
				}
			}
			for _, not := range tt.wantNot {
				if strings.Contains(prompt, not) {
					t.Errorf("prompt must not contain %q", not)
				}
			}
		})
	}
}

func TestBuildSharedScaffold(t *testing.T) {
	// Every domain carries the same format, prohibition, and output rules.
	for _, domain := range []string{"retail", "airline", "telecom", "other"} {
		prompt := Build(domain, ModeBase, "exemplar", "tools")
		for _, want := range []string{
			"**TURN COUNT MATCHING**",
			"## FUNCTION_CALL TURN REQUIREMENTS:",
			`{"name": "function_name", "arguments": {...}}`,
			"## ABSOLUTE PROHIBITIONS:",
			"- DO NOT invent or create new tools - use ONLY the provided tools",
			"**Start directly with a HUMAN message - do not include the SYSTEM content**",
			"## Agent Behavior Guidelines:",
			"## Output Format:",
			"HUMAN: [user message content]",
		} {
			if !strings.Contains(prompt, want) {
				t.Errorf("domain %s: prompt missing %q", domain, want)
			}
		}
	}
}

func TestBuildSectionOrder(t *testing.T) {
	prompt := Build("telecom", ModeStrict, "exemplar", "tools")
	order := []string{
		"You are an AI assistant",
		"## SIMULATOR_MODE: strict",
		"## Example Trajectory:",
		"## Available Tools:",
		"CRITICAL FORMAT PRESERVATION REQUIREMENTS",
		"## TELECOM COMPLIANCE RULES:",
		"## FUNCTION_CALL TURN REQUIREMENTS:",
		"## ABSOLUTE PROHIBITIONS:",
		"## Requirements:",
		"## Agent Behavior Guidelines:",
		"## Output Format:",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(prompt, marker)
		if idx < 0 {
			t.Fatalf("prompt missing section %q", marker)
		}
		if idx < last {
			t.Errorf("section %q out of order (index %d < %d)", marker, idx, last)
		}
		last = idx
	}
}

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"base", ModeBase},
		{"strict", ModeStrict},
		{"sycophantic", ModeSycophantic},
		{" STRICT ", ModeStrict},
		{"Sycophantic", ModeSycophantic},
		{"", ModeBase},
		{"lenient", ModeBase},
	}
	for _, tt := range tests {
		if got := NormalizeMode(tt.in); got != tt.want {
			t.Errorf("NormalizeMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
