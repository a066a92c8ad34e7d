// Package seeds loads the seed corpus and derives per-seed facts used by
// the prompt builder and the output records: exemplar text, tool
// summaries, the opening question, the domain, and a stable sample ID.
package seeds

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"strings"

	"github.com/haasonsaas/tauforge/internal/dialogue"
)

// ErrBadSeedFile is returned when the seed file is absent, not a JSON
// array, or empty.
var ErrBadSeedFile = errors.New("seed file missing, not a JSON array, or empty")

// Domains a seed can belong to. Detection falls back to DomainOther,
// which selects the generic prompt template.
const (
	DomainRetail  = "retail"
	DomainAirline = "airline"
	DomainTelecom = "telecom"
	DomainOther   = "other"
)

// Seed is one exemplar conversation from the corpus. Tools is kept raw:
// corpora carry it either as a JSON-encoded string or as a direct array.
type Seed struct {
	System        string          `json:"system"`
	Tools         json.RawMessage `json:"tools,omitempty"`
	Conversations []dialogue.Turn `json:"conversations"`
	Domain        string          `json:"domain,omitempty"`
	HardcaseScore float64         `json:"hardcase_score,omitempty"`
	HardcaseTags  []string        `json:"hardcase_tags,omitempty"`
}

// Store holds the corpus in memory. Loaded once at startup.
type Store struct {
	seeds []Seed
}

// Load reads a JSON array of seeds from path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSeedFile, path)
	}
	var list []Seed
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSeedFile, err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s holds no seeds", ErrBadSeedFile, path)
	}
	return &Store{seeds: list}, nil
}

// Count returns the number of seeds.
func (s *Store) Count() int { return len(s.seeds) }

// Get returns the seed at index i.
func (s *Store) Get(i int) (Seed, error) {
	if i < 0 || i >= len(s.seeds) {
		return Seed{}, fmt.Errorf("seed index %d out of range [0,%d)", i, len(s.seeds))
	}
	return s.seeds[i], nil
}

// Random returns a uniformly chosen seed. Safe for concurrent use.
func (s *Store) Random() Seed {
	return s.seeds[rand.Intn(len(s.seeds))] // #nosec G404 -- sampling, not security
}

// ExemplarText renders a seed's turns for embedding into the generation
// prompt: each turn as its role prefix on one line and the value below,
// turns separated by blank lines. Role "gpt" renders as ASSISTANT.
func ExemplarText(seed Seed) string {
	parts := make([]string, 0, len(seed.Conversations))
	for _, t := range seed.Conversations {
		prefix := ""
		switch t.From {
		case dialogue.RoleHuman:
			prefix = "HUMAN:"
		case dialogue.RoleAssistant:
			prefix = "ASSISTANT:"
		case dialogue.RoleFunctionCall:
			prefix = "FUNCTION_CALL:"
		case dialogue.RoleObservation:
			prefix = "OBSERVATION:"
		default:
			continue
		}
		parts = append(parts, prefix+"\n"+t.Value)
	}
	return strings.Join(parts, "\n\n")
}

// ToolSummaries renders the seed's tools as "- name: description" lines.
// Tools may be a JSON-encoded string or a direct array; entries missing a
// name or description are skipped. Unparseable tools yield "".
func ToolSummaries(seed Seed) string {
	raw := seed.Tools
	if len(raw) == 0 {
		return ""
	}
	// Unwrap one level of string encoding if present.
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = []byte(inner)
	}
	var tools []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &tools); err != nil {
		return ""
	}
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		if t.Name != "" && t.Description != "" {
			lines = append(lines, "- "+t.Name+": "+t.Description)
		}
	}
	return strings.Join(lines, "\n")
}

// ToolsJSON returns the seed's tool schema list as a JSON string, unwrapping
// one level of string encoding if the corpus stored it that way.
func ToolsJSON(seed Seed) string {
	if len(seed.Tools) == 0 {
		return ""
	}
	var inner string
	if err := json.Unmarshal(seed.Tools, &inner); err == nil {
		return inner
	}
	return string(seed.Tools)
}

// Question returns the first human turn's value, or "".
func Question(seed Seed) string {
	for _, t := range seed.Conversations {
		if t.From == dialogue.RoleHuman {
			return t.Value
		}
	}
	return ""
}

// DomainOf returns the seed's declared domain when present, otherwise the
// domain detected from its system and exemplar text.
func DomainOf(seed Seed) string {
	if d := strings.ToLower(strings.TrimSpace(seed.Domain)); d != "" {
		return d
	}
	return DetectDomain(seed.System + "\n" + ExemplarText(seed))
}

// DetectDomain classifies text by domain marker. Retail wins over airline
// wins over telecom; anything else is DomainOther.
func DetectDomain(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "retail"):
		return DomainRetail
	case strings.Contains(lower, "airline"):
		return DomainAirline
	case strings.Contains(lower, "telecom"):
		return DomainTelecom
	}
	return DomainOther
}

// SampleID derives the stable ID recorded in every output row:
// "apigen_<domain>_<hash>", hashing the exemplar turns so the same seed
// always maps to the same ID across runs.
func SampleID(seed Seed) string {
	h := fnv.New64a()
	if data, err := json.Marshal(seed.Conversations); err == nil {
		h.Write(data)
	}
	return fmt.Sprintf("apigen_%s_%d", DomainOf(seed), h.Sum64())
}

// CorpusStats summarizes the corpus for status reporting.
type CorpusStats struct {
	Seeds      int            `json:"seeds"`
	TotalTurns int            `json:"total_turns"`
	AvgTurns   float64        `json:"avg_turns"`
	Domains    map[string]int `json:"domains"`
}

// Stats walks the corpus once.
func (s *Store) Stats() CorpusStats {
	stats := CorpusStats{Seeds: len(s.seeds), Domains: make(map[string]int)}
	for _, seed := range s.seeds {
		stats.TotalTurns += len(seed.Conversations)
		stats.Domains[DomainOf(seed)]++
	}
	if stats.Seeds > 0 {
		stats.AvgTurns = float64(stats.TotalTurns) / float64(stats.Seeds)
	}
	return stats
}
