package generator

import "github.com/haasonsaas/tauforge/internal/dialogue"

// SampleUsage tracks how often one seed was used and what it yielded.
type SampleUsage struct {
	Count          int    `json:"count"`
	SampleTurns    int    `json:"sample_turns"`
	GeneratedTurns []int  `json:"generated_turns"`
	Domain         string `json:"domain"`
}

// DomainStats aggregates per-domain turn counts.
type DomainStats struct {
	Count      int     `json:"count"`
	TotalTurns int     `json:"total_turns"`
	AvgTurns   float64 `json:"avg_turns"`
}

// Stats summarizes a finished generation run.
type Stats struct {
	TotalConversations int                     `json:"total_conversations"`
	TotalTurns         int                     `json:"total_turns"`
	AvgTurns           float64                 `json:"avg_turns_per_conversation"`
	SampleUsage        map[string]*SampleUsage `json:"sample_usage"`
	UniqueSamples      int                     `json:"unique_samples_used"`
	DomainStatistics   map[string]*DomainStats `json:"domain_statistics"`
}

// Statistics walks the finished conversations once and aggregates per-sample
// and per-domain usage. An empty input yields a zero Stats with non-nil maps.
func Statistics(conversations []dialogue.Conversation) Stats {
	stats := Stats{
		SampleUsage:      map[string]*SampleUsage{},
		DomainStatistics: map[string]*DomainStats{},
	}
	for _, conv := range conversations {
		stats.TotalConversations++
		stats.TotalTurns += len(conv.Conversations)

		sampleID := conv.BasedOnSample
		if sampleID == "" {
			sampleID = "unknown"
		}
		usage, ok := stats.SampleUsage[sampleID]
		if !ok {
			usage = &SampleUsage{
				SampleTurns: conv.SampleTurns,
				Domain:      conv.Domain,
			}
			stats.SampleUsage[sampleID] = usage
		}
		usage.Count++
		usage.GeneratedTurns = append(usage.GeneratedTurns, conv.GeneratedTurns)

		domain := conv.Domain
		if domain == "" {
			domain = "unknown"
		}
		ds, ok := stats.DomainStatistics[domain]
		if !ok {
			ds = &DomainStats{}
			stats.DomainStatistics[domain] = ds
		}
		ds.Count++
		ds.TotalTurns += conv.GeneratedTurns
	}

	if stats.TotalConversations > 0 {
		stats.AvgTurns = float64(stats.TotalTurns) / float64(stats.TotalConversations)
	}
	for _, ds := range stats.DomainStatistics {
		if ds.Count > 0 {
			ds.AvgTurns = float64(ds.TotalTurns) / float64(ds.Count)
		}
	}
	stats.UniqueSamples = len(stats.SampleUsage)
	return stats
}
