package pipeline

import "strings"

// CheckConfidence estimates how on-topic a hit set is for a query: the
// fraction of hits whose title or snippet contains the query
// (case-insensitive), boosted by a configurable factor and clamped to [0,1].
// The boost rewards a high hit-rate without requiring literal perfection.
// Empty input scores 0.
func CheckConfidence(hits []Hit, query string, boost float64) float64 {
	if len(hits) == 0 {
		return 0
	}
	if boost <= 0 {
		boost = 1.25
	}
	q := strings.ToLower(strings.TrimSpace(query))
	matches := 0
	for _, h := range hits {
		if q == "" {
			continue
		}
		if strings.Contains(strings.ToLower(h.Title), q) || strings.Contains(strings.ToLower(h.Snippet), q) {
			matches++
		}
	}
	fraction := float64(matches) / float64(len(hits))
	score := fraction * boost
	if score > 1 {
		return 1
	}
	return score
}

// SourceDiversity counts the distinct source categories present in a hit set.
// Confidence alone can be gamed by many near-duplicate hits from one source;
// the round loop requires both.
func SourceDiversity(hits []Hit) int {
	seen := make(map[SourceType]struct{})
	for _, h := range hits {
		seen[h.SourceType] = struct{}{}
	}
	return len(seen)
}
