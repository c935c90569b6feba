package citation

import (
	"strings"
	"time"
	"unicode"

	"github.com/cognidesk/cognidesk/pkg/search"
)

// relevance computes the enhanced relevance score:
// 0.4·base + 0.2·quality + 0.2·overlap + 0.1·credibility + 0.1·recency,
// capped at 1.0.
func (g *Generator) relevance(r search.Result, questionTokens []string) float64 {
	score := 0.4*clamp01(r.Score) +
		0.2*contentQuality(r.Content) +
		0.2*keywordOverlap(r.Content, questionTokens) +
		0.1*sourceCredibility(r.Source, r.Metadata) +
		0.1*g.recency(r.Metadata)
	return clamp01(score)
}

// contentQuality scores structural signals of well-formed content.
func contentQuality(content string) float64 {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	score := 0.0
	words := strings.Fields(trimmed)

	// Word-count band: substantial but not a wall of text.
	if len(words) >= 20 && len(words) <= 300 {
		score += 0.3
	} else if len(words) >= 10 {
		score += 0.15
	}

	// Sentence structure.
	sentences := splitSentences(trimmed)
	if len(sentences) >= 2 {
		score += 0.2
	}

	first := []rune(trimmed)[0]
	if unicode.IsUpper(first) {
		score += 0.2
	}
	if strings.ContainsAny(string(trimmed[len(trimmed)-1]), ".!?") {
		score += 0.15
	}
	if strings.ContainsAny(trimmed, "0123456789") || strings.ContainsAny(trimmed, ":;()") {
		score += 0.15
	}

	return clamp01(score)
}

// keywordOverlap is |Q∩D| / |Q| over stop-word-filtered tokens.
func keywordOverlap(content string, questionTokens []string) float64 {
	if len(questionTokens) == 0 {
		return 0
	}

	docTokens := make(map[string]bool)
	for _, tok := range search.Tokenize(content) {
		docTokens[tok] = true
	}

	matched := 0
	for _, tok := range questionTokens {
		if docTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(questionTokens))
}

var credibleDomains = []string{
	".gov", ".edu", ".org", "wikipedia", "docs.", "documentation",
	"official", "manual", "reference",
}

// sourceCredibility starts at 0.5 and adds bonuses for credible domains and
// bibliographic completeness.
func sourceCredibility(source string, metadata map[string]interface{}) float64 {
	score := 0.5

	lower := strings.ToLower(source)
	for _, domain := range credibleDomains {
		if strings.Contains(lower, domain) {
			score += 0.2
			break
		}
	}

	has := func(key string) bool {
		v, ok := metadata[key].(string)
		return ok && v != ""
	}
	if has("author") {
		score += 0.1
	}
	if has("date") {
		score += 0.1
	}
	if has("doi") || has("isbn") {
		score += 0.1
	}

	return clamp01(score)
}

// recency steps down with indexed_at age. Unknown age gets the middle band.
func (g *Generator) recency(metadata map[string]interface{}) float64 {
	raw, ok := metadata["indexed_at"].(string)
	if !ok || raw == "" {
		return 0.6
	}
	indexedAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0.6
	}

	age := g.now().Sub(indexedAt)
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.8
	case age <= 30*24*time.Hour:
		return 0.6
	case age <= 365*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
