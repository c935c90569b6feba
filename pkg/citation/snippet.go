package citation

import (
	"strings"
	"unicode/utf8"
)

// selectSnippet picks up to two sentences with the highest keyword overlap
// against the question. When no sentence overlaps, it truncates the content
// at a word boundary.
func (g *Generator) selectSnippet(content string, questionTokens []string) string {
	sentences := splitSentences(content)

	type scored struct {
		index   int
		overlap float64
	}
	var candidates []scored
	for i, sentence := range sentences {
		if overlap := keywordOverlap(sentence, questionTokens); overlap > 0 {
			candidates = append(candidates, scored{index: i, overlap: overlap})
		}
	}

	if len(candidates) > 0 {
		// Stable selection: best two by overlap, emitted in document order.
		best := candidates[0]
		second := scored{index: -1}
		for _, c := range candidates[1:] {
			if c.overlap > best.overlap {
				second = best
				best = c
			} else if second.index == -1 || c.overlap > second.overlap {
				second = c
			}
		}

		picked := []int{best.index}
		if second.index >= 0 {
			picked = append(picked, second.index)
		}
		if len(picked) == 2 && picked[0] > picked[1] {
			picked[0], picked[1] = picked[1], picked[0]
		}

		parts := make([]string, 0, len(picked))
		for _, idx := range picked {
			parts = append(parts, sentences[idx])
		}
		snippet := strings.Join(parts, " ")
		if len(snippet) <= g.maxSnippetLength {
			return snippet
		}
		return truncateAtWord(snippet, g.maxSnippetLength)
	}

	if len(content) <= g.maxSnippetLength {
		return strings.TrimSpace(content)
	}
	return truncateAtWord(content, g.maxSnippetLength)
}

// splitSentences breaks text on terminal punctuation, keeping the
// punctuation with the sentence.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// truncateAtWord cuts text to at most max bytes at a word boundary, never
// splitting a rune, and appends an ellipsis.
func truncateAtWord(text string, max int) string {
	if max <= 3 {
		return "..."
	}

	end := max - 3
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "..."
}
