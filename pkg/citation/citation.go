package citation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cognidesk/cognidesk/pkg/search"
)

// Style selects the citation formatting convention.
type Style string

const (
	StyleAPA     Style = "apa"
	StyleMLA     Style = "mla"
	StyleChicago Style = "chicago"
	StyleIEEE    Style = "ieee"
	StyleHarvard Style = "harvard"
	StyleSimple  Style = "simple"
)

// Citation is one attributed snippet backing an answer.
type Citation struct {
	ID               string            `json:"id"`
	Index            int               `json:"index"`
	ContentSnippet   string            `json:"content_snippet"`
	SourceIdentifier string            `json:"source_identifier"`
	RelevanceScore   float64           `json:"relevance_score"`
	ConfidenceScore  float64           `json:"confidence_score"`
	Metadata         CitationMeta      `json:"metadata"`
	Formatted        string            `json:"formatted_citation"`
	DedupHash        string            `json:"dedup_hash"`
}

// CitationMeta carries the bibliographic fields used by formatters.
type CitationMeta struct {
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	Date   string `json:"date,omitempty"`
	Type   string `json:"type,omitempty"`
	URL    string `json:"url,omitempty"`
	DOI    string `json:"doi,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
}

// Config configures citation generation.
type Config struct {
	// MaxCitations bounds the output set (default: 5).
	MaxCitations int `yaml:"max_citations,omitempty"`

	// MaxSnippetLength bounds snippets in characters (default: 300).
	MaxSnippetLength int `yaml:"max_snippet_length,omitempty"`

	// Style is the formatting convention (default: simple).
	Style Style `yaml:"style,omitempty"`

	// MinRelevance drops weakly related results (default: 0.3).
	MinRelevance float64 `yaml:"min_relevance,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.MaxCitations <= 0 {
		c.MaxCitations = 5
	}
	if c.MaxSnippetLength <= 0 {
		c.MaxSnippetLength = 300
	}
	if c.Style == "" {
		c.Style = StyleSimple
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = 0.3
	}
}

// Generator produces deduplicated, scored citations from search results.
type Generator struct {
	maxCitations     int
	maxSnippetLength int
	style            Style
	minRelevance     float64

	now func() time.Time
}

// NewGenerator creates a generator from config.
func NewGenerator(cfg Config) *Generator {
	cfg.SetDefaults()
	return &Generator{
		maxCitations:     cfg.MaxCitations,
		maxSnippetLength: cfg.MaxSnippetLength,
		style:            cfg.Style,
		minRelevance:     cfg.MinRelevance,
		now:              time.Now,
	}
}

// Generate builds citations for the question from the given results. Output
// is deduplicated by content hash and indexed from 1.
func (g *Generator) Generate(results []search.Result, question string) []Citation {
	questionTokens := search.Tokenize(question)

	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		relevance := g.relevance(r, questionTokens)
		if relevance < g.minRelevance {
			continue
		}

		meta := metaFrom(r.Metadata)
		snippet := g.selectSnippet(r.Content, questionTokens)

		c := Citation{
			ID:               r.ID,
			ContentSnippet:   snippet,
			SourceIdentifier: r.Source,
			RelevanceScore:   relevance,
			ConfidenceScore:  r.Score,
			Metadata:         meta,
			DedupHash:        dedupHash(r.Source, snippet, meta.Title),
		}
		citations = append(citations, c)
	}

	citations = Deduplicate(citations)
	if len(citations) > g.maxCitations {
		citations = citations[:g.maxCitations]
	}

	for i := range citations {
		citations[i].Index = i + 1
		citations[i].Formatted = Format(citations[i], g.style)
	}
	return citations
}

// Deduplicate removes citations sharing a dedup hash, keeping first
// occurrence. Idempotent.
func Deduplicate(citations []Citation) []Citation {
	seen := make(map[string]bool, len(citations))
	out := citations[:0]
	for _, c := range citations {
		if seen[c.DedupHash] {
			continue
		}
		seen[c.DedupHash] = true
		out = append(out, c)
	}
	return out
}

// dedupHash hashes source, the snippet head and title together.
func dedupHash(source, snippet, title string) string {
	head := snippet
	if len(head) > 50 {
		head = head[:50]
	}

	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte(head))
	h.Write([]byte(title))
	return hex.EncodeToString(h.Sum(nil))
}

func metaFrom(metadata map[string]interface{}) CitationMeta {
	get := func(key string) string {
		if v, ok := metadata[key].(string); ok {
			return v
		}
		return ""
	}
	return CitationMeta{
		Title:  get("title"),
		Author: get("author"),
		Date:   get("date"),
		Type:   get("type"),
		URL:    get("url"),
		DOI:    get("doi"),
		ISBN:   get("isbn"),
	}
}

// Bibliography renders the citations as a numbered reference list.
func Bibliography(citations []Citation) string {
	if len(citations) == 0 {
		return ""
	}

	out := "References:\n"
	for _, c := range citations {
		out += fmt.Sprintf("[%d] %s\n", c.Index, c.Formatted)
	}
	return out
}
