package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Processor turns a Document into cleaned, overlapping word chunks.
type Processor struct {
	chunkSize    int
	chunkOverlap int
}

// NewProcessor creates a processor with the given chunking config.
func NewProcessor(cfg Config) *Processor {
	cfg.SetDefaults()
	return &Processor{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
	}
}

// Process detects the document format, renders structured records into
// sentence form, cleans the text and chunks it. The detected format is
// returned alongside the chunks so callers can persist it.
func (p *Processor) Process(doc Document) ([]Chunk, Format, error) {
	format := DetectFormat(doc)

	text, err := p.renderContent(doc, format)
	if err != nil {
		return nil, format, err
	}

	cleaned := Clean(text)
	if cleaned == "" {
		return nil, format, fmt.Errorf("document %s has no indexable content", doc.ID)
	}

	chunks := p.chunkWords(cleaned)
	for i := range chunks {
		meta := map[string]interface{}{
			"document_id": doc.ID,
			"source":      doc.Source,
			"data_format": string(format),
		}
		for k, v := range doc.Metadata {
			if _, taken := meta[k]; !taken {
				meta[k] = v
			}
		}
		chunks[i].Metadata = meta
	}

	return chunks, format, nil
}

func (p *Processor) renderContent(doc Document, format Format) (string, error) {
	switch format {
	case FormatText:
		return doc.Content, nil
	case FormatJSON, FormatGenericRecord:
		record, err := parseRecord(doc.Content)
		if err != nil {
			return doc.Content, nil
		}
		return renderGeneric(record), nil
	default:
		record, err := parseRecord(doc.Content)
		if err != nil {
			// Format was picked from a source heuristic but the content is
			// not a record. Treat it as text.
			return doc.Content, nil
		}
		return renderRecord(format, record), nil
	}
}

func parseRecord(content string) (map[string]interface{}, error) {
	var record map[string]interface{}
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Clean collapses whitespace and strips characters outside word characters,
// spaces and basic punctuation.
func Clean(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case strings.ContainsRune(".,;:!?'\"()-/@$%&", r):
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// chunkWords windows the cleaned text into chunkSize-word chunks with
// chunkOverlap words shared between consecutive chunks. The final chunk may
// be shorter.
func (p *Processor) chunkWords(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := p.chunkSize - p.chunkOverlap
	if step <= 0 {
		step = p.chunkSize
	}

	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := start + p.chunkSize
		if end > len(words) {
			end = len(words)
		}

		chunks = append(chunks, Chunk{
			Content:        strings.Join(words[start:end], " "),
			Index:          len(chunks),
			WordCount:      end - start,
			StartWordIndex: start,
			EndWordIndex:   end,
		})

		if end == len(words) {
			break
		}
	}

	return chunks
}
