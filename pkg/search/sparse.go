package search

import (
	"math"
	"sort"
	"sync"
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// indexedDoc is one document's sparse representation.
type indexedDoc struct {
	content  string
	source   string
	metadata map[string]interface{}
	terms    map[string]int
	length   int
}

// TermIndex is an in-memory inverted index for BM25 scoring. It covers the
// working set only; capacity bounds the warm-up from the vector store.
type TermIndex struct {
	mu       sync.RWMutex
	docs     map[string]*indexedDoc
	postings map[string]map[string]bool
	totalLen int
	capacity int
}

// NewTermIndex creates an index bounded to capacity documents. Zero or
// negative means 10000.
func NewTermIndex(capacity int) *TermIndex {
	if capacity <= 0 {
		capacity = 10000
	}
	return &TermIndex{
		docs:     make(map[string]*indexedDoc),
		postings: make(map[string]map[string]bool),
		capacity: capacity,
	}
}

// Add indexes a document's terms. Re-adding an id replaces the previous
// entry. Returns false when the index is at capacity and the id is new.
func (t *TermIndex) Add(id, content, source string, metadata map[string]interface{}) bool {
	tokens := Tokenize(content)

	terms := make(map[string]int)
	for _, tok := range tokens {
		terms[tok]++
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.docs[id]; ok {
		t.removeLocked(id, existing)
	} else if len(t.docs) >= t.capacity {
		return false
	}

	doc := &indexedDoc{
		content:  content,
		source:   source,
		metadata: metadata,
		terms:    terms,
		length:   len(tokens),
	}
	t.docs[id] = doc
	t.totalLen += doc.length

	for term := range terms {
		posting, ok := t.postings[term]
		if !ok {
			posting = make(map[string]bool)
			t.postings[term] = posting
		}
		posting[id] = true
	}
	return true
}

// Remove drops a document from the index.
func (t *TermIndex) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if doc, ok := t.docs[id]; ok {
		t.removeLocked(id, doc)
	}
}

func (t *TermIndex) removeLocked(id string, doc *indexedDoc) {
	for term := range doc.terms {
		if posting, ok := t.postings[term]; ok {
			delete(posting, id)
			if len(posting) == 0 {
				delete(t.postings, term)
			}
		}
	}
	t.totalLen -= doc.length
	delete(t.docs, id)
}

// Len returns the number of indexed documents.
func (t *TermIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.docs)
}

// Search scores documents containing query terms with BM25 and returns those
// at or above threshold, sorted descending, at most topK.
func (t *TermIndex) Search(query string, topK int, threshold float64, filters map[string]interface{}) []Result {
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.docs)
	if n == 0 {
		return nil
	}
	avgLen := float64(t.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		posting, ok := t.postings[term]
		if !ok {
			continue
		}

		// Simplified IDF over the working set.
		idf := math.Log(1 + float64(n)/float64(len(posting)))

		for id := range posting {
			doc := t.docs[id]
			tf := float64(doc.terms[term])
			norm := bm25K1 * (1 - bm25B + bm25B*float64(doc.length)/avgLen)
			scores[id] += idf * (tf * (bm25K1 + 1)) / (tf + norm)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		doc := t.docs[id]
		if !matchesFilters(doc.metadata, filters) {
			continue
		}
		if score < threshold {
			continue
		}
		results = append(results, Result{
			ID:       id,
			Content:  doc.content,
			Source:   doc.source,
			Score:    score,
			Metadata: copyMetadata(doc.metadata),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func matchesFilters(metadata, filters map[string]interface{}) bool {
	for key, want := range filters {
		got, ok := metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func copyMetadata(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata)+4)
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
