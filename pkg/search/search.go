package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cognidesk/cognidesk/pkg/embedding"
	"github.com/cognidesk/cognidesk/pkg/vector"
)

// Type selects the retrieval strategy.
type Type string

const (
	TypeDense  Type = "dense"
	TypeSparse Type = "sparse"
	TypeHybrid Type = "hybrid"
)

// Fusion constants for the hybrid path.
const (
	hybridExpansion     = 3
	relaxedThresholdMul = 0.6
	rrfK                = 60
	rrfWeight           = 0.1
)

// Result is a scored retrieval hit. Scores are normalized within a result
// set.
type Result struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Options parameterize a single search.
type Options struct {
	TopK      int
	Type      Type
	Threshold float64
	Filters   map[string]interface{}
}

// Config configures the searcher.
type Config struct {
	// Collection is the vector store collection searched.
	Collection string `yaml:"collection,omitempty"`

	// DenseWeight and SparseWeight are the hybrid fusion weights.
	DenseWeight  float64 `yaml:"dense_weight,omitempty"`
	SparseWeight float64 `yaml:"sparse_weight,omitempty"`

	// TopK is the default result count (default: 10).
	TopK int `yaml:"top_k,omitempty"`

	// Threshold is the default minimum score.
	Threshold float64 `yaml:"threshold,omitempty"`

	// TermIndexCapacity bounds the in-memory sparse index (default: 10000).
	TermIndexCapacity int `yaml:"term_index_capacity,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.DenseWeight <= 0 {
		c.DenseWeight = 0.7
	}
	if c.SparseWeight <= 0 {
		c.SparseWeight = 0.3
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.TermIndexCapacity <= 0 {
		c.TermIndexCapacity = 10000
	}
}

// Searcher runs dense, sparse and hybrid retrieval over the vector store and
// the in-memory term index.
type Searcher struct {
	engine     *embedding.Engine
	store      vector.Provider
	terms      *TermIndex
	collection string

	denseWeight  float64
	sparseWeight float64
	defaultTopK  int
	defaultMin   float64
}

// NewSearcher wires the searcher to an embedding engine and a vector store.
func NewSearcher(engine *embedding.Engine, store vector.Provider, cfg Config) *Searcher {
	cfg.SetDefaults()
	return &Searcher{
		engine:       engine,
		store:        store,
		terms:        NewTermIndex(cfg.TermIndexCapacity),
		collection:   cfg.Collection,
		denseWeight:  cfg.DenseWeight,
		sparseWeight: cfg.SparseWeight,
		defaultTopK:  cfg.TopK,
		defaultMin:   cfg.Threshold,
	}
}

// IndexDocument adds a chunk to the sparse term index. The dense side is
// populated by the vector store upsert; this keeps the two in step.
func (s *Searcher) IndexDocument(id, content, source string, metadata map[string]interface{}) {
	if !s.terms.Add(id, content, source, metadata) {
		slog.Debug("Term index at capacity, skipping sparse entry", "id", id)
	}
}

// RemoveDocument drops a chunk from the sparse term index.
func (s *Searcher) RemoveDocument(id string) {
	s.terms.Remove(id)
}

// TermIndexSize reports the sparse index size.
func (s *Searcher) TermIndexSize() int {
	return s.terms.Len()
}

// Search runs retrieval with the requested strategy. Hybrid is the default.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.TopK <= 0 {
		opts.TopK = s.defaultTopK
	}
	if opts.Threshold <= 0 {
		opts.Threshold = s.defaultMin
	}

	switch opts.Type {
	case TypeDense:
		return s.denseSearch(ctx, query, opts.TopK, opts.Threshold, opts.Filters)
	case TypeSparse:
		return s.sparseSearch(query, opts.TopK, opts.Threshold, opts.Filters), nil
	case TypeHybrid, "":
		return s.hybridSearch(ctx, query, opts)
	default:
		return nil, fmt.Errorf("unknown search type: %q", opts.Type)
	}
}

func (s *Searcher) denseSearch(ctx context.Context, query string, topK int, threshold float64, filters map[string]interface{}) ([]Result, error) {
	vec, err := s.engine.EncodeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	hits, err := s.store.SearchWithOptions(ctx, s.collection, vec, topK, float32(threshold), filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		source, _ := hit.Metadata["source"].(string)
		results = append(results, Result{
			ID:       hit.ID,
			Content:  hit.Content,
			Score:    float64(hit.Score),
			Source:   source,
			Metadata: copyMetadata(hit.Metadata),
		})
	}
	return results, nil
}

// sparseSearch max-normalizes BM25 scores into [0,1] so thresholds and
// returned scores mean the same thing on every path.
func (s *Searcher) sparseSearch(query string, topK int, threshold float64, filters map[string]interface{}) []Result {
	results := s.terms.Search(query, topK, 0, filters)
	max := maxScore(results)

	filtered := results[:0]
	for _, r := range results {
		r.Score /= max
		if r.Score >= threshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// hybridSearch runs both branches concurrently with an expanded window and a
// relaxed threshold, then fuses the sets.
func (s *Searcher) hybridSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	expandedK := opts.TopK * hybridExpansion
	relaxed := opts.Threshold * relaxedThresholdMul

	var dense, sparse []Result
	var denseErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, denseErr = s.denseSearch(gctx, query, expandedK, relaxed, opts.Filters)
		return nil
	})
	g.Go(func() error {
		sparse = s.sparseSearch(query, expandedK, relaxed, opts.Filters)
		return nil
	})
	_ = g.Wait()

	if denseErr != nil {
		slog.Warn("Dense branch failed, continuing sparse-only", "error", denseErr)
		if len(sparse) == 0 {
			slog.Error("Both retrieval branches empty", "dense_error", denseErr)
			return []Result{}, nil
		}
	}

	fused := s.fuse(dense, sparse)

	filtered := fused[:0]
	for _, r := range fused {
		if r.Score >= opts.Threshold {
			filtered = append(filtered, r)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > opts.TopK {
		filtered = filtered[:opts.TopK]
	}
	return filtered, nil
}

// fuse combines the branches with weighted max-normalized scores plus
// reciprocal-rank fusion. Items missing from a branch contribute zero for it.
func (s *Searcher) fuse(dense, sparse []Result) []Result {
	denseMax := maxScore(dense)
	sparseMax := maxScore(sparse)

	type fusion struct {
		result      Result
		denseScore  float64
		denseRank   int
		sparseScore float64
		sparseRank  int
		inDense     bool
		inSparse    bool
	}

	merged := make(map[string]*fusion)
	order := make([]string, 0, len(dense)+len(sparse))

	for rank, r := range dense {
		merged[r.ID] = &fusion{
			result:     r,
			denseScore: r.Score / denseMax,
			denseRank:  rank + 1,
			inDense:    true,
		}
		order = append(order, r.ID)
	}
	for rank, r := range sparse {
		f, ok := merged[r.ID]
		if !ok {
			f = &fusion{result: r}
			merged[r.ID] = f
			order = append(order, r.ID)
		}
		f.sparseScore = r.Score / sparseMax
		f.sparseRank = rank + 1
		f.inSparse = true
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		f := merged[id]

		score := s.denseWeight*f.denseScore + s.sparseWeight*f.sparseScore
		if f.inDense {
			score += rrfWeight / float64(f.denseRank+rrfK)
		}
		if f.inSparse {
			score += rrfWeight / float64(f.sparseRank+rrfK)
		}
		// The RRF terms can push a document ranked first in both branches
		// past the weighted sum's ceiling.
		if score > 1 {
			score = 1
		}

		r := f.result
		r.Score = score
		r.Metadata = copyMetadata(r.Metadata)
		r.Metadata["dense_score"] = f.denseScore
		r.Metadata["dense_rank"] = f.denseRank
		r.Metadata["sparse_score"] = f.sparseScore
		r.Metadata["sparse_rank"] = f.sparseRank
		r.Metadata["fusion_type"] = fusionType(f.inDense, f.inSparse)

		out = append(out, r)
	}
	return out
}

func fusionType(inDense, inSparse bool) string {
	switch {
	case inDense && inSparse:
		return "dense_sparse"
	case inDense:
		return "dense_only"
	default:
		return "sparse_only"
	}
}

func maxScore(results []Result) float64 {
	max := 0.0
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	if max == 0 {
		return 1
	}
	return max
}
