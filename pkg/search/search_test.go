package search

import (
	"context"
	"errors"
	"testing"

	"github.com/cognidesk/cognidesk/pkg/embedding"
	"github.com/cognidesk/cognidesk/pkg/vector"
)

// stubVectorProvider serves canned dense results for tests.
type stubVectorProvider struct {
	results []vector.Result
	err     error
}

func (s *stubVectorProvider) Name() string { return "stub" }

func (s *stubVectorProvider) SearchWithOptions(ctx context.Context, collection string, vec []float32, topK int, threshold float32, filter map[string]interface{}) ([]vector.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if topK < len(s.results) {
		return s.results[:topK], nil
	}
	return s.results, nil
}

func (s *stubVectorProvider) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return s.SearchWithOptions(ctx, collection, vec, topK, 0, nil)
}

func (s *stubVectorProvider) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]interface{}) error {
	return nil
}
func (s *stubVectorProvider) Delete(ctx context.Context, collection, id string) error { return nil }
func (s *stubVectorProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	return nil
}
func (s *stubVectorProvider) Count(ctx context.Context, collection string) (uint64, error) {
	return uint64(len(s.results)), nil
}
func (s *stubVectorProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	return nil
}
func (s *stubVectorProvider) DeleteCollection(ctx context.Context, collection string) error {
	return nil
}
func (s *stubVectorProvider) Health(ctx context.Context) error { return nil }
func (s *stubVectorProvider) Close() error                     { return nil }

var _ vector.Provider = (*stubVectorProvider)(nil)

func newTestSearcher(store vector.Provider) *Searcher {
	engine := embedding.NewEngine(embedding.NewMockProvider(8), embedding.Config{})
	return NewSearcher(engine, store, Config{})
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The Quick BROWN fox, and a dog-house!")
	want := []string{"quick", "brown", "fox", "dog", "house"}

	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTermIndexBM25Ranking(t *testing.T) {
	idx := NewTermIndex(100)
	idx.Add("a", "redis cluster failover redis sentinel", "docs", nil)
	idx.Add("b", "postgres replication setup guide", "docs", nil)
	idx.Add("c", "redis persistence configuration", "docs", nil)

	results := idx.Search("redis failover", 10, 0, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("doc with both terms should rank first, got %q", results[0].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %f <= %f", results[0].Score, results[1].Score)
	}
}

func TestTermIndexFilters(t *testing.T) {
	idx := NewTermIndex(100)
	idx.Add("a", "quarterly sales report", "crm", map[string]interface{}{"source": "crm"})
	idx.Add("b", "quarterly sales forecast", "erp", map[string]interface{}{"source": "erp"})

	results := idx.Search("quarterly sales", 10, 0, map[string]interface{}{"source": "crm"})
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("filter should keep only crm doc, got %v", results)
	}
}

func TestTermIndexCapacityAndReplace(t *testing.T) {
	idx := NewTermIndex(2)
	if !idx.Add("a", "alpha content", "", nil) || !idx.Add("b", "beta content", "", nil) {
		t.Fatal("adds under capacity should succeed")
	}
	if idx.Add("c", "gamma content", "", nil) {
		t.Error("add over capacity should be rejected")
	}
	if !idx.Add("a", "alpha replacement", "", nil) {
		t.Error("re-adding an existing id should succeed at capacity")
	}
	if idx.Len() != 2 {
		t.Errorf("index size = %d, want 2", idx.Len())
	}
}

func TestTermIndexRemove(t *testing.T) {
	idx := NewTermIndex(10)
	idx.Add("a", "orphan document text", "", nil)
	idx.Remove("a")

	if idx.Len() != 0 {
		t.Errorf("index should be empty after remove")
	}
	if results := idx.Search("orphan", 10, 0, nil); len(results) != 0 {
		t.Errorf("removed doc still searchable: %v", results)
	}
}

func TestSparseSearch(t *testing.T) {
	s := newTestSearcher(&stubVectorProvider{})
	s.IndexDocument("d1", "customer invoice overdue payment", "erp", nil)

	results, err := s.Search(context.Background(), "overdue invoice", Options{Type: TypeSparse})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "d1" {
		t.Fatalf("sparse search results = %v", results)
	}
}

func TestDenseSearch(t *testing.T) {
	store := &stubVectorProvider{results: []vector.Result{
		{ID: "v1", Content: "dense hit", Score: 0.9, Metadata: map[string]interface{}{"source": "kb"}},
	}}
	s := newTestSearcher(store)

	results, err := s.Search(context.Background(), "anything", Options{Type: TypeDense})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "v1" || results[0].Source != "kb" {
		t.Fatalf("dense search results = %v", results)
	}
}

func TestHybridFusionPrefersBothBranches(t *testing.T) {
	store := &stubVectorProvider{results: []vector.Result{
		{ID: "both", Content: "redis failover guide", Score: 0.8},
		{ID: "dense-only", Content: "unrelated dense hit", Score: 0.9},
	}}
	s := newTestSearcher(store)
	s.IndexDocument("both", "redis failover guide", "docs", nil)
	s.IndexDocument("sparse-only", "redis cluster sentinel notes", "docs", nil)

	results, err := s.Search(context.Background(), "redis failover", Options{Type: TypeHybrid, TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected fused results")
	}

	if results[0].ID != "both" {
		t.Errorf("doc in both branches should rank first, got %q", results[0].ID)
	}
	if ft := results[0].Metadata["fusion_type"]; ft != "dense_sparse" {
		t.Errorf("fusion_type = %v, want dense_sparse", ft)
	}

	seen := map[string]string{}
	for _, r := range results {
		seen[r.ID] = r.Metadata["fusion_type"].(string)
	}
	if seen["dense-only"] != "dense_only" {
		t.Errorf("dense-only fusion_type = %q", seen["dense-only"])
	}
	if seen["sparse-only"] != "sparse_only" {
		t.Errorf("sparse-only fusion_type = %q", seen["sparse-only"])
	}
}

func TestHybridScoresStayBounded(t *testing.T) {
	// A document ranked first in both branches maxes the weighted sum, and
	// the rank-fusion terms must not push it past 1.
	store := &stubVectorProvider{results: []vector.Result{
		{ID: "top", Content: "redis failover guide", Score: 0.95},
	}}
	s := newTestSearcher(store)
	s.IndexDocument("top", "redis failover guide", "docs", nil)

	results, err := s.Search(context.Background(), "redis failover", Options{Type: TypeHybrid, TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("result %q score = %f, want within [0,1]", r.ID, r.Score)
		}
	}
	if results[0].Score != 1 {
		t.Errorf("top-of-both-branches score = %f, want clamped to 1", results[0].Score)
	}
}

func TestSparseScoresNormalized(t *testing.T) {
	s := newTestSearcher(&stubVectorProvider{})
	s.IndexDocument("d1", "redis failover redis sentinel redis cluster", "docs", nil)
	s.IndexDocument("d2", "redis persistence notes", "docs", nil)

	results, err := s.Search(context.Background(), "redis failover", Options{Type: TypeSparse, TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(results))
	}
	if results[0].Score != 1 {
		t.Errorf("best sparse score = %f, want 1 after normalization", results[0].Score)
	}
	for _, r := range results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("result %q score = %f, want within [0,1]", r.ID, r.Score)
		}
	}
}

func TestHybridSurvivesDenseFailure(t *testing.T) {
	store := &stubVectorProvider{err: errors.New("vector store down")}
	s := newTestSearcher(store)
	s.IndexDocument("d1", "redis failover guide", "docs", nil)

	results, err := s.Search(context.Background(), "redis failover", Options{Type: TypeHybrid})
	if err != nil {
		t.Fatalf("hybrid should tolerate a failed branch: %v", err)
	}
	if len(results) != 1 || results[0].ID != "d1" {
		t.Fatalf("expected sparse-only fallback, got %v", results)
	}
}

func TestHybridBothBranchesEmpty(t *testing.T) {
	store := &stubVectorProvider{err: errors.New("vector store down")}
	s := newTestSearcher(store)

	results, err := s.Search(context.Background(), "anything", Options{Type: TypeHybrid})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %v", results)
	}
}

func TestUnknownSearchType(t *testing.T) {
	s := newTestSearcher(&stubVectorProvider{})
	if _, err := s.Search(context.Background(), "q", Options{Type: "fuzzy"}); err == nil {
		t.Error("expected error for unknown search type")
	}
}
