package embedding

import (
	"context"
	"math"
	"strings"
	"testing"
)

func TestDetectFamily(t *testing.T) {
	cases := []struct {
		model string
		want  Family
	}{
		{"intfloat/e5-large-v2", FamilyQueryPrefix},
		{"hkunlp/instructor-xl", FamilyInstruction},
		{"BAAI/bge-base-en", FamilyInstruction},
		{"text-embedding-3-small", FamilyPlain},
	}

	for _, tc := range cases {
		if got := DetectFamily(tc.model); got != tc.want {
			t.Errorf("DetectFamily(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}

func TestQueryPrefixFamilyPreparesInputs(t *testing.T) {
	mock := NewMockProvider(8)
	mock.Model = "e5-base"
	engine := NewEngine(mock, Config{})

	ctx := context.Background()
	if _, err := engine.EncodeQuery(ctx, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := engine.EncodeDocuments(ctx, []string{"world"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mock.Calls[0][0]; got != "query: hello" {
		t.Errorf("query input = %q, want query prefix", got)
	}
	if got := mock.Calls[1][0]; got != "passage: world" {
		t.Errorf("document input = %q, want passage prefix", got)
	}
}

func TestEncodeReturnsUnitVectors(t *testing.T) {
	engine := NewEngine(NewMockProvider(16), Config{})

	vecs, err := engine.EncodeDocuments(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, vec := range vecs {
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		norm := math.Sqrt(sum)
		if norm < 0.9 || norm > 1.1 {
			t.Errorf("vector %d norm = %f, want within [0.9, 1.1]", i, norm)
		}
	}
}

func TestCacheHitReturnsIdenticalVector(t *testing.T) {
	mock := NewMockProvider(8)
	engine := NewEngine(mock, Config{})
	ctx := context.Background()

	first, err := engine.EncodeQuery(ctx, "same text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := engine.EncodeQuery(ctx, "same text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.Calls) != 1 {
		t.Errorf("expected 1 provider call, got %d", len(mock.Calls))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at index %d", i)
		}
	}

	stats := engine.Cache()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("cache stats = %+v, want 1 hit / 1 miss", stats)
	}
}

func TestNoCacheOptionSkipsCache(t *testing.T) {
	mock := NewMockProvider(8)
	engine := NewEngine(mock, Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := engine.EncodeQuery(ctx, "text", NoCache()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(mock.Calls) != 2 {
		t.Errorf("expected 2 provider calls with NoCache, got %d", len(mock.Calls))
	}
}

func TestBatchingPartitionsAndPreservesOrder(t *testing.T) {
	mock := NewMockProvider(8)
	engine := NewEngine(mock, Config{BatchSize: 2})

	texts := []string{"one", "two", "three", "four", "five"}
	vecs, err := engine.EncodeDocuments(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.Calls) != 3 {
		t.Errorf("expected 3 sub-batches for 5 texts with batch size 2, got %d", len(mock.Calls))
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	// Order preservation: encoding individually must match the batch result.
	single := NewEngine(NewMockProvider(8), Config{})
	for i, text := range texts {
		want, err := single.EncodeDocuments(context.Background(), []string{text})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for j := range want[0] {
			if vecs[i][j] != want[0][j] {
				t.Fatalf("vector for %q differs from individually encoded result", text)
			}
		}
	}
}

func TestIntelligentTruncation(t *testing.T) {
	engine := NewEngine(NewMockProvider(8), Config{MaxWords: 10})

	// 30 words > 2*10: expect head half + ellipsis + tail half.
	words := make([]string, 30)
	for i := range words {
		words[i] = "w" + string(rune('a'+i%26))
	}
	out := engine.preprocess(strings.Join(words, " "))
	fields := strings.Fields(out)
	if len(fields) != 11 {
		t.Fatalf("expected 11 words after intelligent truncation, got %d", len(fields))
	}
	if fields[5] != "..." {
		t.Errorf("expected ellipsis token in the middle, got %q", fields[5])
	}
	if fields[0] != words[0] || fields[10] != words[29] {
		t.Errorf("truncation should keep head and tail")
	}

	// 15 words: simple head truncation to 10.
	out = engine.preprocess(strings.Join(words[:15], " "))
	if got := len(strings.Fields(out)); got != 10 {
		t.Errorf("expected 10 words after head truncation, got %d", got)
	}
}

func TestPreprocessStripsControlCharacters(t *testing.T) {
	engine := NewEngine(NewMockProvider(8), Config{})

	out := engine.preprocess("hello\x00 \x07world\r\n  again")
	if out != "hello world again" {
		t.Errorf("preprocess = %q", out)
	}
}

func TestHealth(t *testing.T) {
	engine := NewEngine(NewMockProvider(8), Config{})
	if err := engine.Health(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestCacheFIFOEviction(t *testing.T) {
	cache := newVectorCache(2)

	cache.put("a", []float32{1})
	cache.put("b", []float32{2})
	cache.put("c", []float32{3})

	if _, ok := cache.get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := cache.get("b"); !ok {
		t.Error("entry b should still be cached")
	}
	if _, ok := cache.get("c"); !ok {
		t.Error("entry c should still be cached")
	}
}
