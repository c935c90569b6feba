package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"
)

// Config configures the embedding engine.
type Config struct {
	// Provider selects the backend ("openai" is the only built-in).
	Provider string `yaml:"provider,omitempty"`

	// OpenAI configures the openai-compatible backend.
	OpenAI OpenAIConfig `yaml:"openai,omitempty"`

	// MaxWords is the model context limit in words (default: 512).
	MaxWords int `yaml:"max_words,omitempty"`

	// BatchSize is the maximum sub-batch sent to the backend (default: 32).
	BatchSize int `yaml:"batch_size,omitempty"`

	// CacheSize is the vector cache capacity (default: 10000).
	CacheSize int `yaml:"cache_size,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.MaxWords <= 0 {
		c.MaxWords = 512
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10000
	}
}

// Engine encodes text into unit vectors. It owns preprocessing, the family
// adapter, the cache and batching; inference runs on the provider.
type Engine struct {
	provider  Provider
	family    Family
	cache     *vectorCache
	maxWords  int
	batchSize int
}

// Option customizes engine construction.
type Option func(*Engine)

// WithFamily overrides model-name family detection.
func WithFamily(f Family) Option {
	return func(e *Engine) { e.family = f }
}

// NewEngine creates an engine around the given provider.
func NewEngine(provider Provider, cfg Config, opts ...Option) *Engine {
	cfg.SetDefaults()

	e := &Engine{
		provider:  provider,
		family:    DetectFamily(provider.ModelName()),
		cache:     newVectorCache(cfg.CacheSize),
		maxWords:  cfg.MaxWords,
		batchSize: cfg.BatchSize,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// New creates the provider from config and wraps it in an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()

	switch cfg.Provider {
	case "openai":
		provider, err := NewOpenAIProvider(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return NewEngine(provider, cfg, opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}

type encodeOptions struct {
	skipCache bool
}

// EncodeOption customizes a single encode call.
type EncodeOption func(*encodeOptions)

// NoCache bypasses the vector cache for this call.
func NoCache() EncodeOption {
	return func(o *encodeOptions) { o.skipCache = true }
}

// EncodeQuery encodes a single query text into a unit vector.
func (e *Engine) EncodeQuery(ctx context.Context, text string, opts ...EncodeOption) ([]float32, error) {
	vectors, err := e.encode(ctx, []string{text}, true, opts...)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EncodeDocuments encodes passage texts, preserving input order.
func (e *Engine) EncodeDocuments(ctx context.Context, texts []string, opts ...EncodeOption) ([][]float32, error) {
	return e.encode(ctx, texts, false, opts...)
}

func (e *Engine) encode(ctx context.Context, texts []string, isQuery bool, opts ...EncodeOption) ([][]float32, error) {
	var options encodeOptions
	for _, opt := range opts {
		opt(&options)
	}

	if len(texts) == 0 {
		return nil, nil
	}

	instruction := e.family.instruction(isQuery)
	model := e.provider.ModelName()

	results := make([][]float32, len(texts))
	prepared := make([]string, len(texts))
	keys := make([]string, len(texts))

	// Resolve cache hits first; collect the misses for inference.
	var missIdx []int
	for i, text := range texts {
		clean := e.preprocess(text)
		prepared[i] = e.family.prepare(clean, isQuery)
		keys[i] = cacheKey(clean, instruction, model)

		if !options.skipCache {
			if vec, ok := e.cache.get(keys[i]); ok {
				results[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	// Run inference in sub-batches, reassembling in input order.
	for start := 0; start < len(missIdx); start += e.batchSize {
		end := start + e.batchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}

		batch := make([]string, 0, end-start)
		for _, idx := range missIdx[start:end] {
			batch = append(batch, prepared[idx])
		}

		vectors, err := e.provider.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch failed: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch))
		}

		for j, idx := range missIdx[start:end] {
			vec := normalize(vectors[j])
			results[idx] = vec
			if !options.skipCache {
				e.cache.put(keys[idx], vec)
			}
		}
	}

	return results, nil
}

// preprocess strips control characters, collapses whitespace and truncates to
// the model context.
func (e *Engine) preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}

	words := strings.Fields(b.String())

	// Intelligent truncation: for very long inputs keep the head and tail
	// halves around an ellipsis token; otherwise cut the head.
	if len(words) > 2*e.maxWords {
		half := e.maxWords / 2
		kept := make([]string, 0, 2*half+1)
		kept = append(kept, words[:half]...)
		kept = append(kept, "...")
		kept = append(kept, words[len(words)-half:]...)
		words = kept
	} else if len(words) > e.maxWords {
		words = words[:e.maxWords]
	}

	return strings.Join(words, " ")
}

// normalize scales a vector to unit length. Zero vectors pass through.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Dimension returns the provider's output dimension.
func (e *Engine) Dimension() int {
	return e.provider.Dimension()
}

// ModelName returns the underlying model name.
func (e *Engine) ModelName() string {
	return e.provider.ModelName()
}

// Family returns the detected model family.
func (e *Engine) Family() Family {
	return e.family
}

// Cache returns cache effectiveness counters.
func (e *Engine) Cache() CacheStats {
	return e.cache.stats()
}

// Health encodes a canonical sentence and checks the output for finite
// values and the expected dimension. Norm deviation is reported but not
// fatal.
func (e *Engine) Health(ctx context.Context) error {
	const canonical = "The quick brown fox jumps over the lazy dog."

	vec, err := e.EncodeQuery(ctx, canonical, NoCache())
	if err != nil {
		return fmt.Errorf("embedding health check failed: %w", err)
	}

	if len(vec) != e.provider.Dimension() {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), e.provider.Dimension())
	}

	var sum float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("embedding contains non-finite values")
		}
		sum += f * f
	}

	if norm := math.Sqrt(sum); norm < 0.9 || norm > 1.1 {
		slog.Warn("Embedding norm deviates from unit length", "norm", norm)
	}

	return nil
}

// Close releases the provider.
func (e *Engine) Close() error {
	return e.provider.Close()
}
