package nlu

import (
	"context"
	"time"
)

// Config configures the NLU pipeline.
type Config struct {
	// EntityThreshold drops entities below this confidence (default: 0.5).
	EntityThreshold float64 `yaml:"entity_threshold,omitempty"`

	// DefaultLanguage is assumed when requests omit one (default: en).
	DefaultLanguage string `yaml:"default_language,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.EntityThreshold <= 0 {
		c.EntityThreshold = 0.5
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
}

// Processor bundles intent classification and entity extraction.
type Processor struct {
	classifier *IntentClassifier
	extractor  *EntityExtractor
	language   string
}

// NewProcessor wires the pipeline. Model-backed classifier and NER are
// optional.
func NewProcessor(cfg Config, model ModelClassifier, ner NER) (*Processor, error) {
	cfg.SetDefaults()

	classifier, err := NewIntentClassifier(model)
	if err != nil {
		return nil, err
	}

	return &Processor{
		classifier: classifier,
		extractor:  NewEntityExtractor(ner, cfg.EntityThreshold),
		language:   cfg.DefaultLanguage,
	}, nil
}

// Classifier exposes the intent classifier for registration and stats.
func (p *Processor) Classifier() *IntentClassifier { return p.classifier }

// Extractor exposes the entity extractor.
func (p *Processor) Extractor() *EntityExtractor { return p.extractor }

// Process runs the requested stages over one utterance.
func (p *Processor) Process(ctx context.Context, text, language string, classifyIntent, extractEntities bool) (*Result, error) {
	start := time.Now()
	if language == "" {
		language = p.language
	}

	result := &Result{
		Text:     text,
		Language: language,
		Entities: []Entity{},
	}

	if classifyIntent {
		intent, err := p.classifier.Classify(ctx, text, language)
		if err != nil {
			return nil, err
		}
		result.Intent = intent
	}

	if extractEntities {
		entities, err := p.extractor.Extract(ctx, text, language)
		if err != nil {
			return nil, err
		}
		if entities == nil {
			entities = []Entity{}
		}
		result.Entities = entities
	}

	result.ProcessingTime = time.Since(start)
	return result, nil
}
