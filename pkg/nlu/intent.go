package nlu

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cognidesk/cognidesk/pkg/registry"
)

// emaAlpha weights the confidence moving average.
const emaAlpha = 0.1

// IntentDefinition describes one recognizable intent.
type IntentDefinition struct {
	Name                string   `yaml:"name"`
	Keywords            []string `yaml:"keywords"`
	Patterns            []string `yaml:"patterns"`
	Examples            []string `yaml:"examples,omitempty"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold,omitempty"`

	compiled []*regexp.Regexp
}

// ModelClassifier is an optional model-backed intent source. When present,
// its prediction competes with the rule score and the higher confidence
// wins.
type ModelClassifier interface {
	Classify(ctx context.Context, text, language string) (*Intent, error)
}

// IntentClassifier scores utterances against registered intent definitions.
type IntentClassifier struct {
	intents *registry.BaseRegistry[*IntentDefinition]
	model   ModelClassifier

	mu            sync.Mutex
	avgConfidence float64
	classified    int64
}

// NewIntentClassifier creates a classifier with the built-in business
// intents registered. A nil model disables the model path.
func NewIntentClassifier(model ModelClassifier) (*IntentClassifier, error) {
	c := &IntentClassifier{
		intents: registry.NewBaseRegistry[*IntentDefinition](),
		model:   model,
	}
	for _, def := range defaultIntents() {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register compiles and stores an intent definition.
func (c *IntentClassifier) Register(def *IntentDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("intent definition requires a name")
	}
	if def.ConfidenceThreshold <= 0 {
		def.ConfidenceThreshold = 0.5
	}

	def.compiled = make([]*regexp.Regexp, 0, len(def.Patterns))
	for _, p := range def.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("intent %s pattern %q: %w", def.Name, p, err)
		}
		def.compiled = append(def.compiled, re)
	}

	return c.intents.Register(def.Name, def)
}

// Definitions lists registered intents in registration order.
func (c *IntentClassifier) Definitions() []*IntentDefinition {
	return c.intents.List()
}

// Classify returns the best eligible intent or nil when nothing scores above
// threshold.
func (c *IntentClassifier) Classify(ctx context.Context, text, language string) (*Intent, error) {
	ruleIntent := c.classifyRules(text)

	var modelIntent *Intent
	if c.model != nil {
		var err error
		modelIntent, err = c.model.Classify(ctx, text, language)
		if err != nil {
			// Model failure degrades to rules only.
			modelIntent = nil
		}
	}

	best := ruleIntent
	if modelIntent != nil && (best == nil || modelIntent.Confidence > best.Confidence) {
		best = modelIntent
	}

	if best != nil {
		best.Parameters = extractParameters(best.Name, text)
		c.trackConfidence(best.Confidence)
	}
	return best, nil
}

// classifyRules scores every definition and keeps the best eligible one.
func (c *IntentClassifier) classifyRules(text string) *Intent {
	lower := strings.ToLower(text)

	var bestDef *IntentDefinition
	bestScore := 0.0

	for _, def := range c.intents.List() {
		score := def.score(lower, text)
		if score >= def.ConfidenceThreshold && score > bestScore {
			bestDef = def
			bestScore = score
		}
	}

	if bestDef == nil {
		return nil
	}
	return &Intent{Name: bestDef.Name, Confidence: bestScore}
}

// score combines keyword ratio (weight 0.4) and pattern matches (weight
// 0.6), normalized by the weights of the components the definition actually
// has.
func (d *IntentDefinition) score(lowerText, text string) float64 {
	var score, weight float64

	if len(d.Keywords) > 0 {
		matched := 0
		for _, kw := range d.Keywords {
			if strings.Contains(lowerText, strings.ToLower(kw)) {
				matched++
			}
		}
		score += 0.4 * float64(matched) / float64(len(d.Keywords))
		weight += 0.4
	}

	if len(d.compiled) > 0 {
		matched := 0
		for _, re := range d.compiled {
			if re.MatchString(text) {
				matched++
			}
		}
		ratio := float64(matched) / float64(len(d.compiled))
		if ratio > 1 {
			ratio = 1
		}
		score += 0.6 * ratio
		weight += 0.6
	}

	if weight == 0 {
		return 0
	}
	// Normalize by the weights of the present components so a
	// keywords-only definition can still reach 1.0.
	return score / weight
}

// trackConfidence maintains an exponential moving average of winning
// confidences.
func (c *IntentClassifier) trackConfidence(confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.classified == 0 {
		c.avgConfidence = confidence
	} else {
		c.avgConfidence = emaAlpha*confidence + (1-emaAlpha)*c.avgConfidence
	}
	c.classified++
}

// Stats reports classification counters.
func (c *IntentClassifier) Stats() (classified int64, avgConfidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classified, c.avgConfidence
}

// defaultIntents is the built-in business intent set.
func defaultIntents() []*IntentDefinition {
	return []*IntentDefinition{
		{
			Name:     "greeting",
			Keywords: []string{"hello", "hi", "hey", "greetings", "good morning", "good afternoon"},
			Patterns: []string{`(?i)^\s*(hello|hi|hey|greetings)\b`},
		},
		{
			Name:     "help",
			Keywords: []string{"help", "assist", "support", "stuck"},
			Patterns: []string{`(?i)\b(help|assist)\b`},
		},
		{
			Name:     "create_contact",
			Keywords: []string{"create", "add", "new", "contact"},
			Patterns: []string{`(?i)\b(create|add|new)\b.*\bcontact\b`},
		},
		{
			Name:     "update_contact",
			Keywords: []string{"update", "change", "edit", "contact"},
			Patterns: []string{`(?i)\b(update|change|edit|modify)\b.*\bcontact\b`},
		},
		{
			Name:     "search_contact",
			Keywords: []string{"find", "search", "lookup", "contact"},
			Patterns: []string{`(?i)\b(find|search|look\s?up|show)\b.*\bcontact`},
		},
		{
			Name:     "create_order",
			Keywords: []string{"create", "place", "new", "order"},
			Patterns: []string{`(?i)\b(create|place|new)\b.*\border\b`},
		},
		{
			Name:     "update_order",
			Keywords: []string{"update", "change", "cancel", "order"},
			Patterns: []string{`(?i)\b(update|change|modify|cancel)\b.*\border\b`},
		},
		{
			Name:     "search_order",
			Keywords: []string{"find", "search", "status", "order"},
			Patterns: []string{`(?i)\b(find|search|status|track|where)\b.*\border`},
		},
		{
			Name:     "get_inventory",
			Keywords: []string{"inventory", "stock", "available", "quantity"},
			Patterns: []string{`(?i)\b(check|get|show|how (much|many))\b.*\b(inventory|stock)\b`},
		},
		{
			Name:     "update_inventory",
			Keywords: []string{"update", "adjust", "inventory", "stock"},
			Patterns: []string{`(?i)\b(update|adjust|set)\b.*\b(inventory|stock)\b`},
		},
		{
			Name:     "generate_report",
			Keywords: []string{"report", "generate", "summary", "analytics"},
			Patterns: []string{`(?i)\b(generate|create|run|build)\b.*\breport\b`},
		},
		{
			Name:     "schedule_meeting",
			Keywords: []string{"schedule", "meeting", "appointment", "calendar"},
			Patterns: []string{`(?i)\b(schedule|book|set\s?up)\b.*\b(meeting|appointment|call)\b`},
		},
	}
}
