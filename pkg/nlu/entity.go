package nlu

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// NER is an optional model-backed entity source merged with the rule-based
// extractors.
type NER interface {
	Extract(ctx context.Context, text, language string) ([]Entity, error)
}

// domainRecognizer is one entry of the business entity table.
type domainRecognizer struct {
	label      string
	patterns   []*regexp.Regexp
	boost      float64
	isBusiness bool
}

const (
	businessBaseConfidence    = 0.85
	nonBusinessBaseConfidence = 0.75
	genericConfidence         = 0.9
)

// businessIDLabels allow-lists labels whose values may be pure digits.
var businessIDLabels = map[string]bool{
	"EMPLOYEE_ID": true, "CUSTOMER_ID": true, "ORDER_ID": true,
	"PRODUCT_CODE": true, "INVOICE_NUMBER": true, "PURCHASE_ORDER": true,
	"TICKET_ID": true, "PROJECT_CODE": true,
	"ZIPCODE": true, "CREDIT_CARD": true, "PHONE": true,
}

func mustAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var domainRecognizers = []domainRecognizer{
	{"EMPLOYEE_ID", mustAll(`\bEMP-?\d{3,8}\b`), 0.1, true},
	{"CUSTOMER_ID", mustAll(`\bCUST-?\d{3,8}\b`), 0.1, true},
	{"ORDER_ID", mustAll(`\b(?:SO|ORD)-?\d{3,10}\b`, `(?i)\border\s+#?\d{3,10}\b`), 0.1, true},
	{"PRODUCT_CODE", mustAll(`\b(?:SKU|PRD)-?[A-Z0-9]{3,12}\b`), 0.1, true},
	{"INVOICE_NUMBER", mustAll(`\bINV-?\d{3,10}\b`), 0.1, true},
	{"PURCHASE_ORDER", mustAll(`\bPO-?\d{3,10}\b`), 0.1, true},
	{"TICKET_ID", mustAll(`\b(?:TKT|TICKET)-?\d{3,10}\b`), 0.1, true},
	{"PROJECT_CODE", mustAll(`\bPROJ-?[A-Z0-9]{2,10}\b`), 0.05, true},
	{"DEPARTMENT", mustAll(`(?i)\b(?:engineering|marketing|sales|finance|legal|operations|support|hr|human resources)\s+(?:department|team)\b`), 0.05, false},
	{"JOB_TITLE", mustAll(`(?i)\b(?:software engineer|product manager|sales manager|account executive|data analyst|project manager|vice president|ceo|cto|cfo)\b`), 0.05, false},
	{"OFFICE_LOCATION", mustAll(`(?i)\b(?:headquarters|main office|branch office|building\s+[A-Za-z0-9]+|floor\s+\d+)\b`), 0.05, false},
	{"DELIVERY_DATE", mustAll(`(?i)\bdeliver(?:y|ed)?\s+(?:by|on|before)\s+[A-Za-z0-9,/\- ]{3,25}`), 0.05, true},
	{"MEETING_TIME", mustAll(`(?i)\b(?:meeting|call)\s+(?:at|on)\s+[A-Za-z0-9:,/\- ]{3,25}`), 0.05, false},
}

// genericPattern is a regex-backed generic entity source.
type genericPattern struct {
	label   string
	pattern *regexp.Regexp
}

var genericPatterns = []genericPattern{
	{"EMAIL", regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{"URL", regexp.MustCompile(`\bhttps?://[^\s<>"]+`)},
	{"PHONE", regexp.MustCompile(`(?:\+?\d{1,3}[\s.\-])?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`)},
	{"MONEY", regexp.MustCompile(`\$\d+(?:,\d{3})*(?:\.\d{2})?|\b\d+(?:\.\d+)?\s?(?:dollars|usd|eur|euros)\b`)},
	{"PERCENTAGE", regexp.MustCompile(`\b\d+(?:\.\d+)?%`)},
	{"DATE", regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b|(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`)},
	{"TIME", regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s?(?:[AaPp][Mm])?\b|\b\d{1,2}\s?(?:[AaPp][Mm])\b`)},
	{"ZIPCODE", regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)},
	{"CREDIT_CARD", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"PERSON", regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)},
}

// EntityExtractor merges model, domain and generic entity sources.
type EntityExtractor struct {
	ner       NER
	threshold float64
}

// NewEntityExtractor creates an extractor. A nil NER disables the model
// source. Threshold defaults to 0.5.
func NewEntityExtractor(ner NER, threshold float64) *EntityExtractor {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &EntityExtractor{ner: ner, threshold: threshold}
}

// Labels lists all entity labels the extractor can produce, sorted.
func (e *EntityExtractor) Labels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, r := range domainRecognizers {
		if !seen[r.label] {
			seen[r.label] = true
			labels = append(labels, r.label)
		}
	}
	for _, g := range genericPatterns {
		if !seen[g.label] {
			seen[g.label] = true
			labels = append(labels, g.label)
		}
	}
	sort.Strings(labels)
	return labels
}

// Extract runs the three sources concurrently, merges overlaps by confidence
// and filters weak spans.
func (e *EntityExtractor) Extract(ctx context.Context, text, language string) ([]Entity, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		entities []Entity
	)

	collect := func(found []Entity) {
		mu.Lock()
		entities = append(entities, found...)
		mu.Unlock()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		collect(extractDomain(text))
	}()
	go func() {
		defer wg.Done()
		collect(extractGeneric(text))
	}()

	if e.ner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := e.ner.Extract(ctx, text, language)
			if err == nil {
				collect(found)
			}
		}()
	}
	wg.Wait()

	merged := mergeOverlaps(entities)
	return e.filter(merged), nil
}

func extractDomain(text string) []Entity {
	var out []Entity
	for _, rec := range domainRecognizers {
		base := nonBusinessBaseConfidence
		if rec.isBusiness {
			base = businessBaseConfidence
		}
		confidence := base + rec.boost
		if confidence > 1.0 {
			confidence = 1.0
		}

		for _, re := range rec.patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				out = append(out, Entity{
					Text:       strings.TrimSpace(text[loc[0]:loc[1]]),
					Label:      rec.label,
					Start:      loc[0],
					End:        loc[1],
					Confidence: confidence,
				})
			}
		}
	}
	return out
}

func extractGeneric(text string) []Entity {
	var out []Entity
	for _, gp := range genericPatterns {
		for _, loc := range gp.pattern.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]

			confidence := genericConfidence
			switch gp.label {
			case "CREDIT_CARD":
				if !luhnValid(match) {
					continue
				}
			case "PERSON":
				// Capitalized-bigram heuristic, weaker than a real NER.
				confidence = 0.7
			}

			out = append(out, Entity{
				Text:       match,
				Label:      gp.label,
				Start:      loc[0],
				End:        loc[1],
				Confidence: confidence,
			})
		}
	}
	return out
}

// luhnValid checks the card-number checksum so arbitrary digit runs do not
// surface as CREDIT_CARD.
func luhnValid(number string) bool {
	var digits []int
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// mergeOverlaps sorts by span and resolves overlapping pairs in favor of the
// higher-confidence entity.
func mergeOverlaps(entities []Entity) []Entity {
	if len(entities) <= 1 {
		return entities
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		return entities[i].End < entities[j].End
	})

	var out []Entity
	for _, candidate := range entities {
		replaced := false
		conflict := false
		for i, kept := range out {
			if !kept.Overlaps(candidate) {
				continue
			}
			conflict = true
			if candidate.Confidence > kept.Confidence {
				out[i] = candidate
				replaced = true
			}
			break
		}
		if !conflict && !replaced {
			out = append(out, candidate)
		}
	}
	return out
}

// filter drops weak, short and bare-numeric entities.
func (e *EntityExtractor) filter(entities []Entity) []Entity {
	out := entities[:0]
	for _, entity := range entities {
		if entity.Confidence < e.threshold {
			continue
		}
		if len(entity.Text) < 2 {
			continue
		}
		if isPureDigits(entity.Text) && !businessIDLabels[entity.Label] {
			continue
		}
		out = append(out, entity)
	}
	return out
}

func isPureDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
