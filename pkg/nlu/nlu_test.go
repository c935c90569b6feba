package nlu

import (
	"context"
	"testing"
)

func TestClassifyGreeting(t *testing.T) {
	c, err := NewIntentClassifier(nil)
	if err != nil {
		t.Fatal(err)
	}

	intent, err := c.Classify(context.Background(), "Hello", "en")
	if err != nil {
		t.Fatal(err)
	}
	if intent == nil || intent.Name != "greeting" {
		t.Fatalf("intent = %+v, want greeting", intent)
	}
	if intent.Confidence < 0.5 {
		t.Errorf("greeting confidence = %f", intent.Confidence)
	}
}

func TestClassifyCreateContact(t *testing.T) {
	c, _ := NewIntentClassifier(nil)

	intent, err := c.Classify(context.Background(), "Create a contact for Jane Smith, jane@acme.com", "en")
	if err != nil {
		t.Fatal(err)
	}
	if intent == nil || intent.Name != "create_contact" {
		t.Fatalf("intent = %+v, want create_contact", intent)
	}
	if intent.Parameters["name"] != "Jane Smith" {
		t.Errorf("name parameter = %q", intent.Parameters["name"])
	}
	if intent.Parameters["email"] != "jane@acme.com" {
		t.Errorf("email parameter = %q", intent.Parameters["email"])
	}
}

func TestClassifyNoMatchReturnsNil(t *testing.T) {
	c, _ := NewIntentClassifier(nil)

	intent, err := c.Classify(context.Background(), "How do I submit an expense claim according to policy?", "en")
	if err != nil {
		t.Fatal(err)
	}
	if intent != nil {
		t.Errorf("expected nil intent, got %+v", intent)
	}
}

type fixedModel struct {
	intent *Intent
}

func (m *fixedModel) Classify(ctx context.Context, text, language string) (*Intent, error) {
	return m.intent, nil
}

func TestModelClassifierHigherConfidenceWins(t *testing.T) {
	model := &fixedModel{intent: &Intent{Name: "custom_model_intent", Confidence: 0.99}}
	c, _ := NewIntentClassifier(model)

	intent, err := c.Classify(context.Background(), "Create a contact for Jane Smith", "en")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Name != "custom_model_intent" {
		t.Errorf("model intent with higher confidence should win, got %s", intent.Name)
	}
}

func TestConfidenceEMA(t *testing.T) {
	c, _ := NewIntentClassifier(nil)
	ctx := context.Background()

	c.Classify(ctx, "Hello", "en")
	c.Classify(ctx, "Create a contact for Jane Smith", "en")

	count, avg := c.Stats()
	if count != 2 {
		t.Errorf("classified = %d", count)
	}
	if avg <= 0 || avg > 1 {
		t.Errorf("avg confidence = %f", avg)
	}
}

func TestExtractBusinessEntities(t *testing.T) {
	e := NewEntityExtractor(nil, 0.5)

	entities, err := e.Extract(context.Background(), "Check order SO-12345 for customer CUST-789 and invoice INV-4567", "en")
	if err != nil {
		t.Fatal(err)
	}

	byLabel := map[string]string{}
	for _, ent := range entities {
		byLabel[ent.Label] = ent.Text
	}
	if byLabel["ORDER_ID"] != "SO-12345" {
		t.Errorf("ORDER_ID = %q", byLabel["ORDER_ID"])
	}
	if byLabel["CUSTOMER_ID"] != "CUST-789" {
		t.Errorf("CUSTOMER_ID = %q", byLabel["CUSTOMER_ID"])
	}
	if byLabel["INVOICE_NUMBER"] != "INV-4567" {
		t.Errorf("INVOICE_NUMBER = %q", byLabel["INVOICE_NUMBER"])
	}
}

func TestExtractGenericEntities(t *testing.T) {
	e := NewEntityExtractor(nil, 0.5)

	entities, err := e.Extract(context.Background(), "Email jane@acme.com or call +1 555-123-4567, budget $1,200.50 due 2026-09-01", "en")
	if err != nil {
		t.Fatal(err)
	}

	labels := map[string]bool{}
	for _, ent := range entities {
		labels[ent.Label] = true
	}
	for _, want := range []string{"EMAIL", "PHONE", "MONEY", "DATE"} {
		if !labels[want] {
			t.Errorf("missing %s in %v", want, entities)
		}
	}
}

func TestCreditCardRequiresLuhn(t *testing.T) {
	e := NewEntityExtractor(nil, 0.5)

	// 4539 1488 0343 6467 passes Luhn; 1234 5678 9012 3456 does not.
	entities, _ := e.Extract(context.Background(), "Card 4539 1488 0343 6467 works", "en")
	found := false
	for _, ent := range entities {
		if ent.Label == "CREDIT_CARD" {
			found = true
		}
	}
	if !found {
		t.Error("valid card number should be extracted")
	}

	entities, _ = e.Extract(context.Background(), "Card 1234 5678 9012 3456 fails", "en")
	for _, ent := range entities {
		if ent.Label == "CREDIT_CARD" {
			t.Error("Luhn-invalid digit run should not be CREDIT_CARD")
		}
	}
}

func TestMergeOverlapsKeepsHigherConfidence(t *testing.T) {
	entities := []Entity{
		{Text: "SO-12345", Label: "ORDER_ID", Start: 6, End: 14, Confidence: 0.95},
		{Text: "12345", Label: "ZIPCODE", Start: 9, End: 14, Confidence: 0.9},
	}
	merged := mergeOverlaps(entities)
	if len(merged) != 1 || merged[0].Label != "ORDER_ID" {
		t.Fatalf("merged = %v, want only ORDER_ID", merged)
	}
}

func TestFinalEntitiesNeverOverlap(t *testing.T) {
	e := NewEntityExtractor(nil, 0.5)
	entities, err := e.Extract(context.Background(),
		"Order SO-12345 shipped to 90210, contact Jane Smith at jane@acme.com or 555-123-4567 by 2026-09-01 10:30", "en")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			if entities[i].Overlaps(entities[j]) {
				t.Errorf("overlapping entities in output: %+v and %+v", entities[i], entities[j])
			}
		}
	}
}

func TestPureDigitFiltered(t *testing.T) {
	e := NewEntityExtractor(nil, 0.5)
	entities, _ := e.Extract(context.Background(), "The code is 90210 today", "en")

	for _, ent := range entities {
		if ent.Label == "ZIPCODE" {
			return
		}
	}
	// ZIPCODE is allow-listed, so the bare digit run should survive.
	t.Errorf("allow-listed numeric label should survive the digit filter: %v", entities)
}

func TestProcessorFullPipeline(t *testing.T) {
	p, err := NewProcessor(Config{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := p.Process(context.Background(), "Create a contact for Jane Smith, jane@acme.com", "", true, true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Language != "en" {
		t.Errorf("language default = %q", result.Language)
	}
	if result.Intent == nil || result.Intent.Name != "create_contact" {
		t.Errorf("intent = %+v", result.Intent)
	}

	labels := map[string]bool{}
	for _, ent := range result.Entities {
		labels[ent.Label] = true
	}
	if !labels["PERSON"] || !labels["EMAIL"] {
		t.Errorf("expected PERSON and EMAIL entities, got %v", result.Entities)
	}
}
