package document

import (
	"strings"
	"testing"
	"time"
)

func doc(content, source string, metadata map[string]interface{}) Document {
	return Document{
		ID:        "doc-1",
		Content:   content,
		Source:    source,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

func TestDetectFormatMetadataHintWins(t *testing.T) {
	d := doc(`{"order_number": "SO-1"}`, "orders", map[string]interface{}{
		"data_format": "crm_contact",
	})
	if got := DetectFormat(d); got != FormatCRMContact {
		t.Errorf("metadata hint should win, got %v", got)
	}
}

func TestDetectFormatIgnoresUnknownHint(t *testing.T) {
	d := doc(`{"order_number": "SO-1", "order_date": "2026-01-15"}`, "erp", map[string]interface{}{
		"data_format": "banana",
	})
	if got := DetectFormat(d); got != FormatERPOrder {
		t.Errorf("unknown hint should fall through to JSON probe, got %v", got)
	}
}

func TestDetectFormatJSONProbe(t *testing.T) {
	cases := []struct {
		content string
		want    Format
	}{
		{`{"email": "a@b.com", "company": "Acme"}`, FormatCRMContact},
		{`{"deal_name": "Big deal", "stage": "negotiation"}`, FormatCRMOpportunity},
		{`{"sku": "X-1", "price": 9.99}`, FormatERPProduct},
		{`{"order_number": "SO-42", "customer": "Acme"}`, FormatERPOrder},
		{`{"invoice_number": "INV-7", "due_date": "2026-02-01"}`, FormatERPInvoice},
		{`{"foo": "bar"}`, FormatGenericRecord},
	}

	for _, tc := range cases {
		if got := DetectFormat(doc(tc.content, "unknown", nil)); got != tc.want {
			t.Errorf("DetectFormat(%s) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestDetectFormatSourceHeuristic(t *testing.T) {
	d := doc("plain prose about shipments", "erp_invoices_export", nil)
	if got := DetectFormat(d); got != FormatERPInvoice {
		t.Errorf("source heuristic failed, got %v", got)
	}

	d = doc("plain prose", "notes.txt", nil)
	if got := DetectFormat(d); got != FormatText {
		t.Errorf("expected text fallback, got %v", got)
	}
}

func TestRenderRecordProducesLabeledSentences(t *testing.T) {
	record := map[string]interface{}{
		"contact_name": "Jane Smith",
		"email":        "jane@acme.com",
		"company":      "Acme Corp",
		"irrelevant":   "",
	}

	out := renderRecord(FormatCRMContact, record)
	want := "Name: Jane Smith. Email: jane@acme.com. Company: Acme Corp."
	if out != want {
		t.Errorf("renderRecord = %q, want %q", out, want)
	}
}

func TestRenderRecordAliasPreference(t *testing.T) {
	record := map[string]interface{}{
		"name":         "Canonical",
		"contact_name": "Alias",
	}
	out := renderRecord(FormatCRMContact, record)
	if !strings.Contains(out, "Name: Canonical.") {
		t.Errorf("first alias should win: %q", out)
	}
}

func TestRenderGenericSortedAndTitled(t *testing.T) {
	record := map[string]interface{}{
		"zeta_field": "last",
		"alpha":      "first",
		"count":      float64(3),
	}
	out := renderGeneric(record)
	want := "Alpha: first. Count: 3. Zeta field: last."
	if out != want {
		t.Errorf("renderGeneric = %q, want %q", out, want)
	}
}

func TestClean(t *testing.T) {
	in := "Hello,\tWorld!  Café <b>bold</b> 100%"
	out := Clean(in)
	if strings.Contains(out, "<") || strings.Contains(out, ">") {
		t.Errorf("angle brackets should be stripped: %q", out)
	}
	if !strings.Contains(out, "Café") {
		t.Errorf("letters should survive: %q", out)
	}
	if strings.Contains(out, "  ") {
		t.Errorf("whitespace should collapse: %q", out)
	}
}

func TestChunkingOverlapAndMetadata(t *testing.T) {
	words := make([]string, 25)
	for i := range words {
		words[i] = "word" + string(rune('a'+i%26))
	}

	p := NewProcessor(Config{ChunkSize: 10, ChunkOverlap: 3})
	chunks := p.chunkWords(strings.Join(words, " "))

	// Step is 7, so windows start at 0, 7, 14, 21.
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d index = %d", i, c.Index)
		}
		if c.WordCount != c.EndWordIndex-c.StartWordIndex {
			t.Errorf("chunk %d word count mismatch", i)
		}
	}

	if chunks[1].StartWordIndex != 7 || chunks[1].EndWordIndex != 17 {
		t.Errorf("chunk 1 span = [%d,%d)", chunks[1].StartWordIndex, chunks[1].EndWordIndex)
	}
	last := chunks[len(chunks)-1]
	if last.EndWordIndex != 25 {
		t.Errorf("last chunk should end at 25, got %d", last.EndWordIndex)
	}
	if last.WordCount != 4 {
		t.Errorf("last chunk should be short (4 words), got %d", last.WordCount)
	}
}

func TestProcessStructuredDocument(t *testing.T) {
	p := NewProcessor(Config{ChunkSize: 50, ChunkOverlap: 5})
	d := doc(`{"contact_name": "Jane Smith", "email": "jane@acme.com"}`, "crm_contacts", map[string]interface{}{
		"record_id": "42",
	})

	chunks, format, err := p.Process(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if format != FormatCRMContact {
		t.Errorf("format = %v", format)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "Name: Jane Smith.") {
		t.Errorf("chunk content = %q", chunks[0].Content)
	}
	if chunks[0].Metadata["document_id"] != "doc-1" {
		t.Errorf("chunk metadata missing document id")
	}
	if chunks[0].Metadata["data_format"] != "crm_contact" {
		t.Errorf("chunk metadata missing data format")
	}
	if chunks[0].Metadata["record_id"] != "42" {
		t.Errorf("document metadata should propagate to chunks")
	}
}

func TestProcessEmptyDocumentFails(t *testing.T) {
	p := NewProcessor(Config{})
	if _, _, err := p.Process(doc("   \n\t ", "notes", nil)); err == nil {
		t.Error("expected error for empty content")
	}
}
