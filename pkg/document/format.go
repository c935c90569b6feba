package document

import (
	"encoding/json"
	"strings"
)

// Format classifies document content for processing.
type Format string

const (
	FormatCRMContact     Format = "crm_contact"
	FormatCRMOpportunity Format = "crm_opportunity"
	FormatERPProduct     Format = "erp_product"
	FormatERPOrder       Format = "erp_order"
	FormatERPInvoice     Format = "erp_invoice"
	FormatGenericRecord  Format = "generic_record"
	FormatJSON           Format = "json"
	FormatText           Format = "text"
)

// knownFormats accepts a metadata hint only when it names a format we
// actually handle.
var knownFormats = map[Format]bool{
	FormatCRMContact:     true,
	FormatCRMOpportunity: true,
	FormatERPProduct:     true,
	FormatERPOrder:       true,
	FormatERPInvoice:     true,
	FormatGenericRecord:  true,
	FormatJSON:           true,
	FormatText:           true,
}

// DetectFormat resolves the content format. Precedence: explicit metadata
// hint, JSON probe with field inspection, source-string heuristic, plain
// text.
func DetectFormat(doc Document) Format {
	if doc.Metadata != nil {
		if hint, ok := doc.Metadata["data_format"].(string); ok {
			if f := Format(hint); knownFormats[f] {
				return f
			}
		}
	}

	var record map[string]interface{}
	if err := json.Unmarshal([]byte(doc.Content), &record); err == nil {
		return classifyRecord(record, doc.Source)
	}

	return classifySource(doc.Source, FormatText)
}

// classifyRecord inspects parsed JSON fields to pick a structured format.
func classifyRecord(record map[string]interface{}, source string) Format {
	has := func(keys ...string) bool {
		for _, key := range keys {
			if _, ok := record[key]; ok {
				return true
			}
		}
		return false
	}

	switch {
	case has("email", "contact_name", "first_name") && has("company", "account", "organization", "email"):
		return FormatCRMContact
	case has("opportunity_name", "deal_name", "stage", "close_date"):
		return FormatCRMOpportunity
	case has("sku", "product_code", "product_name") && has("price", "unit_price", "stock", "quantity_on_hand"):
		return FormatERPProduct
	case has("order_number", "order_id", "order_date"):
		return FormatERPOrder
	case has("invoice_number", "invoice_id", "invoice_date", "due_date"):
		return FormatERPInvoice
	}

	return classifySource(source, FormatGenericRecord)
}

// classifySource maps a source string to a format family.
func classifySource(source string, fallback Format) Format {
	s := strings.ToLower(source)
	switch {
	case strings.Contains(s, "contact"):
		return FormatCRMContact
	case strings.Contains(s, "opportunit"), strings.Contains(s, "deal"):
		return FormatCRMOpportunity
	case strings.Contains(s, "product"):
		return FormatERPProduct
	case strings.Contains(s, "order"):
		return FormatERPOrder
	case strings.Contains(s, "invoice"):
		return FormatERPInvoice
	case strings.Contains(s, "crm"), strings.Contains(s, "erp"):
		return FormatGenericRecord
	}
	return fallback
}
