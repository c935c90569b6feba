package document

import (
	"fmt"
	"sort"
	"strings"
)

// fieldMapping is one canonical field with its human label and the record
// keys accepted for it, in preference order.
type fieldMapping struct {
	label   string
	aliases []string
}

// Mapping tables per structured format. Order determines sentence order in
// the rendered text, so output is deterministic for a given record.
var formatMappings = map[Format][]fieldMapping{
	FormatCRMContact: {
		{"Name", []string{"name", "contact_name", "full_name", "first_name"}},
		{"Email", []string{"email", "email_address", "contact_email"}},
		{"Phone", []string{"phone", "phone_number", "mobile", "telephone"}},
		{"Company", []string{"company", "account", "organization", "company_name"}},
		{"Title", []string{"title", "job_title", "position", "role"}},
		{"Status", []string{"status", "lead_status", "lifecycle_stage"}},
		{"Owner", []string{"owner", "account_owner", "assigned_to"}},
		{"Notes", []string{"notes", "description", "comments"}},
	},
	FormatCRMOpportunity: {
		{"Opportunity", []string{"opportunity_name", "deal_name", "name", "title"}},
		{"Account", []string{"account", "company", "customer", "account_name"}},
		{"Stage", []string{"stage", "deal_stage", "pipeline_stage"}},
		{"Amount", []string{"amount", "value", "deal_value", "expected_revenue"}},
		{"Close date", []string{"close_date", "expected_close_date", "closing_date"}},
		{"Probability", []string{"probability", "win_probability"}},
		{"Owner", []string{"owner", "sales_rep", "assigned_to"}},
		{"Notes", []string{"notes", "description", "next_steps"}},
	},
	FormatERPProduct: {
		{"Product", []string{"product_name", "name", "title"}},
		{"SKU", []string{"sku", "product_code", "item_code", "part_number"}},
		{"Category", []string{"category", "product_category", "product_type"}},
		{"Price", []string{"price", "unit_price", "list_price"}},
		{"Stock", []string{"stock", "quantity_on_hand", "inventory", "qty"}},
		{"Supplier", []string{"supplier", "vendor", "manufacturer"}},
		{"Description", []string{"description", "details", "summary"}},
	},
	FormatERPOrder: {
		{"Order", []string{"order_number", "order_id", "number"}},
		{"Customer", []string{"customer", "customer_name", "account", "client"}},
		{"Date", []string{"order_date", "date", "created_date"}},
		{"Status", []string{"status", "order_status", "fulfillment_status"}},
		{"Total", []string{"total", "total_amount", "order_total", "amount"}},
		{"Items", []string{"items", "line_items", "products"}},
		{"Shipping", []string{"shipping_address", "ship_to", "delivery_address"}},
	},
	FormatERPInvoice: {
		{"Invoice", []string{"invoice_number", "invoice_id", "number"}},
		{"Customer", []string{"customer", "customer_name", "bill_to", "account"}},
		{"Date", []string{"invoice_date", "date", "issued_date"}},
		{"Due date", []string{"due_date", "payment_due"}},
		{"Amount", []string{"amount", "total", "total_amount", "balance_due"}},
		{"Status", []string{"status", "payment_status"}},
		{"Terms", []string{"terms", "payment_terms"}},
	},
}

// renderRecord turns a parsed record into "Label: value." sentences using the
// format's mapping table. Unknown formats fall back to renderGeneric.
func renderRecord(format Format, record map[string]interface{}) string {
	mappings, ok := formatMappings[format]
	if !ok {
		return renderGeneric(record)
	}

	var sentences []string
	for _, m := range mappings {
		for _, alias := range m.aliases {
			value, ok := record[alias]
			if !ok {
				continue
			}
			text := formatValue(value)
			if text == "" {
				continue
			}
			sentences = append(sentences, fmt.Sprintf("%s: %s.", m.label, text))
			break
		}
	}

	if len(sentences) == 0 {
		return renderGeneric(record)
	}
	return strings.Join(sentences, " ")
}

// renderGeneric renders any record as title-cased "Key: value." sentences in
// sorted key order.
func renderGeneric(record map[string]interface{}) string {
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sentences []string
	for _, key := range keys {
		text := formatValue(record[key])
		if text == "" {
			continue
		}
		sentences = append(sentences, fmt.Sprintf("%s: %s.", labelFor(key), text))
	}
	return strings.Join(sentences, " ")
}

// labelFor converts snake_case keys to a spaced, capitalized label.
func labelFor(key string) string {
	words := strings.Split(strings.ReplaceAll(key, "_", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		if i == 0 {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// formatValue flattens scalars, lists and nested objects into plain text.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if text := formatValue(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			if text := formatValue(v[key]); text != "" {
				parts = append(parts, fmt.Sprintf("%s %s", strings.ReplaceAll(key, "_", " "), text))
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
