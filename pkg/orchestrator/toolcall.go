package orchestrator

import (
	"context"
	"log/slog"

	"github.com/cognidesk/cognidesk/pkg/nlu"
)

// entityParams maps entity labels onto tool parameter names.
var entityParams = map[string]string{
	"PERSON":         "name",
	"EMAIL":          "email",
	"PHONE":          "phone",
	"ORGANIZATION":   "company",
	"PRODUCT":        "product",
	"MONEY":          "amount",
	"DATE":           "date",
	"TIME":           "time",
	"QUANTITY":       "quantity",
	"ORDER_ID":       "order_id",
	"CUSTOMER_ID":    "customer_id",
	"PRODUCT_CODE":   "product_code",
	"INVOICE_NUMBER": "invoice_number",
}

// intentTools maps tool intents onto the registered tool names.
var intentTools = map[string]string{
	"create_contact":   "create_crm_contact",
	"update_contact":   "update_crm_contact",
	"search_contact":   "search_crm_contacts",
	"create_order":     "create_erp_order",
	"update_order":     "update_erp_order",
	"search_order":     "search_erp_orders",
	"get_inventory":    "check_erp_inventory",
	"update_inventory": "update_erp_inventory",
	"generate_report":  "generate_report",
	"schedule_meeting": "schedule_meeting",
}

// selectTool resolves the tool and its parameters for the turn. The tool
// name comes from the intent mapping; parameters come from intent
// extraction first, entity mapping fills the gaps.
func selectTool(st *state) (string, map[string]interface{}) {
	if st.intent == nil || !toolIntents[st.intent.Name] {
		return "", nil
	}

	params := make(map[string]interface{})
	for _, e := range st.entities {
		if key, ok := entityParams[e.Label]; ok {
			if _, exists := params[key]; !exists {
				params[key] = e.Text
			}
		}
	}
	for key, value := range st.intent.Parameters {
		params[key] = value
	}

	name := intentTools[st.intent.Name]
	if name == "" {
		name = st.intent.Name
	}
	return name, params
}

// Dispatcher is the slice of the tool layer the workflow needs.
type Dispatcher interface {
	Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error)
}

// executeTool runs the selected tool and records the outcome on the state.
// Tool failures do not abort the turn; the response node explains them.
func executeTool(ctx context.Context, dispatcher Dispatcher, st *state, name string, params map[string]interface{}) {
	result := ToolResult{Tool: name, Parameters: params}

	output, err := dispatcher.Execute(ctx, name, params)
	if err != nil {
		result.Error = err.Error()
		slog.Warn("Tool execution failed", "tool", name, "error", err)
	} else {
		result.Output = output
	}

	st.toolResults = append(st.toolResults, result)
}

// entityLabels lists distinct labels for logging and summaries.
func entityLabels(entities []nlu.Entity) []string {
	seen := make(map[string]bool, len(entities))
	var labels []string
	for _, e := range entities {
		if !seen[e.Label] {
			seen[e.Label] = true
			labels = append(labels, e.Label)
		}
	}
	return labels
}
