package orchestrator

import (
	"strings"

	"github.com/cognidesk/cognidesk/pkg/conversation"
	"github.com/cognidesk/cognidesk/pkg/nlu"
)

// toolIntents are the intents that always route to tool execution.
var toolIntents = map[string]bool{
	"create_contact":   true,
	"update_contact":   true,
	"search_contact":   true,
	"create_order":     true,
	"update_order":     true,
	"search_order":     true,
	"get_inventory":    true,
	"update_inventory": true,
	"generate_report":  true,
	"schedule_meeting": true,
}

// actionVerbs combined with a business entity route to tools even without a
// recognized tool intent.
var actionVerbs = map[string]bool{
	"create": true,
	"update": true,
	"delete": true,
	"modify": true,
	"change": true,
}

// ragKeywords mark informational questions that benefit from retrieval.
var ragKeywords = map[string]bool{
	"how":           true,
	"what":          true,
	"why":           true,
	"when":          true,
	"where":         true,
	"explain":       true,
	"tell me":       true,
	"information":   true,
	"details":       true,
	"documentation": true,
	"guide":         true,
	"help":          true,
	"procedure":     true,
	"process":       true,
	"policy":        true,
	"workflow":      true,
}

// businessEntityLabels are labels tied to CRM/ERP records.
var businessEntityLabels = map[string]bool{
	"EMPLOYEE_ID":     true,
	"CUSTOMER_ID":     true,
	"ORDER_ID":        true,
	"PRODUCT_CODE":    true,
	"INVOICE_NUMBER":  true,
	"PURCHASE_ORDER":  true,
	"TICKET_ID":       true,
	"PROJECT_CODE":    true,
	"DEPARTMENT":      true,
	"JOB_TITLE":       true,
	"OFFICE_LOCATION": true,
	"DELIVERY_DATE":   true,
	"MEETING_TIME":    true,
}

// route decides the branch after context analysis. The rules are ordered:
// error budget first, then explicit tool intents, then business entities
// paired with an action verb, then informational questions, else direct.
func route(st *state, convCtx *conversation.Context, maxErrors int) Route {
	if convCtx != nil && convCtx.ErrorCount > maxErrors {
		return RouteError
	}

	if st.intent != nil && toolIntents[st.intent.Name] {
		return RouteTools
	}

	if hasBusinessEntity(st.entities) && hasActionVerb(st.req.Message) {
		return RouteTools
	}

	if wantsKnowledge(st) {
		return RouteRAG
	}

	return RouteDirect
}

func hasBusinessEntity(entities []nlu.Entity) bool {
	for _, e := range entities {
		if businessEntityLabels[e.Label] {
			return true
		}
	}
	return false
}

func hasActionVerb(message string) bool {
	for _, word := range strings.Fields(strings.ToLower(message)) {
		if actionVerbs[strings.Trim(word, ".,!?")] {
			return true
		}
	}
	return false
}

// wantsKnowledge is true for informational questions of some substance that
// are not simple greetings or help requests.
func wantsKnowledge(st *state) bool {
	if st.intent != nil && (st.intent.Name == "greeting" || st.intent.Name == "help") {
		return false
	}

	message := strings.ToLower(st.req.Message)
	words := strings.Fields(message)
	if len(words) <= 3 {
		return false
	}

	for keyword := range ragKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}
