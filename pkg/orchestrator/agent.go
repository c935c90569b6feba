package orchestrator

import "strings"

// crmIntents and erpIntents map intents onto their owning agent.
var crmIntents = map[string]bool{
	"create_contact": true,
	"update_contact": true,
	"search_contact": true,
}

var erpIntents = map[string]bool{
	"create_order":     true,
	"update_order":     true,
	"search_order":     true,
	"get_inventory":    true,
	"update_inventory": true,
}

var coordinatorIntents = map[string]bool{
	"generate_report":  true,
	"schedule_meeting": true,
}

// selectAgent picks the persona for the turn. Intent wins; business
// entities without a recognized intent go to the coordinator.
func selectAgent(st *state) AgentType {
	if st.intent != nil {
		switch {
		case crmIntents[st.intent.Name]:
			return AgentCRM
		case erpIntents[st.intent.Name]:
			return AgentERP
		case coordinatorIntents[st.intent.Name]:
			return AgentCoordinator
		}
	}

	if hasBusinessEntity(st.entities) {
		return AgentCoordinator
	}

	return AgentGeneral
}

// systemPrompt is the per-agent instruction used for response generation.
func systemPrompt(agent AgentType) string {
	var b strings.Builder
	b.WriteString("You are a business assistant for an internal CRM/ERP platform. ")

	switch agent {
	case AgentCRM:
		b.WriteString("You specialize in customer relationship management: contacts, companies and communication history. ")
	case AgentERP:
		b.WriteString("You specialize in operations: orders, inventory, invoices and purchase orders. ")
	case AgentCoordinator:
		b.WriteString("You coordinate tasks: reports, meetings and scheduling. ")
	default:
		b.WriteString("You answer general questions about the platform and company processes. ")
	}

	b.WriteString("Answer concisely. When tool results or retrieved documents are provided, ")
	b.WriteString("ground your answer in them and do not invent facts.")
	return b.String()
}
