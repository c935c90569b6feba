package conversation

import "time"

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one durable conversation entry. Sequence numbers are assigned
// by the manager and increase by one per accepted message.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int       `json:"sequence"`
	MessageID string    `json:"message_id"`

	Intent      string   `json:"intent,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	ToolsUsed   []string `json:"tools_used,omitempty"`
	RoutingUsed string   `json:"routing_used,omitempty"`
	AgentType   string   `json:"agent_type,omitempty"`
}

// Context is the in-memory working set entry for one conversation.
type Context struct {
	ConversationID   string    `json:"conversation_id"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	MessageCount     int       `json:"message_count"`
	Intents          []string  `json:"intents"`
	ConfidenceScores []float64 `json:"confidence_scores"`
	ActiveTools      map[string]bool `json:"active_tools"`
	Topic            string    `json:"topic,omitempty"`
	ErrorCount       int       `json:"error_count"`
	AgentSwitches    int       `json:"agent_switches"`
}

// Summary is the analytics view of one conversation.
type Summary struct {
	ConversationID   string         `json:"conversation_id"`
	MessageCount     int            `json:"message_count"`
	RoleDistribution map[Role]int   `json:"role_distribution"`
	AvgContentLength float64        `json:"avg_content_length"`
	IntentChanges    int            `json:"intent_changes"`
	ToolsUsed        int            `json:"tools_used"`
	ErrorRate        float64        `json:"error_rate"`
	Topic            string         `json:"topic,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	LastActivity     time.Time      `json:"last_activity"`
}
