package orchestrator

import (
	"time"

	"github.com/cognidesk/cognidesk/pkg/citation"
	"github.com/cognidesk/cognidesk/pkg/nlu"
	"github.com/cognidesk/cognidesk/pkg/search"
)

// Node names the workflow steps in execution order.
type Node string

const (
	NodeIntent          Node = "intent_classification"
	NodeEntities        Node = "entity_extraction"
	NodeContextAnalysis Node = "context_analysis"
	NodeToolSelect      Node = "tool_selection"
	NodeToolExec        Node = "tool_execution"
	NodeRAG             Node = "knowledge_retrieval"
	NodeError           Node = "error_handling"
	NodeResponse        Node = "response_generation"
	NodeConvUpdate      Node = "conversation_update"
	NodeEnd             Node = "end"
)

// Route is the branch chosen after context analysis.
type Route string

const (
	RouteTools  Route = "tools"
	RouteRAG    Route = "rag"
	RouteDirect Route = "direct"
	RouteError  Route = "error"
)

// AgentType selects the persona answering the user.
type AgentType string

const (
	AgentCRM         AgentType = "CRM_AGENT"
	AgentERP         AgentType = "ERP_AGENT"
	AgentCoordinator AgentType = "TASK_COORDINATOR"
	AgentGeneral     AgentType = "GENERAL_ASSISTANT"
)

// Request is one user turn entering the workflow.
type Request struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Language       string `json:"language,omitempty"`
}

// ToolResult records one tool invocation made during the turn.
type ToolResult struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters"`
	Output     interface{}            `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Result is the finished turn.
type Result struct {
	ConversationID string              `json:"conversation_id"`
	Response       string              `json:"response"`
	Intent         *nlu.Intent         `json:"intent,omitempty"`
	Entities       []nlu.Entity        `json:"entities,omitempty"`
	Route          Route               `json:"route"`
	Agent          AgentType           `json:"agent"`
	ToolResults    []ToolResult        `json:"tool_results,omitempty"`
	Citations      []citation.Citation `json:"citations,omitempty"`
	Fallback       bool                `json:"fallback,omitempty"`
	ProcessingTime time.Duration       `json:"processing_time"`
}

// state is the mutable workflow state threaded through the nodes.
type state struct {
	req      Request
	started  time.Time
	intent   *nlu.Intent
	entities []nlu.Entity
	route    Route
	agent    AgentType

	toolResults []ToolResult
	ragResults  []search.Result
	citations   []citation.Citation

	response string
	fallback bool
	err      error
}

// Frame is one streaming update emitted while the workflow runs.
type Frame struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

const (
	FrameWorkflowUpdate = "workflow_update"
	FrameError          = "error"
)
