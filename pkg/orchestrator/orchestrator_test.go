package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cognidesk/cognidesk/pkg/citation"
	"github.com/cognidesk/cognidesk/pkg/conversation"
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/kvstore"
	"github.com/cognidesk/cognidesk/pkg/llm"
	"github.com/cognidesk/cognidesk/pkg/nlu"
	"github.com/cognidesk/cognidesk/pkg/search"
)

type stubDispatcher struct {
	calls  []string
	params []map[string]interface{}
	output interface{}
	err    error
}

func (d *stubDispatcher) Execute(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	d.calls = append(d.calls, name)
	d.params = append(d.params, params)
	if d.err != nil {
		return nil, d.err
	}
	return d.output, nil
}

func newTestOrchestrator(t *testing.T, dispatcher Dispatcher, provider llm.Provider) (*Orchestrator, *conversation.Manager) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStoreFromClient(client)

	nluProc, err := nlu.NewProcessor(nlu.Config{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	conv := conversation.NewManager(conversation.NewHistoryStore(store), conversation.Config{})
	gen := citation.NewGenerator(citation.Config{})

	return New(Config{}, nluProc, conv, dispatcher, nil, gen, provider), conv
}

func TestGreetingGoesDirect(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubDispatcher{}, nil)

	result, err := o.Process(context.Background(), Request{Message: "Hello there!"})
	if err != nil {
		t.Fatal(err)
	}

	if result.Route != RouteDirect {
		t.Errorf("route = %s, want direct", result.Route)
	}
	if result.Intent == nil || result.Intent.Name != "greeting" {
		t.Errorf("intent = %+v", result.Intent)
	}
	if result.Agent != AgentGeneral {
		t.Errorf("agent = %s", result.Agent)
	}
	if !result.Fallback || result.Response == "" {
		t.Errorf("expected deterministic greeting, got %+v", result)
	}
}

func TestCreateContactRoutesToTools(t *testing.T) {
	dispatcher := &stubDispatcher{output: map[string]interface{}{"id": "c-1"}}
	o, conv := newTestOrchestrator(t, dispatcher, nil)

	result, err := o.Process(context.Background(), Request{
		ConversationID: "conv1",
		Message:        "Create a contact for Jane Smith, jane@acme.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Route != RouteTools || result.Agent != AgentCRM {
		t.Fatalf("route/agent = %s/%s", result.Route, result.Agent)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0] != "create_crm_contact" {
		t.Fatalf("tool calls = %v", dispatcher.calls)
	}
	if len(result.ToolResults) != 1 || result.ToolResults[0].Tool != "create_crm_contact" {
		t.Fatalf("tool results = %+v", result.ToolResults)
	}

	params := dispatcher.params[0]
	if params["name"] != "Jane Smith" {
		t.Errorf("name param = %v", params["name"])
	}
	if params["email"] != "jane@acme.com" {
		t.Errorf("email param = %v", params["email"])
	}

	// The turn persists user then assistant.
	history, err := conv.GetHistory(context.Background(), "conv1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Role != conversation.RoleUser || history[1].Role != conversation.RoleAssistant {
		t.Errorf("history = %+v", history)
	}
	if history[1].RoutingUsed != string(RouteTools) {
		t.Errorf("assistant routing = %q", history[1].RoutingUsed)
	}
}

func TestToolFailureKeepsTurnAlive(t *testing.T) {
	dispatcher := &stubDispatcher{err: errors.New("backend down")}
	o, conv := newTestOrchestrator(t, dispatcher, nil)

	result, err := o.Process(context.Background(), Request{
		ConversationID: "conv1",
		Message:        "Create a contact for Jane Smith",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.ToolResults) != 1 || result.ToolResults[0].Error == "" {
		t.Fatalf("tool results = %+v", result.ToolResults)
	}
	if !strings.Contains(result.Response, "couldn't complete") {
		t.Errorf("response = %q", result.Response)
	}
	if conv.GetContext("conv1").ErrorCount != 1 {
		t.Errorf("error count = %d", conv.GetContext("conv1").ErrorCount)
	}
}

func TestInformationalQuestionRoutesToRAG(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubDispatcher{}, nil)

	// No searcher is wired, so the turn downgrades to direct after routing.
	result, err := o.Process(context.Background(), Request{
		Message: "How do I submit an expense report for approval?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Route != RouteDirect {
		t.Errorf("route = %s", result.Route)
	}

	// The routing decision itself picks rag for this shape of question.
	st := &state{req: Request{Message: "How do I submit an expense report for approval?"}}
	if got := route(st, nil, 3); got != RouteRAG {
		t.Errorf("route decision = %s, want rag", got)
	}
}

func TestRouterDeterminism(t *testing.T) {
	tests := []struct {
		name   string
		st     state
		errors int
		want   Route
	}{
		{
			name:   "error budget exhausted",
			st:     state{req: Request{Message: "anything at all here"}},
			errors: 5,
			want:   RouteError,
		},
		{
			name: "tool intent",
			st: state{
				req:    Request{Message: "create an order"},
				intent: &nlu.Intent{Name: "create_order"},
			},
			want: RouteTools,
		},
		{
			name: "business entity with action verb",
			st: state{
				req:      Request{Message: "Please update SO-12345 right away"},
				entities: []nlu.Entity{{Label: "ORDER_ID", Text: "SO-12345"}},
			},
			want: RouteTools,
		},
		{
			name: "short question stays direct",
			st:   state{req: Request{Message: "what now?"}},
			want: RouteDirect,
		},
		{
			name: "greeting never rags",
			st: state{
				req:    Request{Message: "hello how are you doing today"},
				intent: &nlu.Intent{Name: "greeting"},
			},
			want: RouteDirect,
		},
		{
			name: "informational question",
			st:   state{req: Request{Message: "explain the refund approval process please"}},
			want: RouteRAG,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			convCtx := &conversation.Context{ErrorCount: tt.errors}
			if got := route(&tt.st, convCtx, 3); got != tt.want {
				t.Errorf("route = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAgentSelection(t *testing.T) {
	tests := []struct {
		name string
		st   state
		want AgentType
	}{
		{"crm intent", state{intent: &nlu.Intent{Name: "search_contact"}}, AgentCRM},
		{"erp intent", state{intent: &nlu.Intent{Name: "get_inventory"}}, AgentERP},
		{"coordinator intent", state{intent: &nlu.Intent{Name: "schedule_meeting"}}, AgentCoordinator},
		{"business entities without intent", state{entities: []nlu.Entity{{Label: "ORDER_ID"}, {Label: "INVOICE_NUMBER"}}}, AgentCoordinator},
		{"non-business entities", state{entities: []nlu.Entity{{Label: "EMAIL"}, {Label: "PERSON"}}}, AgentGeneral},
		{"default", state{}, AgentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectAgent(&tt.st); got != tt.want {
				t.Errorf("agent = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestModelResponseUsedWhenAvailable(t *testing.T) {
	provider := &llm.MockProvider{Reply: "Model says hi"}
	o, _ := newTestOrchestrator(t, &stubDispatcher{}, provider)

	result, err := o.Process(context.Background(), Request{Message: "Hello!"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Response != "Model says hi" || result.Fallback {
		t.Errorf("result = %+v", result)
	}

	// System prompt leads, user message closes.
	req := provider.Requests[0]
	if req.Messages[0].Role != "system" {
		t.Errorf("first message role = %s", req.Messages[0].Role)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "Hello!") {
		t.Errorf("last message = %+v", last)
	}
}

func TestSystemPromptCarriesTurnContext(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubDispatcher{}, nil)

	st := &state{
		agent:  AgentCRM,
		intent: &nlu.Intent{Name: "create_contact", Confidence: 0.9},
		toolResults: []ToolResult{
			{Tool: "create_crm_contact", Output: map[string]interface{}{"id": "c-1"}},
		},
		ragResults: []search.Result{{Content: strings.Repeat("日", 400)}},
	}

	prompt := o.turnSystemPrompt(st)
	for _, want := range []string{
		"Detected intent: create_contact",
		"Tool results (1):",
		"create_crm_contact",
		"Retrieved documents (1):",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !utf8.ValidString(prompt) {
		t.Error("snippet truncation split a rune")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("日", 200)
	got := truncate(s, 500)
	if len(got) > 500 {
		t.Errorf("truncated length = %d", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got[len(got)-3:])
	}
	if short := truncate("short", 500); short != "short" {
		t.Errorf("short string should pass through, got %q", short)
	}
}

func TestModelFailureFallsBack(t *testing.T) {
	provider := &llm.MockProvider{Err: errors.New("rate limited")}
	o, _ := newTestOrchestrator(t, &stubDispatcher{}, provider)

	result, err := o.Process(context.Background(), Request{Message: "Hello!"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Fallback || result.Response == "" {
		t.Errorf("expected fallback, got %+v", result)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubDispatcher{}, nil)

	_, err := o.Process(context.Background(), Request{Message: "   "})
	if fault.KindOf(err) != fault.KindValidation {
		t.Errorf("err = %v", err)
	}
}

func TestProcessStreamEmitsFramesAndResult(t *testing.T) {
	o, _ := newTestOrchestrator(t, &stubDispatcher{}, nil)

	frames, err := o.ProcessStream(context.Background(), Request{Message: "Hello there!"})
	if err != nil {
		t.Fatal(err)
	}

	var collected []Frame
	for f := range frames {
		collected = append(collected, f)
	}
	if len(collected) < 4 {
		t.Fatalf("frames = %d", len(collected))
	}

	for _, f := range collected {
		if f.Type != FrameWorkflowUpdate {
			t.Errorf("frame type = %s", f.Type)
		}
		if f.Timestamp.IsZero() {
			t.Errorf("frame missing timestamp")
		}
	}

	last := collected[len(collected)-1]
	if last.Data["node"] != string(NodeEnd) {
		t.Errorf("last frame = %+v", last)
	}
	if _, ok := last.Data["result"].(*Result); !ok {
		t.Errorf("last frame should carry the result: %+v", last.Data)
	}
}

func TestEntityParamMapping(t *testing.T) {
	st := &state{
		intent: &nlu.Intent{Name: "create_order", Parameters: map[string]string{"product": "from_intent"}},
		entities: []nlu.Entity{
			{Label: "PRODUCT", Text: "laptop"},
			{Label: "QUANTITY", Text: "5"},
			{Label: "MONEY", Text: "$1200"},
		},
	}

	name, params := selectTool(st)
	if name != "create_erp_order" {
		t.Fatalf("tool = %q", name)
	}
	// Intent extraction wins over entity mapping on collision.
	if params["product"] != "from_intent" {
		t.Errorf("product = %v", params["product"])
	}
	if params["quantity"] != "5" || params["amount"] != "$1200" {
		t.Errorf("params = %v", params)
	}
}
