package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cognidesk/cognidesk/pkg/citation"
	"github.com/cognidesk/cognidesk/pkg/conversation"
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/llm"
	"github.com/cognidesk/cognidesk/pkg/nlu"
	"github.com/cognidesk/cognidesk/pkg/search"
)

// Config configures the workflow.
type Config struct {
	// MaxErrors is the per-conversation error budget before the workflow
	// short-circuits to the error branch (default: 3).
	MaxErrors int `yaml:"max_errors,omitempty"`

	// HistoryLimit is how many prior messages go to the model (default: 5).
	HistoryLimit int `yaml:"history_limit,omitempty"`

	// MaxSnippets and SnippetLength bound the retrieved context handed to
	// the model (defaults: 3, 500).
	MaxSnippets   int `yaml:"max_snippets,omitempty"`
	SnippetLength int `yaml:"snippet_length,omitempty"`

	// SearchTopK is the retrieval depth (default: 5).
	SearchTopK int `yaml:"search_top_k,omitempty"`

	// DefaultLanguage applies when the request does not set one.
	DefaultLanguage string `yaml:"default_language,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.MaxErrors <= 0 {
		c.MaxErrors = 3
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 5
	}
	if c.MaxSnippets <= 0 {
		c.MaxSnippets = 3
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = 500
	}
	if c.SearchTopK <= 0 {
		c.SearchTopK = 5
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
}

// Orchestrator runs one user turn through the workflow graph: understand,
// route, act, respond, persist.
type Orchestrator struct {
	cfg Config

	nlu        *nlu.Processor
	conv       *conversation.Manager
	dispatcher Dispatcher
	searcher   *search.Searcher
	citations  *citation.Generator
	provider   llm.Provider

	tracer trace.Tracer
	now    func() time.Time
}

// New wires the workflow. searcher may be nil when retrieval is disabled;
// provider may be nil to force deterministic responses.
func New(cfg Config, nluProc *nlu.Processor, conv *conversation.Manager, dispatcher Dispatcher, searcher *search.Searcher, citations *citation.Generator, provider llm.Provider) *Orchestrator {
	cfg.SetDefaults()
	return &Orchestrator{
		cfg:        cfg,
		nlu:        nluProc,
		conv:       conv,
		dispatcher: dispatcher,
		searcher:   searcher,
		citations:  citations,
		provider:   provider,
		tracer:     otel.Tracer("cognidesk/orchestrator"),
		now:        time.Now,
	}
}

// Process runs one turn to completion.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, req, nil)
}

// ProcessStream runs one turn, emitting workflow updates as they happen. The
// channel closes when the turn finishes; the final frame carries the result.
func (o *Orchestrator) ProcessStream(ctx context.Context, req Request) (<-chan Frame, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fault.Validation("orchestrator", "message is required")
	}

	frames := make(chan Frame, 16)
	go func() {
		defer close(frames)

		emit := func(f Frame) {
			select {
			case frames <- f:
			case <-ctx.Done():
			}
		}

		result, err := o.run(ctx, req, emit)
		if err != nil {
			emit(Frame{
				Type:      FrameError,
				Data:      map[string]interface{}{"error": err.Error()},
				Timestamp: o.now(),
			})
			return
		}
		emit(Frame{
			Type: FrameWorkflowUpdate,
			Data: map[string]interface{}{
				"node":   string(NodeEnd),
				"result": result,
			},
			Timestamp: o.now(),
		})
	}()
	return frames, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, emit func(Frame)) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fault.Validation("orchestrator", "message is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.Language == "" {
		req.Language = o.cfg.DefaultLanguage
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("conversation.id", req.ConversationID)))
	defer span.End()

	st := &state{req: req, started: o.now()}

	// Understand.
	nluResult, err := o.runNLU(ctx, st, emit)
	if err != nil {
		return nil, err
	}
	st.intent = nluResult.Intent
	st.entities = nluResult.Entities
	o.notify(emit, NodeIntent, map[string]interface{}{"intent": st.intent})
	o.notify(emit, NodeEntities, map[string]interface{}{"labels": entityLabels(st.entities)})

	// Route.
	convCtx := o.conv.Create(req.ConversationID)
	st.route = route(st, convCtx, o.cfg.MaxErrors)
	st.agent = selectAgent(st)
	span.SetAttributes(
		attribute.String("workflow.route", string(st.route)),
		attribute.String("workflow.agent", string(st.agent)))
	o.notify(emit, NodeContextAnalysis, map[string]interface{}{
		"route": string(st.route),
		"agent": string(st.agent),
	})

	// Act.
	switch st.route {
	case RouteTools:
		o.runTools(ctx, st, emit)
	case RouteRAG:
		o.runRetrieval(ctx, st, emit)
	case RouteError:
		st.err = fault.Internal("orchestrator", "conversation error budget exhausted")
		o.notify(emit, NodeError, map[string]interface{}{"error": st.err.Error()})
	}

	// Respond.
	o.runResponse(ctx, st)
	o.notify(emit, NodeResponse, map[string]interface{}{"fallback": st.fallback})

	// Persist, user turn first.
	o.persistTurn(ctx, st)
	o.notify(emit, NodeConvUpdate, nil)

	return &Result{
		ConversationID: req.ConversationID,
		Response:       st.response,
		Intent:         st.intent,
		Entities:       st.entities,
		Route:          st.route,
		Agent:          st.agent,
		ToolResults:    st.toolResults,
		Citations:      st.citations,
		Fallback:       st.fallback,
		ProcessingTime: o.now().Sub(st.started),
	}, nil
}

func (o *Orchestrator) runNLU(ctx context.Context, st *state, emit func(Frame)) (*nlu.Result, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.nlu")
	defer span.End()

	result, err := o.nlu.Process(ctx, st.req.Message, st.req.Language, true, true)
	if err != nil {
		return nil, fmt.Errorf("nlu: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) runTools(ctx context.Context, st *state, emit func(Frame)) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.tools")
	defer span.End()

	name, params := selectTool(st)
	if name == "" {
		// Action verb plus business entity but no recognized tool intent:
		// fall through to a direct answer.
		st.route = RouteDirect
		return
	}
	o.notify(emit, NodeToolSelect, map[string]interface{}{"tool": name})

	span.SetAttributes(attribute.String("tool.name", name))
	executeTool(ctx, o.dispatcher, st, name, params)
	o.notify(emit, NodeToolExec, map[string]interface{}{"tool": name})

	for _, r := range st.toolResults {
		if r.Error != "" {
			o.conv.RecordError(st.req.ConversationID)
		}
	}
}

func (o *Orchestrator) runRetrieval(ctx context.Context, st *state, emit func(Frame)) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.retrieval")
	defer span.End()

	if o.searcher == nil {
		st.route = RouteDirect
		return
	}

	results, err := o.searcher.Search(ctx, st.req.Message, search.Options{
		TopK: o.cfg.SearchTopK,
		Type: search.TypeHybrid,
	})
	if err != nil {
		slog.Warn("Retrieval failed, answering without context", "error", err)
		o.conv.RecordError(st.req.ConversationID)
		return
	}

	st.ragResults = results
	if o.citations != nil {
		st.citations = o.citations.Generate(results, st.req.Message)
	}
	o.notify(emit, NodeRAG, map[string]interface{}{"results": len(results)})
}

// runResponse asks the model for the answer, falling back to a deterministic
// response when no provider is wired or the call fails.
func (o *Orchestrator) runResponse(ctx context.Context, st *state) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.response")
	defer span.End()

	if st.route == RouteError {
		st.response = "I'm having trouble with this conversation right now. Please start a new conversation or contact support."
		st.fallback = true
		return
	}

	if o.provider == nil {
		st.response = o.fallbackResponse(st)
		st.fallback = true
		return
	}

	resp, err := o.provider.Complete(ctx, llm.Request{Messages: o.buildMessages(ctx, st)})
	if err != nil {
		slog.Warn("Model completion failed, using deterministic response", "error", err)
		st.response = o.fallbackResponse(st)
		st.fallback = true
		return
	}
	st.response = resp.Content
}

// buildMessages assembles [system with turn context, recent history, user].
func (o *Orchestrator) buildMessages(ctx context.Context, st *state) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: o.turnSystemPrompt(st)}}

	history, err := o.conv.GetHistory(ctx, st.req.ConversationID, o.cfg.HistoryLimit)
	if err == nil {
		for _, msg := range history {
			messages = append(messages, llm.Message{Role: string(msg.Role), Content: msg.Content})
		}
	}

	return append(messages, llm.Message{Role: "user", Content: st.req.Message})
}

// turnSystemPrompt extends the persona with the turn's analysis: the
// classified intent, tool outcomes and retrieved snippets.
func (o *Orchestrator) turnSystemPrompt(st *state) string {
	var b strings.Builder
	b.WriteString(systemPrompt(st.agent))

	if st.intent != nil {
		fmt.Fprintf(&b, "\n\nDetected intent: %s (confidence %.2f).", st.intent.Name, st.intent.Confidence)
	}

	if len(st.toolResults) > 0 {
		fmt.Fprintf(&b, "\n\nTool results (%d):", len(st.toolResults))
		for _, r := range st.toolResults {
			if r.Error != "" {
				fmt.Fprintf(&b, "\n- %s failed: %s", r.Tool, r.Error)
			} else {
				fmt.Fprintf(&b, "\n- %s: %v", r.Tool, r.Output)
			}
		}
	}

	if len(st.ragResults) > 0 {
		fmt.Fprintf(&b, "\n\nRetrieved documents (%d):", len(st.ragResults))
		limit := o.cfg.MaxSnippets
		if len(st.ragResults) < limit {
			limit = len(st.ragResults)
		}
		for i := 0; i < limit; i++ {
			fmt.Fprintf(&b, "\n[%d] %s", i+1, truncate(st.ragResults[i].Content, o.cfg.SnippetLength))
		}
	}

	return b.String()
}

// fallbackResponse produces a useful answer without a model.
func (o *Orchestrator) fallbackResponse(st *state) string {
	if len(st.toolResults) > 0 {
		r := st.toolResults[len(st.toolResults)-1]
		if r.Error != "" {
			return fmt.Sprintf("I couldn't complete the %s request: %s", r.Tool, r.Error)
		}
		return fmt.Sprintf("Done. %s completed successfully: %v", r.Tool, r.Output)
	}

	if len(st.ragResults) > 0 {
		var b strings.Builder
		b.WriteString("Here is what I found:\n")
		b.WriteString(truncate(st.ragResults[0].Content, o.cfg.SnippetLength))
		if len(st.citations) > 0 {
			b.WriteString("\n\nSources:\n")
			b.WriteString(citation.Bibliography(st.citations))
		}
		return b.String()
	}

	if st.intent != nil {
		switch st.intent.Name {
		case "greeting":
			return "Hello! I can help with contacts, orders, inventory, reports and company documentation. What do you need?"
		case "help":
			return "I can create and look up contacts and orders, check inventory, schedule meetings, generate reports and answer questions from company documentation."
		}
	}
	return "I understood your message but I don't have enough information to act on it. Could you rephrase or add details?"
}

// persistTurn writes the user message and then the assistant reply, keeping
// annotations on both.
func (o *Orchestrator) persistTurn(ctx context.Context, st *state) {
	userOpts := []conversation.MessageOption{
		conversation.WithRouting(string(st.route), string(st.agent)),
	}
	if st.intent != nil {
		userOpts = append(userOpts, conversation.WithIntent(st.intent.Name, st.intent.Confidence))
	}
	if _, err := o.conv.AddMessage(ctx, st.req.ConversationID, conversation.RoleUser, st.req.Message, userOpts...); err != nil {
		slog.Warn("User message persist failed", "conversation", st.req.ConversationID, "error", err)
	}

	assistantOpts := []conversation.MessageOption{
		conversation.WithRouting(string(st.route), string(st.agent)),
	}
	if len(st.toolResults) > 0 {
		tools := make([]string, 0, len(st.toolResults))
		for _, r := range st.toolResults {
			tools = append(tools, r.Tool)
		}
		assistantOpts = append(assistantOpts, conversation.WithTools(tools))
	}
	if _, err := o.conv.AddMessage(ctx, st.req.ConversationID, conversation.RoleAssistant, st.response, assistantOpts...); err != nil {
		slog.Warn("Assistant message persist failed", "conversation", st.req.ConversationID, "error", err)
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (o *Orchestrator) notify(emit func(Frame), node Node, data map[string]interface{}) {
	if emit == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["node"] = string(node)
	emit(Frame{Type: FrameWorkflowUpdate, Data: data, Timestamp: o.now()})
}
