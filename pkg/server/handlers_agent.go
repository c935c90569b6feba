package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cognidesk/cognidesk/pkg/conversation"
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/orchestrator"
)

type nluRequest struct {
	Text            string `json:"text"`
	Language        string `json:"language,omitempty"`
	ClassifyIntent  *bool  `json:"classify_intent,omitempty"`
	ExtractEntities *bool  `json:"extract_entities,omitempty"`
	ConversationID  string `json:"conversation_id,omitempty"`
}

func (s *Server) handleNLU(w http.ResponseWriter, r *http.Request) {
	var req nluRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Text == "" {
		respondError(w, fault.Validation("server", "text is required"))
		return
	}

	// Both stages run unless explicitly switched off.
	classify := req.ClassifyIntent == nil || *req.ClassifyIntent
	extract := req.ExtractEntities == nil || *req.ExtractEntities

	result, err := s.deps.NLU.Process(r.Context(), req.Text, req.Language, classify, extract)
	if err != nil {
		respondError(w, err)
		return
	}

	payload := map[string]interface{}{
		"text":            result.Text,
		"language":        result.Language,
		"entities":        result.Entities,
		"processing_time": result.ProcessingTime,
	}
	if result.Intent != nil {
		payload["intent"] = result.Intent
	}
	if req.ConversationID != "" {
		payload["conversation_id"] = req.ConversationID
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	result, err := s.deps.Orchestrator.Process(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.WorkflowTurns.WithLabelValues(string(result.Route), string(result.Agent)).Inc()
	}
	respondJSON(w, http.StatusOK, result)
}

// handleAgentStream runs a turn over server-sent events. Each workflow
// update is one data frame; the stream ends with [DONE].
func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, fault.Internal("server", "streaming unsupported by connection"))
		return
	}

	frames, err := s.deps.Orchestrator.ProcessStream(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": s.deps.Conversations.GetActive(limit),
		"active_count":  s.deps.Conversations.ActiveCount(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, err)
			return
		}
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	respondJSON(w, http.StatusCreated, s.deps.Conversations.Create(req.ConversationID))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 50)

	history, err := s.deps.Conversations.GetHistory(r.Context(), id, limit)
	if err != nil {
		respondError(w, err)
		return
	}

	payload := map[string]interface{}{
		"conversation_id": id,
		"messages":        history,
	}
	if summary, err := s.deps.Conversations.GetSummary(r.Context(), id); err == nil {
		payload["summary"] = summary
	}
	respondJSON(w, http.StatusOK, payload)
}

type appendMessageRequest struct {
	Role       string   `json:"role"`
	Content    string   `json:"content"`
	Intent     string   `json:"intent,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Tools      []string `json:"tools,omitempty"`
}

// handleAppendMessage records a message without running a turn. Used to
// mirror transcripts from external channels.
func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Content == "" {
		respondError(w, fault.Validation("server", "content is required"))
		return
	}

	role := conversation.Role(req.Role)
	switch role {
	case conversation.RoleUser, conversation.RoleAssistant, conversation.RoleSystem:
	default:
		respondError(w, fault.Validation("server", "unknown role %q", req.Role))
		return
	}

	var opts []conversation.MessageOption
	if req.Intent != "" {
		opts = append(opts, conversation.WithIntent(req.Intent, req.Confidence))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, conversation.WithTools(req.Tools))
	}

	msg, err := s.deps.Conversations.AddMessage(r.Context(), chi.URLParam(r, "id"), role, req.Content, opts...)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Conversations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	defs := s.deps.NLU.Classifier().Definitions()

	intents := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		intents = append(intents, map[string]interface{}{
			"name":                 def.Name,
			"keywords":             def.Keywords,
			"examples":             def.Examples,
			"confidence_threshold": def.ConfidenceThreshold,
		})
	}

	classified, avgConfidence := s.deps.NLU.Classifier().Stats()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"intents":        intents,
		"classified":     classified,
		"avg_confidence": avgConfidence,
	})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"labels": s.deps.NLU.Extractor().Labels(),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tools": s.deps.Tools.List(),
	})
}

type executeToolRequest struct {
	Tool       string                 `json:"tool"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req executeToolRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Tool == "" {
		respondError(w, fault.Validation("server", "tool is required"))
		return
	}

	result, err := s.deps.Tools.Execute(r.Context(), req.Tool, req.Parameters)
	if s.deps.Metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.deps.Metrics.ToolCalls.WithLabelValues(req.Tool, outcome).Inc()
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tool":   req.Tool,
		"result": result,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := map[string]string{}
	healthy := true

	if err := s.deps.Store.Ping(ctx); err != nil {
		components["kvstore"] = err.Error()
		healthy = false
	} else {
		components["kvstore"] = "ok"
	}

	if s.deps.Engine != nil {
		if err := s.deps.Engine.Health(ctx); err != nil {
			components["embedding"] = err.Error()
		} else {
			components["embedding"] = "ok"
		}
	}

	if s.deps.Tools != nil {
		if err := s.deps.Tools.Health(ctx); err != nil {
			components["tools"] = err.Error()
		} else {
			components["tools"] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":     state,
		"components": components,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	classified, avgConfidence := s.deps.NLU.Classifier().Stats()

	payload := map[string]interface{}{
		"nlu": map[string]interface{}{
			"classified":     classified,
			"avg_confidence": avgConfidence,
		},
		"conversations": map[string]interface{}{
			"active": s.deps.Conversations.ActiveCount(),
		},
	}
	if s.deps.Indexing != nil {
		payload["indexing"] = s.deps.Indexing.Stats()
	}
	if s.deps.Batch != nil {
		payload["batch"] = s.deps.Batch.Stats()
	}
	if s.deps.Searcher != nil {
		payload["search"] = map[string]interface{}{
			"term_index_size": s.deps.Searcher.TermIndexSize(),
		}
	}
	respondJSON(w, http.StatusOK, payload)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v
		}
	}
	return fallback
}
