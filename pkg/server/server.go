package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cognidesk/cognidesk/pkg/batch"
	"github.com/cognidesk/cognidesk/pkg/citation"
	"github.com/cognidesk/cognidesk/pkg/config"
	"github.com/cognidesk/cognidesk/pkg/conversation"
	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/embedding"
	"github.com/cognidesk/cognidesk/pkg/indexing"
	"github.com/cognidesk/cognidesk/pkg/kvstore"
	"github.com/cognidesk/cognidesk/pkg/llm"
	"github.com/cognidesk/cognidesk/pkg/nlu"
	"github.com/cognidesk/cognidesk/pkg/observability"
	"github.com/cognidesk/cognidesk/pkg/orchestrator"
	"github.com/cognidesk/cognidesk/pkg/search"
	"github.com/cognidesk/cognidesk/pkg/tool"
)

// Dependencies are the wired components the HTTP surface exposes. Optional
// components may be nil; their endpoints answer 503.
type Dependencies struct {
	NLU           *nlu.Processor
	Conversations *conversation.Manager
	Tools         *tool.Dispatcher
	Orchestrator  *orchestrator.Orchestrator
	Indexing      *indexing.Manager
	Batch         *batch.Processor
	Searcher      *search.Searcher
	Citations     *citation.Generator
	Engine        *embedding.Engine
	Extractor     *document.Extractor
	Provider      llm.Provider
	Store         kvstore.Store
	Metrics       *observability.Metrics
}

// Server is the HTTP front of the assistant.
type Server struct {
	cfg  config.ServerConfig
	deps Dependencies
	http *http.Server
}

func New(cfg config.ServerConfig, deps Dependencies) *Server {
	cfg.SetDefaults()

	s := &Server{cfg: cfg, deps: deps}
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestMetrics)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	// Conversational surface.
	r.Post("/nlu", s.handleNLU)
	r.Post("/agent", s.handleAgent)
	r.Post("/agent/stream", s.handleAgentStream)
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", s.handleListConversations)
		r.Post("/", s.handleCreateConversation)
		r.Get("/{id}", s.handleGetConversation)
		r.Delete("/{id}", s.handleDeleteConversation)
		r.Post("/{id}/messages", s.handleAppendMessage)
	})
	r.Get("/intents", s.handleIntents)
	r.Get("/entities", s.handleEntities)
	r.Route("/tools", func(r chi.Router) {
		r.Get("/", s.handleListTools)
		r.Post("/execute", s.handleExecuteTool)
	})

	// Knowledge surface.
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", s.handleUploadDocument)
		r.Post("/text", s.handleIndexText)
		r.Get("/", s.handleListDocuments)
		r.Delete("/{id}", s.handleDeleteDocument)
	})
	r.Post("/search", s.handleSearch)
	r.Post("/rag", s.handleRAG)
	r.Post("/embeddings", s.handleEmbeddings)

	return r
}

// ListenAndServe blocks until the listener stops.
func (s *Server) ListenAndServe() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
