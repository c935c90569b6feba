// Package app wires the configured components into a running service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

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
	"github.com/cognidesk/cognidesk/pkg/server"
	"github.com/cognidesk/cognidesk/pkg/tool"
	"github.com/cognidesk/cognidesk/pkg/vector"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg *config.Config

	store         *kvstore.RedisStore
	vectors       vector.Provider
	engine        *embedding.Engine
	searcher      *search.Searcher
	citations     *citation.Generator
	provider      llm.Provider
	nlu           *nlu.Processor
	conversations *conversation.Manager
	tools         *tool.Dispatcher
	indexing      *indexing.Manager
	watcher       *indexing.Watcher
	batch         *batch.Processor
	orchestrator  *orchestrator.Orchestrator
	metrics       *observability.Metrics
	server        *server.Server

	shutdownTracer func(context.Context) error
}

// New builds the full component graph. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownTracer = shutdownTracer

	if cfg.Observability.Metrics.Enabled {
		a.metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	a.store, err = kvstore.NewRedisStore(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a.vectors, err = vector.NewProvider(cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	a.engine, err = embedding.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding engine: %w", err)
	}

	a.searcher = search.NewSearcher(a.engine, a.vectors, cfg.Search)
	a.citations = citation.NewGenerator(cfg.Citations)

	// The LLM is optional. Without a key the orchestrator and RAG answers
	// fall back to template responses and raw snippets.
	if cfg.LLM.APIKey != "" {
		a.provider, err = llm.NewOpenAIProvider(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider: %w", err)
		}
	} else {
		slog.Warn("No LLM API key configured, responses use fallback templates")
	}

	a.nlu, err = nlu.NewProcessor(cfg.NLU, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create nlu processor: %w", err)
	}

	a.conversations = conversation.NewManager(conversation.NewHistoryStore(a.store), cfg.Conversation)

	a.tools, err = tool.NewDispatcher(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("create tool dispatcher: %w", err)
	}

	processor := document.NewProcessor(cfg.Document)
	a.indexing = indexing.NewManager(cfg.Indexing, a.store, processor, a.engine, a.vectors, a.searcher)
	a.batch = batch.NewProcessor(cfg.Batch, a.store, a.indexing, batch.NewSQLFetcher())

	if cfg.Indexing.Watch.Folder != "" {
		a.watcher, err = indexing.NewWatcher(cfg.Indexing.Watch, a.indexing, document.NewExtractor())
		if err != nil {
			return nil, fmt.Errorf("create folder watcher: %w", err)
		}
	}

	a.orchestrator = orchestrator.New(cfg.Orchestrator, a.nlu, a.conversations, a.tools, a.searcher, a.citations, a.provider)

	a.server = server.New(cfg.Server, server.Dependencies{
		NLU:           a.nlu,
		Conversations: a.conversations,
		Tools:         a.tools,
		Orchestrator:  a.orchestrator,
		Indexing:      a.indexing,
		Batch:         a.batch,
		Searcher:      a.searcher,
		Citations:     a.citations,
		Engine:        a.engine,
		Extractor:     document.NewExtractor(),
		Provider:      a.provider,
		Store:         a.store,
		Metrics:       a.metrics,
	})

	return a, nil
}

// IndexDocument queues one document for indexing.
func (a *App) IndexDocument(ctx context.Context, doc document.Document) (string, error) {
	return a.indexing.IndexDocument(ctx, doc)
}

// DrainIndexing runs the indexing workers until the given jobs finish.
// Used by one-off CLI indexing where the server never starts.
func (a *App) DrainIndexing(ctx context.Context, jobIDs []string, wait bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.indexing.Start(runCtx)
	defer a.indexing.Stop()

	if !wait {
		return nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	pending := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = struct{}{}
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for id := range pending {
			job, err := a.indexing.GetJob(ctx, id)
			if err != nil {
				delete(pending, id)
				continue
			}
			if job.Status == indexing.JobCompleted || job.Status == indexing.JobFailed {
				slog.Info("Indexing job finished", "job_id", id, "status", job.Status)
				delete(pending, id)
			}
		}
	}
	return nil
}

// Run starts the background workers and serves HTTP until ctx is
// cancelled, then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.conversations.Start()
	a.indexing.Start(runCtx)
	if err := a.batch.Start(runCtx); err != nil {
		return fmt.Errorf("start batch processor: %w", err)
	}
	if a.watcher != nil {
		if err := a.watcher.Start(runCtx); err != nil {
			return fmt.Errorf("start folder watcher: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.shutdown()
	return serveErr
}

// shutdown drains components in reverse startup order.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		slog.Warn("HTTP shutdown failed", "error", err)
	}

	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.batch.Stop()
	a.indexing.Stop()
	a.conversations.Stop()

	if err := a.engine.Close(); err != nil {
		slog.Warn("Embedding engine close failed", "error", err)
	}
	if err := a.vectors.Close(); err != nil {
		slog.Warn("Vector store close failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("Redis close failed", "error", err)
	}
	if err := a.shutdownTracer(ctx); err != nil {
		slog.Warn("Tracer shutdown failed", "error", err)
	}
}
