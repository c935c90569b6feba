package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/embedding"
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/kvstore"
	"github.com/cognidesk/cognidesk/pkg/search"
	"github.com/cognidesk/cognidesk/pkg/vector"
)

// Config configures the indexing manager.
type Config struct {
	// Workers is the single-queue consumer count (default: 4).
	Workers int `yaml:"workers,omitempty"`

	// MaxRetries before a document is marked failed (default: 3).
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Collection is the vector store collection (default: documents).
	Collection string `yaml:"collection,omitempty"`

	// PollTimeout is the blocking queue pop timeout (default: 2s).
	PollTimeout time.Duration `yaml:"poll_timeout,omitempty"`

	// BulkBatchSize and BulkPacing control bulk fan-out (defaults: 10, 100ms).
	BulkBatchSize int           `yaml:"bulk_batch_size,omitempty"`
	BulkPacing    time.Duration `yaml:"bulk_pacing,omitempty"`

	// StatsInterval is the stats flush period (default: 30s).
	StatsInterval time.Duration `yaml:"stats_interval,omitempty"`

	// JanitorInterval and JobRetention control completed-job cleanup
	// (defaults: 10m, 24h).
	JanitorInterval time.Duration `yaml:"janitor_interval,omitempty"`
	JobRetention    time.Duration `yaml:"job_retention,omitempty"`

	// DrainTimeout bounds the shutdown wait for in-flight work (default: 5m).
	DrainTimeout time.Duration `yaml:"drain_timeout,omitempty"`

	// Watch configures optional folder watching.
	Watch WatcherConfig `yaml:"watch,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Second
	}
	if c.BulkBatchSize <= 0 {
		c.BulkBatchSize = 10
	}
	if c.BulkPacing <= 0 {
		c.BulkPacing = 100 * time.Millisecond
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 30 * time.Second
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 10 * time.Minute
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 24 * time.Hour
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Minute
	}
	c.Watch.SetDefaults()
}

// Manager runs durable, concurrent document indexing over KV-backed queues.
type Manager struct {
	cfg Config

	store     kvstore.Store
	processor *document.Processor
	engine    *embedding.Engine
	vectors   vector.Provider
	searcher  *search.Searcher

	mu   sync.RWMutex
	docs map[string]*IndexedDocument
	jobs map[string]*IndexingJob

	documentsIndexed atomic.Int64
	documentsFailed  atomic.Int64
	chunksIndexed    atomic.Int64
	retries          atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewManager wires the indexing pipeline. The searcher may be nil when
// sparse search is disabled.
func NewManager(cfg Config, store kvstore.Store, processor *document.Processor, engine *embedding.Engine, vectors vector.Provider, searcher *search.Searcher) *Manager {
	cfg.SetDefaults()
	return &Manager{
		cfg:       cfg,
		store:     store,
		processor: processor,
		engine:    engine,
		vectors:   vectors,
		searcher:  searcher,
		docs:      make(map[string]*IndexedDocument),
		jobs:      make(map[string]*IndexingJob),
		now:       time.Now,
	}
}

// Start launches workers, the bulk fan-out, the stats flusher and the
// janitor.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(runCtx, i)
	}

	m.wg.Add(1)
	go m.bulkLoop(runCtx)

	m.wg.Add(1)
	go m.periodicLoop(runCtx)
}

// Stop drains: cancels the loops and waits up to the drain timeout, then
// flushes stats and logs anything still in flight.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.DrainTimeout):
		slog.Warn("Indexing drain timed out with work in flight")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.flushStats(flushCtx); err != nil {
		slog.Warn("Final stats flush failed", "error", err)
	}
}

// IndexDocument enqueues one document and returns the owning job id.
func (m *Manager) IndexDocument(ctx context.Context, doc document.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	job := m.createJob(JobSingle, []string{doc.ID})
	if err := m.persistJob(ctx, job); err != nil {
		return "", err
	}
	if err := m.registerDocument(ctx, doc); err != nil {
		return "", err
	}

	record, err := json.Marshal(queueRecord{Document: doc, JobID: job.JobID})
	if err != nil {
		return "", fmt.Errorf("marshal queue record: %w", err)
	}
	if err := m.store.ListPush(ctx, kvstore.KeyIndexingQueue, string(record)); err != nil {
		return "", fault.Unavailable("indexing", "enqueue document %s: %v", doc.ID, err)
	}
	return job.JobID, nil
}

// IndexBulk enqueues a batch as one bulk job. The bulk worker fans it out
// into the single queue.
func (m *Manager) IndexBulk(ctx context.Context, docs []document.Document) (string, error) {
	if len(docs) == 0 {
		return "", fault.Validation("indexing", "bulk job requires at least one document")
	}

	ids := make([]string, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		ids[i] = docs[i].ID
	}

	job := m.createJob(JobBulk, ids)
	if err := m.persistJob(ctx, job); err != nil {
		return "", err
	}
	for _, doc := range docs {
		if err := m.registerDocument(ctx, doc); err != nil {
			return "", err
		}
	}

	record, err := json.Marshal(bulkRecord{Documents: docs, JobID: job.JobID})
	if err != nil {
		return "", fmt.Errorf("marshal bulk record: %w", err)
	}
	if err := m.store.ListPush(ctx, kvstore.KeyBulkIndexingQueue, string(record)); err != nil {
		return "", fault.Unavailable("indexing", "enqueue bulk job: %v", err)
	}
	return job.JobID, nil
}

// Reindex re-enqueues an already registered document, bumping its version.
func (m *Manager) Reindex(ctx context.Context, documentID string, doc document.Document) (string, error) {
	existing, err := m.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}

	doc.ID = documentID
	job := m.createJob(JobReindex, []string{documentID})
	if err := m.persistJob(ctx, job); err != nil {
		return "", err
	}

	m.mu.Lock()
	existing.Status = StatusPending
	existing.Version++
	existing.RetryCount = 0
	existing.UpdatedAt = m.now()
	m.docs[documentID] = existing
	m.mu.Unlock()
	if err := m.persistDocument(ctx, existing); err != nil {
		return "", err
	}

	record, _ := json.Marshal(queueRecord{Document: doc, JobID: job.JobID})
	if err := m.store.ListPush(ctx, kvstore.KeyIndexingQueue, string(record)); err != nil {
		return "", fault.Unavailable("indexing", "enqueue reindex: %v", err)
	}
	return job.JobID, nil
}

// DeleteDocument removes the document's chunks from the vector index and the
// sparse index, then drops the registry entry.
func (m *Manager) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := m.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	for i := 0; i < doc.ChunkCount; i++ {
		chunkID := chunkID(documentID, i)
		if err := m.vectors.Delete(ctx, m.cfg.Collection, chunkID); err != nil {
			return fault.Unavailable("indexing", "delete chunk %s: %v", chunkID, err)
		}
		if m.searcher != nil {
			m.searcher.RemoveDocument(chunkID)
		}
	}

	if err := m.store.HashDelete(ctx, kvstore.KeyDocumentRegistry, documentID); err != nil {
		return fault.Unavailable("indexing", "remove registry entry %s: %v", documentID, err)
	}

	m.mu.Lock()
	delete(m.docs, documentID)
	m.mu.Unlock()
	return nil
}

// GetDocument reads the registry, preferring the hot cache.
func (m *Manager) GetDocument(ctx context.Context, documentID string) (*IndexedDocument, error) {
	m.mu.RLock()
	if doc, ok := m.docs[documentID]; ok {
		snapshot := *doc
		m.mu.RUnlock()
		return &snapshot, nil
	}
	m.mu.RUnlock()

	raw, err := m.store.HashGet(ctx, kvstore.KeyDocumentRegistry, documentID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, fault.NotFound("indexing", "document %s not registered", documentID)
		}
		return nil, err
	}

	var doc IndexedDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("corrupt registry entry %s: %w", documentID, err)
	}
	return &doc, nil
}

// ListDocuments pages through the registry, optionally filtered by status.
func (m *Manager) ListDocuments(ctx context.Context, limit, offset int, status Status) ([]*IndexedDocument, error) {
	all, err := m.store.HashGetAll(ctx, kvstore.KeyDocumentRegistry)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, err
	}

	docs := make([]*IndexedDocument, 0, len(all))
	for _, raw := range all {
		var doc IndexedDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		if status != "" && doc.Status != status {
			continue
		}
		docs = append(docs, &doc)
	}

	// Stable paging: newest first.
	sortDocuments(docs)

	if offset >= len(docs) {
		return []*IndexedDocument{}, nil
	}
	docs = docs[offset:]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// GetJob reads the job registry, preferring the hot cache.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*IndexingJob, error) {
	m.mu.RLock()
	if job, ok := m.jobs[jobID]; ok {
		snapshot := *job
		m.mu.RUnlock()
		return &snapshot, nil
	}
	m.mu.RUnlock()

	raw, err := m.store.HashGet(ctx, kvstore.KeyJobRegistry, jobID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, fault.NotFound("indexing", "job %s not found", jobID)
		}
		return nil, err
	}

	var job IndexingJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("corrupt job entry %s: %w", jobID, err)
	}
	return &job, nil
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		DocumentsIndexed: m.documentsIndexed.Load(),
		DocumentsFailed:  m.documentsFailed.Load(),
		ChunksIndexed:    m.chunksIndexed.Load(),
		Retries:          m.retries.Load(),
	}
}

func (m *Manager) createJob(jobType JobType, documentIDs []string) *IndexingJob {
	job := &IndexingJob{
		JobID:       uuid.NewString(),
		DocumentIDs: documentIDs,
		JobType:     jobType,
		Status:      JobPending,
		Total:       len(documentIDs),
		CreatedAt:   m.now(),
		UpdatedAt:   m.now(),
	}
	m.mu.Lock()
	m.jobs[job.JobID] = job
	m.mu.Unlock()
	return job
}

func (m *Manager) registerDocument(ctx context.Context, doc document.Document) error {
	record := &IndexedDocument{
		ID:        doc.ID,
		Source:    doc.Source,
		Status:    StatusPending,
		CreatedAt: m.now(),
		UpdatedAt: m.now(),
		Version:   1,
	}
	m.mu.Lock()
	if existing, ok := m.docs[doc.ID]; ok {
		record.Version = existing.Version + 1
		record.CreatedAt = existing.CreatedAt
	}
	m.docs[doc.ID] = record
	m.mu.Unlock()

	return m.persistDocument(ctx, record)
}

func (m *Manager) persistDocument(ctx context.Context, doc *IndexedDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document record: %w", err)
	}
	if err := m.store.HashSet(ctx, kvstore.KeyDocumentRegistry, doc.ID, string(data)); err != nil {
		return fault.Unavailable("indexing", "persist document %s: %v", doc.ID, err)
	}
	return nil
}

func (m *Manager) persistJob(ctx context.Context, job *IndexingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := m.store.HashSet(ctx, kvstore.KeyJobRegistry, job.JobID, string(data)); err != nil {
		return fault.Unavailable("indexing", "persist job %s: %v", job.JobID, err)
	}
	return nil
}

func (m *Manager) flushStats(ctx context.Context) error {
	stats := m.Stats()
	stats.LastFlush = m.now()

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, kvstore.KeyIndexingStats, string(data), 0)
}

// chunkID derives the vector id of a document's i-th chunk.
func chunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}

func sortDocuments(docs []*IndexedDocument) {
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
}
