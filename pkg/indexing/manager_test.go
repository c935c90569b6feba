package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/embedding"
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/kvstore"
	"github.com/cognidesk/cognidesk/pkg/vector"
)

// memVectors is an in-memory vector.Provider recording upserts and deletes.
type memVectors struct {
	mu    sync.Mutex
	items map[string]string
	fail  bool
}

func newMemVectors() *memVectors {
	return &memVectors{items: make(map[string]string)}
}

func (v *memVectors) Name() string { return "mem" }

func (v *memVectors) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fail {
		return errors.New("vector store unavailable")
	}
	content, _ := metadata["content"].(string)
	v.items[id] = content
	return nil
}

func (v *memVectors) Delete(ctx context.Context, collection, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.items, id)
	return nil
}

func (v *memVectors) has(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.items[id]
	return ok
}

func (v *memVectors) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

func (v *memVectors) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return nil, nil
}
func (v *memVectors) SearchWithOptions(ctx context.Context, collection string, vec []float32, topK int, threshold float32, filter map[string]any) ([]vector.Result, error) {
	return nil, nil
}
func (v *memVectors) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	return nil
}
func (v *memVectors) Count(ctx context.Context, collection string) (uint64, error) {
	return uint64(v.count()), nil
}
func (v *memVectors) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	return nil
}
func (v *memVectors) DeleteCollection(ctx context.Context, collection string) error { return nil }
func (v *memVectors) Health(ctx context.Context) error                              { return nil }
func (v *memVectors) Close() error                                                  { return nil }

var _ vector.Provider = (*memVectors)(nil)

func newTestManager(t *testing.T) (*Manager, *memVectors, kvstore.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStoreFromClient(client)

	vectors := newMemVectors()
	engine := embedding.NewEngine(embedding.NewMockProvider(8), embedding.Config{})
	processor := document.NewProcessor(document.Config{ChunkSize: 5, ChunkOverlap: 1})

	m := NewManager(Config{MaxRetries: 2, PollTimeout: 100 * time.Millisecond, BulkBatchSize: 2, BulkPacing: time.Millisecond},
		store, processor, engine, vectors, nil)
	return m, vectors, store
}

func testDoc(id, content string) document.Document {
	return document.Document{
		ID:        id,
		Content:   content,
		Source:    "tests",
		CreatedAt: time.Now(),
	}
}

func popRecord(t *testing.T, store kvstore.Store) queueRecord {
	t.Helper()
	raw, err := store.ListPop(context.Background(), kvstore.KeyIndexingQueue, time.Second)
	if err != nil {
		t.Fatalf("queue pop: %v", err)
	}
	var record queueRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return record
}

func TestIndexDocumentEnqueuesAndRegisters(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	jobID, err := m.IndexDocument(ctx, testDoc("d1", "some indexable words here"))
	if err != nil {
		t.Fatal(err)
	}

	record := popRecord(t, store)
	if record.Document.ID != "d1" || record.JobID != jobID {
		t.Errorf("queue record = %+v", record)
	}

	doc, err := m.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusPending || doc.Version != 1 {
		t.Errorf("registered doc = %+v", doc)
	}
}

func TestProcessRecordCompletesDocumentAndJob(t *testing.T) {
	m, vectors, store := newTestManager(t)
	ctx := context.Background()

	content := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	jobID, err := m.IndexDocument(ctx, testDoc("d1", content))
	if err != nil {
		t.Fatal(err)
	}

	m.processRecord(ctx, popRecord(t, store))

	doc, err := m.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", doc.Status)
	}
	if doc.ChunkCount < 1 {
		t.Errorf("chunk count = %d", doc.ChunkCount)
	}
	if doc.DataFormat != string(document.FormatText) {
		t.Errorf("data format = %q", doc.DataFormat)
	}

	// Every chunk id {doc_id}_{i} must exist in the vector index.
	for i := 0; i < doc.ChunkCount; i++ {
		if !vectors.has(fmt.Sprintf("d1_%d", i)) {
			t.Errorf("chunk d1_%d missing from index", i)
		}
	}

	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != JobCompleted || job.SuccessCount != 1 || job.Progress != 100 {
		t.Errorf("job = %+v", job)
	}
}

func TestFailureRetriesThenFails(t *testing.T) {
	m, vectors, store := newTestManager(t)
	ctx := context.Background()
	vectors.fail = true

	jobID, err := m.IndexDocument(ctx, testDoc("d1", "some words that will not index"))
	if err != nil {
		t.Fatal(err)
	}

	// First attempt: retry_count 1 < max 2, re-enqueued as retry.
	m.processRecord(ctx, popRecord(t, store))
	doc, _ := m.GetDocument(ctx, "d1")
	if doc.Status != StatusRetry || doc.RetryCount != 1 {
		t.Fatalf("after first failure: %+v", doc)
	}

	// Second attempt: retry_count reaches max, document fails, job settles.
	m.processRecord(ctx, popRecord(t, store))
	doc, _ = m.GetDocument(ctx, "d1")
	if doc.Status != StatusFailed || doc.RetryCount != 2 {
		t.Fatalf("after second failure: %+v", doc)
	}
	if doc.ErrorMessage == "" {
		t.Error("failed doc should carry the error message")
	}

	job, _ := m.GetJob(ctx, jobID)
	if job.Status != JobFailed || job.FailureCount != 1 {
		t.Errorf("job = %+v", job)
	}

	stats := m.Stats()
	if stats.Retries != 1 || stats.DocumentsFailed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBulkFanOut(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	docs := []document.Document{
		testDoc("b1", "first bulk document content"),
		testDoc("b2", "second bulk document content"),
		testDoc("b3", "third bulk document content"),
	}
	jobID, err := m.IndexBulk(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}

	raw, err := store.ListPop(ctx, kvstore.KeyBulkIndexingQueue, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var bulk bulkRecord
	if err := json.Unmarshal([]byte(raw), &bulk); err != nil {
		t.Fatal(err)
	}
	if bulk.JobID != jobID || len(bulk.Documents) != 3 {
		t.Fatalf("bulk record = %+v", bulk)
	}

	m.fanOut(ctx, bulk)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		record := popRecord(t, store)
		if record.JobID != jobID {
			t.Errorf("fanned record job = %q", record.JobID)
		}
		seen[record.Document.ID] = true
	}
	if !seen["b1"] || !seen["b2"] || !seen["b3"] {
		t.Errorf("fan-out lost documents: %v", seen)
	}
}

func TestBulkJobAggregation(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	docs := []document.Document{
		testDoc("b1", "first bulk document content here"),
		testDoc("b2", "second bulk document content here"),
	}
	jobID, err := m.IndexBulk(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := store.ListPop(ctx, kvstore.KeyBulkIndexingQueue, time.Second)
	var bulk bulkRecord
	json.Unmarshal([]byte(raw), &bulk)
	m.fanOut(ctx, bulk)

	m.processRecord(ctx, popRecord(t, store))
	job, _ := m.GetJob(ctx, jobID)
	if job.Status != JobRunning || job.Progress != 50 {
		t.Errorf("halfway job = %+v", job)
	}

	m.processRecord(ctx, popRecord(t, store))
	job, _ = m.GetJob(ctx, jobID)
	if job.Status != JobCompleted || job.SuccessCount != 2 {
		t.Errorf("final job = %+v", job)
	}
}

func TestDeleteDocumentRestoresIndexState(t *testing.T) {
	m, vectors, store := newTestManager(t)
	ctx := context.Background()

	before := vectors.count()
	_, err := m.IndexDocument(ctx, testDoc("d1", "words enough for exactly one or two chunks"))
	if err != nil {
		t.Fatal(err)
	}
	m.processRecord(ctx, popRecord(t, store))

	if vectors.count() == before {
		t.Fatal("indexing should have added chunks")
	}

	if err := m.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if vectors.count() != before {
		t.Errorf("delete should restore index to pre-put state, %d != %d", vectors.count(), before)
	}

	if _, err := m.GetDocument(ctx, "d1"); fault.KindOf(err) != fault.KindNotFound {
		t.Errorf("registry entry should be gone, got %v", err)
	}
}

func TestReindexBumpsVersion(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	doc := testDoc("d1", "original content words here for chunking")
	if _, err := m.IndexDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	m.processRecord(ctx, popRecord(t, store))

	if _, err := m.Reindex(ctx, "d1", doc); err != nil {
		t.Fatal(err)
	}

	record := popRecord(t, store)
	if record.Document.ID != "d1" {
		t.Errorf("reindex record = %+v", record)
	}

	reg, _ := m.GetDocument(ctx, "d1")
	if reg.Version != 2 || reg.Status != StatusPending {
		t.Errorf("reindexed doc = %+v", reg)
	}
}

func TestListDocumentsFilterAndPaging(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("d%d", i)
		if _, err := m.IndexDocument(ctx, testDoc(id, "content words for this particular document")); err != nil {
			t.Fatal(err)
		}
	}
	// Complete only the first popped document.
	m.processRecord(ctx, popRecord(t, store))

	completed, err := m.ListDocuments(ctx, 10, 0, StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 {
		t.Errorf("completed docs = %d, want 1", len(completed))
	}

	all, err := m.ListDocuments(ctx, 2, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("paged docs = %d, want 2", len(all))
	}
}
