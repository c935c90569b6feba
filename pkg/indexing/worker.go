package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/kvstore"
)

// workerLoop consumes the single-document queue until cancelled.
func (m *Manager) workerLoop(ctx context.Context, id int) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := m.store.ListPop(ctx, kvstore.KeyIndexingQueue, m.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, kvstore.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			slog.Warn("Indexing queue poll failed", "worker", id, "error", err)
			continue
		}

		var record queueRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			slog.Error("Dropping corrupt queue record", "worker", id, "error", err)
			continue
		}

		m.processRecord(ctx, record)
	}
}

// bulkLoop fans bulk jobs into the single queue with inter-batch pacing.
func (m *Manager) bulkLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := m.store.ListPop(ctx, kvstore.KeyBulkIndexingQueue, m.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, kvstore.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			slog.Warn("Bulk queue poll failed", "error", err)
			continue
		}

		var bulk bulkRecord
		if err := json.Unmarshal([]byte(raw), &bulk); err != nil {
			slog.Error("Dropping corrupt bulk record", "error", err)
			continue
		}

		m.fanOut(ctx, bulk)
	}
}

// fanOut pushes a bulk job's documents onto the single queue in paced
// batches.
func (m *Manager) fanOut(ctx context.Context, bulk bulkRecord) {
	slog.Info("Fanning out bulk job", "job_id", bulk.JobID, "documents", len(bulk.Documents))

	for start := 0; start < len(bulk.Documents); start += m.cfg.BulkBatchSize {
		end := start + m.cfg.BulkBatchSize
		if end > len(bulk.Documents) {
			end = len(bulk.Documents)
		}

		for _, doc := range bulk.Documents[start:end] {
			single, err := json.Marshal(queueRecord{Document: doc, JobID: bulk.JobID})
			if err != nil {
				continue
			}
			if err := m.store.ListPush(ctx, kvstore.KeyIndexingQueue, string(single)); err != nil {
				slog.Warn("Bulk fan-out push failed", "document", doc.ID, "error", err)
			}
		}

		if end < len(bulk.Documents) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.BulkPacing):
			}
		}
	}
}

// processRecord runs one document through chunk, embed and upsert, then
// settles its state and the owning job.
func (m *Manager) processRecord(ctx context.Context, record queueRecord) {
	docID := record.Document.ID
	start := m.now()

	m.transition(ctx, docID, func(d *IndexedDocument) {
		d.Status = StatusProcessing
	})

	chunkCount, format, err := m.indexOne(ctx, record.Document)
	if err != nil {
		m.handleFailure(ctx, record, err)
		return
	}

	m.transition(ctx, docID, func(d *IndexedDocument) {
		d.Status = StatusCompleted
		d.ChunkCount = chunkCount
		d.DataFormat = format
		d.ErrorMessage = ""
		d.ProcessingTimeMs = m.now().Sub(start).Milliseconds()
	})

	m.documentsIndexed.Add(1)
	m.chunksIndexed.Add(int64(chunkCount))
	m.settleJob(ctx, record.JobID, true, "")
}

// indexOne chunks, embeds and upserts one document. Chunk ids are
// {document_id}_{index}.
func (m *Manager) indexOne(ctx context.Context, doc document.Document) (int, string, error) {
	chunks, format, err := m.processor.Process(doc)
	if err != nil {
		return 0, "", err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := m.engine.EncodeDocuments(ctx, texts)
	if err != nil {
		return 0, "", err
	}

	for i, c := range chunks {
		id := chunkID(doc.ID, i)
		payload := make(map[string]any, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			payload[k] = v
		}
		payload["content"] = c.Content
		if err := m.vectors.Upsert(ctx, m.cfg.Collection, id, vectors[i], payload); err != nil {
			return 0, "", err
		}
		if m.searcher != nil {
			m.searcher.IndexDocument(id, c.Content, doc.Source, c.Metadata)
		}
	}
	return len(chunks), string(format), nil
}

// handleFailure retries by re-enqueueing the original record while the
// registry retry count permits, otherwise marks the document failed.
func (m *Manager) handleFailure(ctx context.Context, record queueRecord, cause error) {
	docID := record.Document.ID

	var retryCount int
	m.transition(ctx, docID, func(d *IndexedDocument) {
		d.RetryCount++
		retryCount = d.RetryCount
		if retryCount < m.cfg.MaxRetries {
			d.Status = StatusRetry
		} else {
			d.Status = StatusFailed
		}
		d.ErrorMessage = cause.Error()
	})

	if retryCount < m.cfg.MaxRetries {
		m.retries.Add(1)
		slog.Warn("Document indexing failed, re-enqueueing",
			"document", docID, "retry", retryCount, "error", cause)

		raw, err := json.Marshal(record)
		if err == nil {
			if err := m.store.ListPush(ctx, kvstore.KeyIndexingQueue, string(raw)); err != nil {
				slog.Error("Retry enqueue failed", "document", docID, "error", err)
			}
		}
		return
	}

	slog.Error("Document indexing failed permanently", "document", docID, "error", cause)
	m.documentsFailed.Add(1)
	m.settleJob(ctx, record.JobID, false, cause.Error())
}

// transition applies a mutation to the registry record under the lock and
// persists the result.
func (m *Manager) transition(ctx context.Context, docID string, mutate func(*IndexedDocument)) {
	m.mu.Lock()
	doc, ok := m.docs[docID]
	if !ok {
		doc = &IndexedDocument{ID: docID, CreatedAt: m.now(), Version: 1}
		m.docs[docID] = doc
	}
	mutate(doc)
	doc.UpdatedAt = m.now()
	snapshot := *doc
	m.mu.Unlock()

	if err := m.persistDocument(ctx, &snapshot); err != nil {
		slog.Warn("Registry persist failed", "document", docID, "error", err)
	}
}

// settleJob records one document outcome on the owning job and finalizes it
// when all documents are accounted for.
func (m *Manager) settleJob(ctx context.Context, jobID string, success bool, errMsg string) {
	if jobID == "" {
		return
	}

	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if success {
		job.SuccessCount++
	} else {
		job.FailureCount++
		if errMsg != "" && len(job.ErrorSummary) < 20 {
			job.ErrorSummary = append(job.ErrorSummary, errMsg)
		}
	}

	settled := job.SuccessCount + job.FailureCount
	if job.Total > 0 {
		job.Progress = settled * 100 / job.Total
	}
	job.Status = JobRunning
	if settled >= job.Total {
		if job.FailureCount > 0 {
			job.Status = JobFailed
		} else {
			job.Status = JobCompleted
		}
	}
	job.UpdatedAt = m.now()
	snapshot := *job
	m.mu.Unlock()

	if err := m.persistJob(ctx, &snapshot); err != nil {
		slog.Warn("Job persist failed", "job_id", jobID, "error", err)
	}
}

// periodicLoop flushes stats and runs the job janitor.
func (m *Manager) periodicLoop(ctx context.Context) {
	defer m.wg.Done()

	statsTicker := time.NewTicker(m.cfg.StatsInterval)
	janitorTicker := time.NewTicker(m.cfg.JanitorInterval)
	defer statsTicker.Stop()
	defer janitorTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			if err := m.flushStats(ctx); err != nil {
				slog.Warn("Stats flush failed", "error", err)
			}
		case <-janitorTicker.C:
			m.cleanupJobs(ctx)
		}
	}
}

// cleanupJobs removes finished jobs older than the retention window.
func (m *Manager) cleanupJobs(ctx context.Context) {
	cutoff := m.now().Add(-m.cfg.JobRetention)

	m.mu.RLock()
	var stale []string
	for id, job := range m.jobs {
		if (job.Status == JobCompleted || job.Status == JobFailed) && job.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
		if err := m.store.HashDelete(ctx, kvstore.KeyJobRegistry, id); err != nil {
			slog.Warn("Job cleanup failed", "job_id", id, "error", err)
		}
	}
	if len(stale) > 0 {
		slog.Info("Cleaned up finished jobs", "count", len(stale))
	}
}
