package indexing

import (
	"time"

	"github.com/cognidesk/cognidesk/pkg/document"
)

// Status is the per-document indexing state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
	StatusDeleted    Status = "deleted"
)

// IndexedDocument is the durable per-document record. ChunkCount is set only
// on the transition to completed; Version increments on each re-index.
type IndexedDocument struct {
	ID               string    `json:"id"`
	Source           string    `json:"source"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ChunkCount       int       `json:"chunk_count"`
	DataFormat       string    `json:"data_format,omitempty"`
	RetryCount       int       `json:"retry_count"`
	Version          int       `json:"version"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
}

// JobType distinguishes queue workloads.
type JobType string

const (
	JobSingle  JobType = "single"
	JobBulk    JobType = "bulk"
	JobReindex JobType = "reindex"
)

// JobStatus is the aggregate job state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IndexingJob aggregates the outcome of one or more queued documents.
type IndexingJob struct {
	JobID        string    `json:"job_id"`
	DocumentIDs  []string  `json:"document_ids"`
	JobType      JobType   `json:"job_type"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	Total        int       `json:"total"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	ErrorSummary []string  `json:"error_summary,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// queueRecord is the wire shape of one single-queue entry.
type queueRecord struct {
	Document document.Document `json:"document"`
	JobID    string            `json:"job_id"`
}

// bulkRecord is the wire shape of one bulk-queue entry.
type bulkRecord struct {
	Documents []document.Document `json:"documents"`
	JobID     string              `json:"job_id"`
}

// Stats are the periodically flushed indexing counters.
type Stats struct {
	DocumentsIndexed int64     `json:"documents_indexed"`
	DocumentsFailed  int64     `json:"documents_failed"`
	ChunksIndexed    int64     `json:"chunks_indexed"`
	Retries          int64     `json:"retries"`
	LastFlush        time.Time `json:"last_flush"`
}
