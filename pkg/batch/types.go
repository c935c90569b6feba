package batch

import "time"

// SourceType identifies the business system a data source belongs to.
type SourceType string

const (
	SourceCRM SourceType = "crm"
	SourceERP SourceType = "erp"
)

// SyncFrequency is how often a source gets a recurring sync.
type SyncFrequency string

const (
	SyncDaily  SyncFrequency = "daily"
	SyncWeekly SyncFrequency = "weekly"
)

// DataSource describes one external system table to keep indexed.
// ConnectionParams is driver-specific and decoded per connector.
type DataSource struct {
	Name             string                 `json:"name" yaml:"name"`
	Type             SourceType             `json:"type" yaml:"type"`
	ConnectionParams map[string]interface{} `json:"connection_params" yaml:"connection_params"`
	SyncFrequency    SyncFrequency          `json:"sync_frequency" yaml:"sync_frequency"`
	IncrementalField string                 `json:"incremental_field,omitempty" yaml:"incremental_field,omitempty"`
	BatchSize        int                    `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Enabled          bool                   `json:"enabled" yaml:"enabled"`
	LastSync         time.Time              `json:"last_sync,omitempty" yaml:"-"`
}

// JobType distinguishes batch workloads.
type JobType string

const (
	JobFullSync        JobType = "full_sync"
	JobIncrementalSync JobType = "incremental_sync"
	JobCleanup         JobType = "cleanup"
	JobReindex         JobType = "reindex"
)

// JobStatus is the batch job lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one scheduled or running batch workload. Batch-level failures
// accumulate in ErrorMessages while the job keeps going; the job only fails
// when nothing was processed at all.
type Job struct {
	JobID            string    `json:"job_id"`
	SourceName       string    `json:"source_name,omitempty"`
	JobType          JobType   `json:"job_type"`
	Status           JobStatus `json:"status"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
	RecordsProcessed int       `json:"records_processed"`
	RecordsFailed    int       `json:"records_failed"`
	ErrorMessages    []string  `json:"error_messages,omitempty"`
	IndexJobIDs      []string  `json:"index_job_ids,omitempty"`

	// DedupeKey makes recurring scheduling idempotent per source, type and
	// calendar day.
	DedupeKey string `json:"dedupe_key,omitempty"`
}

// Record is one row fetched from a source system.
type Record struct {
	ID     string
	Fields map[string]interface{}
}

// Stats are the periodically flushed batch counters.
type Stats struct {
	JobsCompleted    int64     `json:"jobs_completed"`
	JobsFailed       int64     `json:"jobs_failed"`
	RecordsProcessed int64     `json:"records_processed"`
	RecordsFailed    int64     `json:"records_failed"`
	LastFlush        time.Time `json:"last_flush"`
}
