package batch

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
	"github.com/cognidesk/cognidesk/pkg/fault"
	"github.com/cognidesk/cognidesk/pkg/kvstore"
)

// Indexer is the slice of the indexing pipeline batch sync needs.
type Indexer interface {
	IndexBulk(ctx context.Context, docs []document.Document) (string, error)
}

// Config configures the batch processor.
type Config struct {
	// MaxConcurrent bounds simultaneously running jobs (default: 2).
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// TickInterval is the scheduler resolution (default: 1m).
	TickInterval time.Duration `yaml:"tick_interval,omitempty"`

	// DefaultBatchSize applies when a source does not set one (default: 50).
	DefaultBatchSize int `yaml:"default_batch_size,omitempty"`

	// IncrementalBaseline bounds the first incremental sync of a source that
	// has never synced (default: 24h).
	IncrementalBaseline time.Duration `yaml:"incremental_baseline,omitempty"`

	// JobRetention is how long finished jobs are kept (default: 168h).
	JobRetention time.Duration `yaml:"job_retention,omitempty"`

	// StatsInterval is the stats flush period (default: 1m).
	StatsInterval time.Duration `yaml:"stats_interval,omitempty"`

	// Sources are the configured data sources.
	Sources []DataSource `yaml:"sources,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.DefaultBatchSize <= 0 {
		c.DefaultBatchSize = 50
	}
	if c.IncrementalBaseline <= 0 {
		c.IncrementalBaseline = 24 * time.Hour
	}
	if c.JobRetention <= 0 {
		c.JobRetention = 7 * 24 * time.Hour
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = time.Minute
	}
}

// Processor schedules and runs recurring source syncs. Recurring jobs are
// idempotent per source, type and calendar day via the dedupe key.
type Processor struct {
	cfg     Config
	store   kvstore.Store
	indexer Indexer
	fetcher Fetcher

	mu      sync.RWMutex
	sources map[string]*DataSource
	jobs    map[string]*Job

	jobsCompleted    atomic.Int64
	jobsFailed       atomic.Int64
	recordsProcessed atomic.Int64
	recordsFailed    atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewProcessor(cfg Config, store kvstore.Store, indexer Indexer, fetcher Fetcher) *Processor {
	cfg.SetDefaults()
	p := &Processor{
		cfg:     cfg,
		store:   store,
		indexer: indexer,
		fetcher: fetcher,
		sources: make(map[string]*DataSource),
		jobs:    make(map[string]*Job),
		now:     time.Now,
	}
	for i := range cfg.Sources {
		src := cfg.Sources[i]
		p.sources[src.Name] = &src
	}
	return p
}

// Start restores durable state and launches the scheduler loop.
func (p *Processor) Start(ctx context.Context) error {
	if err := p.restore(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.schedulerLoop(runCtx)
	return nil
}

// Stop cancels the scheduler and waits for running jobs.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.flushStats(flushCtx); err != nil {
		slog.Warn("Final batch stats flush failed", "error", err)
	}
	if p.fetcher != nil {
		if err := p.fetcher.Close(); err != nil {
			slog.Warn("Fetcher close failed", "error", err)
		}
	}
}

// RegisterSource adds or replaces a data source.
func (p *Processor) RegisterSource(ctx context.Context, source DataSource) error {
	if source.Name == "" {
		return fault.Validation("batch", "source name is required")
	}
	switch source.Type {
	case SourceCRM, SourceERP:
	default:
		return fault.Validation("batch", "unknown source type %q", source.Type)
	}
	switch source.SyncFrequency {
	case SyncDaily, SyncWeekly, "":
	default:
		return fault.Validation("batch", "unknown sync frequency %q", source.SyncFrequency)
	}

	p.mu.Lock()
	if existing, ok := p.sources[source.Name]; ok && source.LastSync.IsZero() {
		source.LastSync = existing.LastSync
	}
	p.sources[source.Name] = &source
	p.mu.Unlock()

	return p.persistSource(ctx, &source)
}

// Sources lists registered sources, sorted by name.
func (p *Processor) Sources() []DataSource {
	p.mu.RLock()
	out := make([]DataSource, 0, len(p.sources))
	for _, src := range p.sources {
		out = append(out, *src)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ScheduleJob enqueues an on-demand job for a source. Cleanup jobs take no
// source.
func (p *Processor) ScheduleJob(ctx context.Context, sourceName string, jobType JobType, at time.Time) (*Job, error) {
	switch jobType {
	case JobFullSync, JobIncrementalSync, JobReindex:
		p.mu.RLock()
		_, ok := p.sources[sourceName]
		p.mu.RUnlock()
		if !ok {
			return nil, fault.NotFound("batch", "source %s not registered", sourceName)
		}
	case JobCleanup:
	default:
		return nil, fault.Validation("batch", "unknown job type %q", jobType)
	}

	if at.IsZero() {
		at = p.now()
	}
	job := &Job{
		JobID:       uuid.NewString(),
		SourceName:  sourceName,
		JobType:     jobType,
		Status:      JobPending,
		ScheduledAt: at,
	}

	p.mu.Lock()
	p.jobs[job.JobID] = job
	snapshot := *job
	p.mu.Unlock()

	if err := p.persistJob(ctx, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetJob returns a job snapshot.
func (p *Processor) GetJob(jobID string) (*Job, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	job, ok := p.jobs[jobID]
	if !ok {
		return nil, fault.NotFound("batch", "job %s not found", jobID)
	}
	snapshot := *job
	return &snapshot, nil
}

// Jobs lists known jobs, newest scheduled first.
func (p *Processor) Jobs() []Job {
	p.mu.RLock()
	out := make([]Job, 0, len(p.jobs))
	for _, job := range p.jobs {
		out = append(out, *job)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	return Stats{
		JobsCompleted:    p.jobsCompleted.Load(),
		JobsFailed:       p.jobsFailed.Load(),
		RecordsProcessed: p.recordsProcessed.Load(),
		RecordsFailed:    p.recordsFailed.Load(),
	}
}

func (p *Processor) schedulerLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.TickInterval)
	statsTicker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-statsTicker.C:
			if err := p.flushStats(ctx); err != nil {
				slog.Warn("Batch stats flush failed", "error", err)
			}
		}
	}
}

// tick schedules recurring work that has come due and promotes pending jobs
// up to the concurrency limit.
func (p *Processor) tick(ctx context.Context) {
	p.scheduleRecurring(ctx)
	p.promoteDue(ctx)
}

// scheduleRecurring ensures each enabled source has its daily incremental
// sync after 02:00 and its weekly full sync on Sunday after 01:00. The
// dedupe key keeps re-ticks from double scheduling.
func (p *Processor) scheduleRecurring(ctx context.Context) {
	now := p.now()
	day := now.Format("2006-01-02")

	dailyAt := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, now.Location())
	weeklyAt := time.Date(now.Year(), now.Month(), now.Day(), 1, 0, 0, 0, now.Location())

	for _, src := range p.Sources() {
		if !src.Enabled {
			continue
		}

		if src.SyncFrequency == SyncDaily && !now.Before(dailyAt) {
			p.scheduleOnce(ctx, src.Name, JobIncrementalSync, dailyAt,
				fmt.Sprintf("%s:%s:%s", src.Name, JobIncrementalSync, day))
		}

		if now.Weekday() == time.Sunday && !now.Before(weeklyAt) {
			p.scheduleOnce(ctx, src.Name, JobFullSync, weeklyAt,
				fmt.Sprintf("%s:%s:%s", src.Name, JobFullSync, day))
		}
	}

	// One retention sweep per day.
	cleanupAt := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
	if !now.Before(cleanupAt) {
		p.scheduleOnce(ctx, "", JobCleanup, cleanupAt, fmt.Sprintf("%s:%s", JobCleanup, day))
	}
}

func (p *Processor) scheduleOnce(ctx context.Context, sourceName string, jobType JobType, at time.Time, dedupeKey string) {
	p.mu.Lock()
	for _, job := range p.jobs {
		if job.DedupeKey == dedupeKey {
			p.mu.Unlock()
			return
		}
	}
	job := &Job{
		JobID:       uuid.NewString(),
		SourceName:  sourceName,
		JobType:     jobType,
		Status:      JobPending,
		ScheduledAt: at,
		DedupeKey:   dedupeKey,
	}
	p.jobs[job.JobID] = job
	snapshot := *job
	p.mu.Unlock()

	if err := p.persistJob(ctx, &snapshot); err != nil {
		slog.Warn("Recurring job persist failed", "job_id", snapshot.JobID, "error", err)
	}
	slog.Info("Scheduled recurring job",
		"job_id", snapshot.JobID, "source", sourceName, "type", jobType, "at", at)
}

func (p *Processor) promoteDue(ctx context.Context) {
	now := p.now()

	p.mu.Lock()
	running := 0
	for _, job := range p.jobs {
		if job.Status == JobRunning {
			running++
		}
	}

	var due []*Job
	for _, job := range p.jobs {
		if job.Status == JobPending && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })

	var promoted []Job
	for _, job := range due {
		if running >= p.cfg.MaxConcurrent {
			break
		}
		job.Status = JobRunning
		job.StartedAt = now
		promoted = append(promoted, *job)
		running++
	}
	p.mu.Unlock()

	for _, job := range promoted {
		p.wg.Add(1)
		go func(j Job) {
			defer p.wg.Done()
			p.runJob(ctx, j.JobID)
		}(job)
	}
}

// runJob executes one promoted job end to end and settles its final state.
func (p *Processor) runJob(ctx context.Context, jobID string) {
	p.mu.RLock()
	job, ok := p.jobs[jobID]
	if !ok {
		p.mu.RUnlock()
		return
	}
	snapshot := *job
	p.mu.RUnlock()

	slog.Info("Batch job started", "job_id", jobID, "type", snapshot.JobType, "source", snapshot.SourceName)

	var err error
	switch snapshot.JobType {
	case JobCleanup:
		err = p.runCleanup(ctx)
	default:
		err = p.runSync(ctx, &snapshot)
	}

	p.mu.Lock()
	job, ok = p.jobs[jobID]
	if ok {
		job.RecordsProcessed = snapshot.RecordsProcessed
		job.RecordsFailed = snapshot.RecordsFailed
		job.ErrorMessages = snapshot.ErrorMessages
		job.IndexJobIDs = snapshot.IndexJobIDs
		job.CompletedAt = p.now()
		if err != nil {
			job.Status = JobFailed
			job.ErrorMessages = append(job.ErrorMessages, err.Error())
		} else {
			job.Status = JobCompleted
		}
		snapshot = *job
	}
	p.mu.Unlock()

	if err != nil {
		p.jobsFailed.Add(1)
		slog.Error("Batch job failed", "job_id", jobID, "error", err)
	} else {
		p.jobsCompleted.Add(1)
		slog.Info("Batch job completed",
			"job_id", jobID, "processed", snapshot.RecordsProcessed, "failed", snapshot.RecordsFailed)
	}

	if perr := p.persistJob(ctx, &snapshot); perr != nil {
		slog.Warn("Job persist failed", "job_id", jobID, "error", perr)
	}
}

// runSync fetches records and hands them to the indexer in source-sized
// batches. A failed batch is recorded and the job keeps going.
func (p *Processor) runSync(ctx context.Context, job *Job) error {
	p.mu.RLock()
	src, ok := p.sources[job.SourceName]
	if !ok {
		p.mu.RUnlock()
		return fault.NotFound("batch", "source %s not registered", job.SourceName)
	}
	source := *src
	p.mu.RUnlock()

	since := time.Time{}
	if job.JobType == JobIncrementalSync {
		since = source.LastSync
		if since.IsZero() {
			since = p.now().Add(-p.cfg.IncrementalBaseline)
		}
	}

	syncStart := p.now()
	records, err := p.fetcher.Fetch(ctx, source, since)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		p.advanceLastSync(ctx, job, source.Name, syncStart)
		return nil
	}

	batchSize := source.BatchSize
	if batchSize <= 0 {
		batchSize = p.cfg.DefaultBatchSize
	}

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		docs := make([]document.Document, 0, end-start)
		for _, record := range records[start:end] {
			doc, err := recordDocument(source, record)
			if err != nil {
				job.RecordsFailed++
				job.ErrorMessages = appendError(job.ErrorMessages, err.Error())
				continue
			}
			docs = append(docs, doc)
		}
		if len(docs) == 0 {
			continue
		}

		indexJobID, err := p.indexer.IndexBulk(ctx, docs)
		if err != nil {
			job.RecordsFailed += len(docs)
			job.ErrorMessages = appendError(job.ErrorMessages,
				fmt.Sprintf("batch %d-%d: %v", start, end, err))
			p.recordsFailed.Add(int64(len(docs)))
			continue
		}

		job.RecordsProcessed += len(docs)
		job.IndexJobIDs = append(job.IndexJobIDs, indexJobID)
		p.recordsProcessed.Add(int64(len(docs)))
	}

	if job.RecordsProcessed == 0 && job.RecordsFailed > 0 {
		return fault.Unavailable("batch", "all %d records failed to index", job.RecordsFailed)
	}

	p.advanceLastSync(ctx, job, source.Name, syncStart)
	return nil
}

// advanceLastSync records the sync high-water mark for the next incremental
// run. Reindex jobs leave it alone.
func (p *Processor) advanceLastSync(ctx context.Context, job *Job, sourceName string, syncStart time.Time) {
	if job.JobType == JobReindex {
		return
	}

	p.mu.Lock()
	src, ok := p.sources[sourceName]
	var snapshot DataSource
	if ok {
		src.LastSync = syncStart
		snapshot = *src
	}
	p.mu.Unlock()

	if ok {
		if err := p.persistSource(ctx, &snapshot); err != nil {
			slog.Warn("Source persist failed", "source", sourceName, "error", err)
		}
	}
}

// runCleanup purges finished jobs older than the retention window.
func (p *Processor) runCleanup(ctx context.Context) error {
	cutoff := p.now().Add(-p.cfg.JobRetention)

	p.mu.Lock()
	var stale []string
	for id, job := range p.jobs {
		if (job.Status == JobCompleted || job.Status == JobFailed) && job.CompletedAt.Before(cutoff) && !job.CompletedAt.IsZero() {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(p.jobs, id)
	}
	p.mu.Unlock()

	for _, id := range stale {
		if err := p.store.HashDelete(ctx, kvstore.KeyBatchJobs, id); err != nil {
			slog.Warn("Job purge failed", "job_id", id, "error", err)
		}
	}
	if len(stale) > 0 {
		slog.Info("Purged finished batch jobs", "count", len(stale))
	}
	return nil
}

// restore loads sources and jobs from durable state. Configured sources win
// over stored ones except for the sync high-water mark.
func (p *Processor) restore(ctx context.Context) error {
	stored, err := p.store.HashGetAll(ctx, kvstore.KeyDataSources)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("restore sources: %w", err)
	}
	p.mu.Lock()
	for name, raw := range stored {
		var src DataSource
		if err := json.Unmarshal([]byte(raw), &src); err != nil {
			continue
		}
		if configured, ok := p.sources[name]; ok {
			configured.LastSync = src.LastSync
		} else {
			p.sources[name] = &src
		}
	}
	p.mu.Unlock()

	jobs, err := p.store.HashGetAll(ctx, kvstore.KeyBatchJobs)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("restore jobs: %w", err)
	}
	p.mu.Lock()
	for id, raw := range jobs {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		// Jobs interrupted mid-run restart from pending.
		if job.Status == JobRunning {
			job.Status = JobPending
		}
		p.jobs[id] = &job
	}
	p.mu.Unlock()
	return nil
}

func (p *Processor) persistSource(ctx context.Context, src *DataSource) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal source: %w", err)
	}
	if err := p.store.HashSet(ctx, kvstore.KeyDataSources, src.Name, string(data)); err != nil {
		return fault.Unavailable("batch", "persist source %s: %v", src.Name, err)
	}
	return nil
}

func (p *Processor) persistJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := p.store.HashSet(ctx, kvstore.KeyBatchJobs, job.JobID, string(data)); err != nil {
		return fault.Unavailable("batch", "persist job %s: %v", job.JobID, err)
	}
	return nil
}

func (p *Processor) flushStats(ctx context.Context) error {
	stats := p.Stats()
	stats.LastFlush = p.now()

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, kvstore.KeyBatchStats, string(data), 0)
}

// appendError caps the per-job error list.
func appendError(list []string, msg string) []string {
	if len(list) >= 20 {
		return list
	}
	return append(list, msg)
}
