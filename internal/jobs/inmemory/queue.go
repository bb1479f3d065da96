// Package inmemory implements the job queue and job store on Go channels and maps
// for single-instance deployments.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/findataops/internal/jobs"
	"github.com/dvloznov/findataops/internal/logger"
	"github.com/google/uuid"
)

const (
	DefaultWorkers    = 2
	DefaultMaxRetries = 2
	DefaultBackoff    = time.Second
)

// Queue is a channel-backed Publisher and Consumer.
type Queue struct {
	jobChan   chan *jobs.IngestJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	// Workers is the number of concurrent consumers started by Start.
	Workers int
	// Backoff is multiplied by the attempt number before a failed job is re-enqueued.
	Backoff time.Duration
}

// NewQueue creates a queue that holds up to bufferSize pending jobs before
// Publish blocks. store may be nil.
func NewQueue(bufferSize, workers int, store jobs.JobStore) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		jobChan:   make(chan *jobs.IngestJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		Workers:   workers,
		Backoff:   DefaultBackoff,
	}
}

// Publish assigns an id and defaults to job, records it and enqueues it.
func (q *Queue) Publish(ctx context.Context, job *jobs.IngestJob) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return fmt.Errorf("Publish: queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}

	if err := q.save(ctx, job); err != nil {
		return fmt.Errorf("Publish: saving job: %w", err)
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("Publish: queue is closed")
	}
}

// Depth is the number of jobs waiting for a worker.
func (q *Queue) Depth() int {
	return len(q.jobChan)
}

// Start launches Workers goroutines that run handler for each job.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("Start: queue is closed")
	}

	for i := 0; i < q.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob runs one attempt and schedules a retry for transient failures.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().Str("job_id", job.JobID).Str("uri", job.URI).Logger()

	now := time.Now().UTC()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &now
	job.CompletedAt = nil
	_ = q.save(ctx, job)

	err := handler(log.WithContext(ctx), job)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	var retry *jobs.IngestJob
	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Str("run_id", job.RunID).Msg("Job completed")

	case !jobs.IsPermanent(err) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		next := *job
		next.Status = jobs.JobStatusPending
		next.StartedAt = nil
		next.CompletedAt = nil
		retry = &next

	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Msg("Job failed")
	}

	_ = q.save(ctx, job)

	if retry != nil {
		backoff := time.Duration(job.RetryCount) * q.Backoff
		log.Warn().Err(err).Int("retry", job.RetryCount).Dur("backoff", backoff).Msg("Job failed, retrying")
		time.AfterFunc(backoff, func() {
			if err := q.Publish(ctx, retry); err != nil {
				log.Error().Err(err).Msg("Re-enqueueing job failed")
			}
		})
	}
}

func (q *Queue) save(ctx context.Context, job *jobs.IngestJob) error {
	if q.store == nil {
		return nil
	}
	return q.store.SaveJob(ctx, job)
}

// Stop closes the queue and waits for in-flight jobs, or for ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
