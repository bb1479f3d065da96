package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/findataops/internal/jobs"
)

// waitForStatus polls the store until the job reaches want or the deadline passes.
func waitForStatus(t *testing.T, s *Store, id string, want jobs.JobStatus) *jobs.IngestJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.GetJob(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := s.GetJob(context.Background(), id)
	t.Fatalf("job %s did not reach %s, last state %+v", id, want, job)
	return nil
}

func TestQueue_ProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		job.RunID = "run-" + job.URI
		return nil
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job := &jobs.IngestJob{URI: "chase.csv"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if job.JobID == "" || job.MaxRetries != DefaultMaxRetries {
		t.Errorf("Publish should fill defaults: %+v", job)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RunID != "run-chase.csv" || done.StartedAt == nil || done.CompletedAt == nil {
		t.Errorf("unexpected completed job: %+v", done)
	}

	if err := q.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	q.Backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		if attempts.Add(1) == 1 {
			return errors.New("bucket temporarily unavailable")
		}
		return nil
	})

	job := &jobs.IngestJob{URI: "gs://bucket/chase.csv"}
	if err := q.Publish(ctx, job); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 1 || done.Error != "" {
		t.Errorf("retry bookkeeping wrong: %+v", done)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	_ = q.Close()
}

func TestQueue_PermanentFailureIsNotRetried(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	q.Backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		attempts.Add(1)
		return jobs.Permanent(errors.New("missing required columns"))
	})

	job := &jobs.IngestJob{URI: "bad.csv"}
	_ = q.Publish(ctx, job)

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.Error != "missing required columns" || failed.RetryCount != 0 {
		t.Errorf("unexpected failed job: %+v", failed)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	_ = q.Close()
}

func TestQueue_ExhaustsRetries(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	q.Backoff = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		return errors.New("still down")
	})

	job := &jobs.IngestJob{URI: "x.csv", MaxRetries: 1}
	_ = q.Publish(ctx, job)

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", failed.RetryCount)
	}
	_ = q.Close()
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := q.Publish(context.Background(), &jobs.IngestJob{URI: "a.csv"}); err == nil {
		t.Error("expected error publishing to a stopped queue")
	}
	if err := q.Start(context.Background(), nil); err == nil {
		t.Error("expected error starting a stopped queue")
	}
	// Stop is idempotent.
	if err := q.Stop(context.Background()); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestQueue_Depth(t *testing.T) {
	q := NewQueue(5, 1, nil)
	for i := 0; i < 3; i++ {
		if err := q.Publish(context.Background(), &jobs.IngestJob{URI: "a.csv"}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if got := q.Depth(); got != 3 {
		t.Errorf("Depth = %d, want 3", got)
	}
}
