package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/findataops/internal/jobs"
)

func TestStore_SaveAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	job := &jobs.IngestJob{JobID: "j1", URI: "a.csv", Status: jobs.JobStatusPending}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	job.Status = jobs.JobStatusFailed
	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Errorf("stored status = %s, want pending", got.Status)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
	if err := s.SaveJob(ctx, &jobs.IngestJob{}); err == nil {
		t.Error("expected error for job without id")
	}
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, st := range []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed, jobs.JobStatusCompleted} {
		_ = s.SaveJob(ctx, &jobs.IngestJob{
			JobID:     string(rune('a' + i)),
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusCompleted}, []string{"c", "a"}},
		{"limit", jobs.JobFilter{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(got), len(tt.want))
			}
			for i, j := range got {
				if j.JobID != tt.want[i] {
					t.Errorf("job[%d] = %s, want %s", i, j.JobID, tt.want[i])
				}
			}
		})
	}
}
