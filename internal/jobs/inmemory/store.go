package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/community-sacco/internal/domain"
	"github.com/dvloznov/community-sacco/internal/jobs"
)

// DefaultRetention is how many finished jobs NewStore keeps.
const DefaultRetention = 1000

// Store is an in-memory implementation of JobStore.
// It is safe for concurrent use. Job history is lost on restart, and only the
// most recently finished jobs are kept; pending and running jobs are never
// evicted.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*jobs.Job
	retention int
	finished  int
}

// NewStore creates a job store keeping DefaultRetention finished jobs.
func NewStore() *Store {
	return NewStoreWithRetention(DefaultRetention)
}

// NewStoreWithRetention creates a job store keeping at most retention
// completed or failed jobs. retention <= 0 keeps everything.
func NewStoreWithRetention(retention int) *Store {
	return &Store{
		jobs:      make(map[string]*jobs.Job),
		retention: retention,
	}
}

func isFinished(status jobs.JobStatus) bool {
	return status == jobs.JobStatusCompleted || status == jobs.JobStatusFailed
}

// put stores job and keeps the finished count in step. Callers hold mu.
func (s *Store) put(job *jobs.Job) {
	if old, ok := s.jobs[job.ID]; ok && isFinished(old.Status) {
		s.finished--
	}
	s.jobs[job.ID] = job
	if isFinished(job.Status) {
		s.finished++
		s.evict()
	}
}

// evict drops the oldest finished jobs beyond the retention limit.
func (s *Store) evict() {
	if s.retention <= 0 || s.finished <= s.retention {
		return
	}

	var done []*jobs.Job
	for _, job := range s.jobs {
		if isFinished(job.Status) {
			done = append(done, job)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		return finishedAt(done[i]).Before(finishedAt(done[j]))
	})
	for _, job := range done[:len(done)-s.retention] {
		delete(s.jobs, job.ID)
		s.finished--
	}
}

func finishedAt(job *jobs.Job) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.put(&jobCopy)
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, &domain.NotFoundError{Entity: "job", ID: jobID}
	}

	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.Job{}
	for _, job := range s.jobs {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if filter.SubjectID != "" && job.SubjectID != filter.SubjectID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}

		jobCopy := *job
		result = append(result, &jobCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Job{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateJobStatus implements the JobStore interface.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return &domain.NotFoundError{Entity: "job", ID: jobID}
	}

	updated := *job
	updated.Status = status
	if errorMsg != "" {
		updated.Error = errorMsg
	}
	if isFinished(status) && updated.CompletedAt == nil {
		now := time.Now()
		updated.CompletedAt = &now
	}
	s.put(&updated)
	return nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
