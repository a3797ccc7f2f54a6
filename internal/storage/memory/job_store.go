package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

const defaultListLimit = 20

// JobStore keeps job records in a mutex-guarded map.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]sheetsim.Job
	clock sheetsim.Clock
}

// NewJobStore constructs a JobStore. A nil clock uses UTC wall time.
func NewJobStore(clock sheetsim.Clock) *JobStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{
		jobs:  make(map[string]sheetsim.Job),
		clock: clock,
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, id string, meta sheetsim.JobMetadata) (sheetsim.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return sheetsim.Job{}, fmt.Errorf("create job %s: %w", id, sheetsim.ErrJobExists)
	}
	now := s.clock.Now()
	job := sheetsim.Job{
		ID:        id,
		Status:    sheetsim.JobStatusQueued,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[id] = job
	return job.Clone(), nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id string) (sheetsim.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return sheetsim.Job{}, sheetsim.ErrJobNotFound
	}
	return job.Clone(), nil
}

// UpdateJob merges the supplied fields into the job. Unknown ids are ignored.
func (s *JobStore) UpdateJob(_ context.Context, id string, update sheetsim.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if update.Status != "" {
		if !job.Status.CanTransition(update.Status) {
			return fmt.Errorf("job %s %s -> %s: %w", id, job.Status, update.Status, sheetsim.ErrInvalidTransition)
		}
		job.Status = update.Status
	} else if job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, sheetsim.ErrInvalidTransition)
	}
	if update.Progress != nil {
		p := *update.Progress
		job.Progress = &p
	}
	if update.Result != nil {
		r := *update.Result
		job.Result = &r
	}
	if update.Error != nil {
		job.Error = *update.Error
	}
	job.UpdatedAt = s.clock.Now()
	s.jobs[id] = job
	return nil
}

// ListJobs returns the most recently created jobs first.
func (s *JobStore) ListJobs(_ context.Context, limit int) ([]sheetsim.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	out := make([]sheetsim.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EvictJobs removes jobs created more than maxAge ago and returns how many went.
func (s *JobStore) EvictJobs(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
