package exports

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// JobStore persists export jobs
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	// TransitionJob saves job only while the stored status is still from.
	// It returns ErrInvalidTransition when the stored job has moved on.
	TransitionJob(ctx context.Context, job *Job, from Status) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// JobFilter for querying jobs. Results are ordered by creation time,
// oldest first unless NewestFirst is set.
type JobFilter struct {
	OrgID    string
	Kind     string
	Statuses []Status
	// CreatedAfter and CreatedBefore are exclusive bounds
	CreatedAfter  time.Time
	CreatedBefore time.Time
	NewestFirst   bool
	Limit         int
}

// Matches reports whether job satisfies the filter's predicates
func (f JobFilter) Matches(job *Job) bool {
	if f.OrgID != "" && job.OrgID != f.OrgID {
		return false
	}
	if f.Kind != "" && job.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, job.Status) {
		return false
	}
	if !f.CreatedAfter.IsZero() && !job.CreatedOn.After(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !job.CreatedOn.Before(f.CreatedBefore) {
		return false
	}
	return true
}

func containsStatus(statuses []Status, s Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// MemoryJobStore is an in-memory implementation of JobStore
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates a new in-memory job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*Job),
	}
}

// CreateJob creates a new job
func (s *MemoryJobStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryJobStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	// Return a copy to prevent external modification
	return job.Clone(), nil
}

// UpdateJob updates an existing job
func (s *MemoryJobStore) UpdateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobNotFound)
	}

	s.jobs[job.ID] = job.Clone()
	return nil
}

// TransitionJob updates the job if its stored status is still from
func (s *MemoryJobStore) TransitionJob(_ context.Context, job *Job, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.jobs[job.ID]
	if !exists {
		return fmt.Errorf("job %s: %w", job.ID, ErrJobNotFound)
	}
	if stored.Status != from {
		return staleTransition(job, from, stored.Status)
	}

	s.jobs[job.ID] = job.Clone()
	return nil
}

func staleTransition(job *Job, from, stored Status) error {
	return fmt.Errorf("job %s is %s, not %s: %w", job.ID, stored, from, ErrInvalidTransition)
}

// ListJobs returns jobs matching the filter
func (s *MemoryJobStore) ListJobs(_ context.Context, filter JobFilter) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Job, 0)
	for _, job := range s.jobs {
		if filter.Matches(job) {
			result = append(result, job.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedOn.Equal(b.CreatedOn) {
			if filter.NewestFirst {
				return a.CreatedOn.After(b.CreatedOn)
			}
			return a.CreatedOn.Before(b.CreatedOn)
		}
		if filter.NewestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	// Apply limit if specified
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

// DeleteJob removes a job from the store
func (s *MemoryJobStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	delete(s.jobs, id)
	return nil
}

// GetStats returns the number of jobs in each status
func (s *MemoryJobStore) GetStats() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[Status]int, 4)
	for _, job := range s.jobs {
		stats[job.Status]++
	}
	return stats
}
