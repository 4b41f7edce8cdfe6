package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// JobStore provides an in-memory crawl job store for development/testing.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawlqueue.CrawlJob
	order []string
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawlqueue.CrawlJob),
	}
}

// CreateJob stores a new job record.
func (s *JobStore) CreateJob(_ context.Context, job crawlqueue.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("crawl %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return nil
}

// GetJob fetches a job by crawl ID.
func (s *JobStore) GetJob(_ context.Context, crawlID string) (crawlqueue.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[crawlID]
	if !ok {
		return crawlqueue.CrawlJob{}, fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	return job, nil
}

// ListJobs returns a creation-ordered page of an org's jobs plus the org total.
func (s *JobStore) ListJobs(_ context.Context, oid string, offset, limit int) ([]crawlqueue.CrawlJob, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []crawlqueue.CrawlJob
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok && job.OID == oid {
			all = append(all, job)
		}
	}
	total := len(all)
	if offset >= total {
		return []crawlqueue.CrawlJob{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]crawlqueue.CrawlJob, end-offset)
	copy(page, all[offset:end])
	return page, total, nil
}

// UpdateScale adjusts the desired replica count for a running crawl.
func (s *JobStore) UpdateScale(_ context.Context, crawlID string, scale int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[crawlID]
	if !ok {
		return fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	job.Scale = scale
	s.jobs[crawlID] = job
	return nil
}

// UpdateState transitions a job's lifecycle state. Terminal transitions
// record the finish time; later transitions on a terminal job are rejected.
func (s *JobStore) UpdateState(
	_ context.Context,
	crawlID string,
	state crawlqueue.JobState,
	reason string,
	finished *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[crawlID]
	if !ok {
		return fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	if job.State.IsTerminal() {
		return fmt.Errorf("crawl %s already %s", crawlID, job.State)
	}
	job.State = state
	job.StopReason = reason
	if state.IsTerminal() {
		job.Finished = finished
	}
	s.jobs[crawlID] = job
	return nil
}

// AddBytes accumulates observed stored bytes and returns the new total.
func (s *JobStore) AddBytes(_ context.Context, crawlID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[crawlID]
	if !ok {
		return 0, fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	job.BytesStored += delta
	s.jobs[crawlID] = job
	return job.BytesStored, nil
}

// DeleteJob removes a job record entirely (lifecycle GC).
func (s *JobStore) DeleteJob(_ context.Context, crawlID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[crawlID]; !ok {
		return fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	delete(s.jobs, crawlID)
	for i, id := range s.order {
		if id == crawlID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListFinished returns all jobs in a terminal state.
func (s *JobStore) ListFinished(_ context.Context) ([]crawlqueue.CrawlJob, error) {
	return s.listWhere(func(j crawlqueue.CrawlJob) bool { return j.State.IsTerminal() })
}

// ListActive returns all jobs not yet in a terminal state.
func (s *JobStore) ListActive(_ context.Context) ([]crawlqueue.CrawlJob, error) {
	return s.listWhere(func(j crawlqueue.CrawlJob) bool { return !j.State.IsTerminal() })
}

func (s *JobStore) listWhere(keep func(crawlqueue.CrawlJob) bool) ([]crawlqueue.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawlqueue.CrawlJob
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok && keep(job) {
			out = append(out, job)
		}
	}
	return out, nil
}
