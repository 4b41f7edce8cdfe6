package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// Defaults bounds and fills the mutable knobs on new crawl jobs.
type Defaults struct {
	Scale      int
	MaxScale   int
	Channel    string
	Storage    string
	TTLSeconds int64
}

// CreateCrawlRequest carries the caller-supplied fields for a new crawl.
type CreateCrawlRequest struct {
	UserID         string
	CID            string
	Scale          int
	MaxCrawlSize   int64
	Timeout        int64
	Manual         bool
	CrawlerChannel string
	StorageName    string
	TTLSeconds     int64
}

// CrawlService implements crawl job operations: create, read, list, scale,
// stop/cancel and delete.
type CrawlService struct {
	jobs     crawlqueue.JobStore
	queue    crawlqueue.QueueStore
	idGen    crawlqueue.IDGenerator
	clock    crawlqueue.Clock
	defaults Defaults
	logger   *zap.Logger
}

// NewCrawlService wires the stores, ID generator, clock and defaults.
func NewCrawlService(
	jobs crawlqueue.JobStore,
	queue crawlqueue.QueueStore,
	idGen crawlqueue.IDGenerator,
	clock crawlqueue.Clock,
	defaults Defaults,
	logger *zap.Logger,
) *CrawlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrawlService{
		jobs:     jobs,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		defaults: defaults,
		logger:   logger,
	}
}

// Create registers a new crawl job in the running state with an empty
// frontier. Identity fields are fixed here and never change afterwards.
func (s *CrawlService) Create(ctx context.Context, orgID string, req CreateCrawlRequest) (crawlqueue.CrawlJob, error) {
	if req.CID == "" {
		return crawlqueue.CrawlJob{}, fmt.Errorf("crawl config reference required")
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return crawlqueue.CrawlJob{}, fmt.Errorf("generate crawl id: %w", err)
	}

	job := crawlqueue.CrawlJob{
		ID:                      id,
		OID:                     orgID,
		UserID:                  req.UserID,
		CID:                     req.CID,
		Scale:                   req.Scale,
		MaxCrawlSize:            req.MaxCrawlSize,
		Timeout:                 req.Timeout,
		Manual:                  req.Manual,
		CrawlerChannel:          req.CrawlerChannel,
		StorageName:             req.StorageName,
		TTLSecondsAfterFinished: req.TTLSeconds,
		State:                   crawlqueue.JobStateRunning,
		Started:                 s.clock.Now(),
	}
	s.applyDefaults(&job)
	if job.Scale < 0 || job.Scale > s.defaults.MaxScale {
		return crawlqueue.CrawlJob{}, fmt.Errorf("scale %d outside [0, %d]", job.Scale, s.defaults.MaxScale)
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return crawlqueue.CrawlJob{}, fmt.Errorf("create crawl: %w", err)
	}
	if err := s.queue.Register(ctx, id); err != nil {
		return crawlqueue.CrawlJob{}, fmt.Errorf("register frontier: %w", err)
	}
	s.logger.Info("crawl created",
		zap.String("crawl_id", id),
		zap.String("oid", orgID),
		zap.String("cid", job.CID),
		zap.Int("scale", job.Scale),
	)
	return job, nil
}

func (s *CrawlService) applyDefaults(job *crawlqueue.CrawlJob) {
	if job.Scale == 0 {
		job.Scale = s.defaults.Scale
	}
	if job.CrawlerChannel == "" {
		job.CrawlerChannel = s.defaults.Channel
	}
	if job.StorageName == "" {
		job.StorageName = s.defaults.Storage
	}
	if job.TTLSecondsAfterFinished == 0 {
		job.TTLSecondsAfterFinished = s.defaults.TTLSeconds
	}
}

// Get returns the job plus live status figures.
func (s *CrawlService) Get(ctx context.Context, orgID, crawlID string) (crawlqueue.CrawlStatus, error) {
	job, err := s.authorized(ctx, orgID, crawlID)
	if err != nil {
		return crawlqueue.CrawlStatus{}, err
	}

	snap, err := s.queue.Snapshot(ctx, crawlID, 0, 1, "", 0)
	if err != nil {
		return crawlqueue.CrawlStatus{}, err
	}

	end := s.clock.Now()
	if job.Finished != nil {
		end = *job.Finished
	}
	return crawlqueue.CrawlStatus{
		Job:            job,
		QueueTotal:     snap.Total,
		ElapsedSeconds: int64(end.Sub(job.Started).Seconds()),
	}, nil
}

// List returns one page of the org's crawls plus the org total.
func (s *CrawlService) List(ctx context.Context, orgID string, offset, limit int) ([]crawlqueue.CrawlJob, int, error) {
	return s.jobs.ListJobs(ctx, orgID, offset, limit)
}

// SetScale adjusts the desired worker replica count on a live crawl.
func (s *CrawlService) SetScale(ctx context.Context, orgID, crawlID string, scale int) error {
	if scale < 0 || scale > s.defaults.MaxScale {
		return fmt.Errorf("scale %d outside [0, %d]", scale, s.defaults.MaxScale)
	}
	job, err := s.authorized(ctx, orgID, crawlID)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return fmt.Errorf("crawl %s already %s: %w", crawlID, job.State, crawlqueue.ErrNotFound)
	}
	if err := s.jobs.UpdateScale(ctx, crawlID, scale); err != nil {
		return err
	}
	s.logger.Info("crawl scale updated", zap.String("crawl_id", crawlID), zap.Int("scale", scale))
	return nil
}

// Cancel transitions the crawl to canceled immediately.
func (s *CrawlService) Cancel(ctx context.Context, orgID, crawlID string) error {
	job, err := s.authorized(ctx, orgID, crawlID)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return nil
	}
	now := s.clock.Now()
	return s.jobs.UpdateState(ctx, crawlID, crawlqueue.JobStateCanceled, crawlqueue.StopReasonCanceled, &now)
}

// Stop requests a graceful stop; the lifecycle controller finalizes the
// crawl to complete on its next pass.
func (s *CrawlService) Stop(ctx context.Context, orgID, crawlID string) error {
	job, err := s.authorized(ctx, orgID, crawlID)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() || job.State == crawlqueue.JobStateStopping {
		return nil
	}
	return s.jobs.UpdateState(ctx, crawlID, crawlqueue.JobStateStopping, crawlqueue.StopReasonStopped, nil)
}

// Delete removes the job record and its frontier.
func (s *CrawlService) Delete(ctx context.Context, orgID, crawlID string) error {
	if _, err := s.authorized(ctx, orgID, crawlID); err != nil {
		return err
	}
	if err := s.queue.Drop(ctx, crawlID); err != nil {
		return err
	}
	return s.jobs.DeleteJob(ctx, crawlID)
}

// authorized fetches the job and hides crawls of other orgs behind
// ErrNotFound.
func (s *CrawlService) authorized(ctx context.Context, orgID, crawlID string) (crawlqueue.CrawlJob, error) {
	job, err := s.jobs.GetJob(ctx, crawlID)
	if err != nil {
		return crawlqueue.CrawlJob{}, err
	}
	if job.OID != orgID {
		return crawlqueue.CrawlJob{}, fmt.Errorf("crawl %s in org %s: %w", crawlID, orgID, crawlqueue.ErrNotFound)
	}
	return job, nil
}
