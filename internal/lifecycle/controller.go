// Package lifecycle reconciles crawl job records against their limits and
// retention windows.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
	"github.com/crawlops/crawlqueue/internal/metrics"
)

// Controller enforces timeout and max-size stop conditions on running
// crawls, finalizes graceful stops, and garbage-collects job metadata once
// its post-completion TTL expires.
type Controller struct {
	jobs     crawlqueue.JobStore
	queue    crawlqueue.QueueStore
	clock    crawlqueue.Clock
	interval time.Duration
	logger   *zap.Logger
}

// New constructs a Controller.
func New(
	jobs crawlqueue.JobStore,
	queue crawlqueue.QueueStore,
	clock crawlqueue.Clock,
	interval time.Duration,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		jobs:     jobs,
		queue:    queue,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run drives the reconcile loop until the context finishes. Individual
// reconcile failures are logged and retried on the next tick.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Reconcile(ctx)
		}
	}
}

// Reconcile performs one pass over all jobs.
func (c *Controller) Reconcile(ctx context.Context) {
	now := c.clock.Now()

	active, err := c.jobs.ListActive(ctx)
	if err != nil {
		c.logger.Error("list active crawls failed", zap.Error(err))
		return
	}
	metrics.SetActiveCrawls(len(active))
	for _, job := range active {
		c.reconcileActive(ctx, job, now)
	}

	finished, err := c.jobs.ListFinished(ctx)
	if err != nil {
		c.logger.Error("list finished crawls failed", zap.Error(err))
		return
	}
	for _, job := range finished {
		c.reapExpired(ctx, job, now)
	}
}

func (c *Controller) reconcileActive(ctx context.Context, job crawlqueue.CrawlJob, now time.Time) {
	var (
		state  crawlqueue.JobState
		reason string
	)
	switch {
	case job.State == crawlqueue.JobStateStopping:
		state, reason = crawlqueue.JobStateComplete, crawlqueue.StopReasonStopped
	case job.Timeout > 0 && now.Sub(job.Started) >= time.Duration(job.Timeout)*time.Second:
		state, reason = crawlqueue.JobStateFailed, crawlqueue.StopReasonTimeout
	case job.MaxCrawlSize > 0 && job.BytesStored >= job.MaxCrawlSize:
		state, reason = crawlqueue.JobStateComplete, crawlqueue.StopReasonSizeLimit
	default:
		return
	}

	if err := c.jobs.UpdateState(ctx, job.ID, state, reason, &now); err != nil {
		c.logger.Error("finalize crawl failed",
			zap.String("crawl_id", job.ID),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("crawl finalized",
		zap.String("crawl_id", job.ID),
		zap.String("state", string(state)),
		zap.String("reason", reason),
	)
}

// reapExpired deletes the record and frontier of a crawl whose TTL elapsed.
func (c *Controller) reapExpired(ctx context.Context, job crawlqueue.CrawlJob, now time.Time) {
	if job.Finished == nil {
		return
	}
	ttl := time.Duration(job.TTLSecondsAfterFinished) * time.Second
	if now.Sub(*job.Finished) < ttl {
		return
	}
	if err := c.queue.Drop(ctx, job.ID); err != nil {
		c.logger.Error("drop frontier failed", zap.String("crawl_id", job.ID), zap.Error(err))
		return
	}
	if err := c.jobs.DeleteJob(ctx, job.ID); err != nil {
		c.logger.Error("delete job failed", zap.String("crawl_id", job.ID), zap.Error(err))
		return
	}
	metrics.ObserveReap()
	c.logger.Info("crawl metadata reaped",
		zap.String("crawl_id", job.ID),
		zap.Duration("ttl", ttl),
	)
}
