package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
	"github.com/crawlops/crawlqueue/internal/metrics"
)

// Consumer drains the discovery queue into the queue store, accumulating
// observed byte counts for max-size enforcement.
type Consumer struct {
	queue  crawlqueue.DiscoveryQueue
	jobs   crawlqueue.JobStore
	store  crawlqueue.QueueStore
	logger *zap.Logger
}

// NewConsumer wires the discovery queue and stores.
func NewConsumer(
	queue crawlqueue.DiscoveryQueue,
	jobs crawlqueue.JobStore,
	store crawlqueue.QueueStore,
	logger *zap.Logger,
) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		queue:  queue,
		jobs:   jobs,
		store:  store,
		logger: logger,
	}
}

// Run consumes discoveries until the context finishes.
func (c *Consumer) Run(ctx context.Context) {
	for {
		d, err := c.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("dequeue discovery failed", zap.Error(err))
			continue
		}
		c.Handle(ctx, d)
	}
}

// Handle applies one discovery. Reports against unknown or finished crawls
// are dropped: workers race the lifecycle controller near shutdown and a
// late report is expected, not an error.
func (c *Consumer) Handle(ctx context.Context, d crawlqueue.Discovery) {
	job, err := c.jobs.GetJob(ctx, d.CrawlID)
	if err != nil {
		if errors.Is(err, crawlqueue.ErrNotFound) {
			metrics.ObserveAppend("dropped")
			return
		}
		metrics.ObserveAppend("error")
		c.logger.Error("lookup crawl failed", zap.String("crawl_id", d.CrawlID), zap.Error(err))
		return
	}
	if job.State.IsTerminal() {
		metrics.ObserveAppend("dropped")
		return
	}

	inserted, err := c.store.Append(ctx, d.CrawlID, d.URL)
	if err != nil {
		metrics.ObserveAppend("error")
		c.logger.Error("append url failed",
			zap.String("crawl_id", d.CrawlID),
			zap.String("url", d.URL),
			zap.Error(err),
		)
		return
	}
	if !inserted {
		// Redelivered discovery. Counting its bytes again would push the
		// job toward maxCrawlSize for work it never did.
		metrics.ObserveAppend("duplicate")
		return
	}
	metrics.ObserveAppend("appended")

	if d.SizeBytes > 0 {
		if _, err := c.jobs.AddBytes(ctx, d.CrawlID, d.SizeBytes); err != nil {
			c.logger.Warn("record bytes failed", zap.String("crawl_id", d.CrawlID), zap.Error(err))
		}
	}
}
