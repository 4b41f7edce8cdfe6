// Package service implements the control-plane operations between the HTTP
// layer and the stores.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// QueryService is the paginated read boundary over the queue store. It is
// purely a read path: no call here mutates any state.
type QueryService struct {
	jobs       crawlqueue.JobStore
	queue      crawlqueue.QueueStore
	matchLimit int
	logger     *zap.Logger
}

// NewQueryService wires the stores and logger.
func NewQueryService(jobs crawlqueue.JobStore, queue crawlqueue.QueueStore, matchLimit int, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		jobs:       jobs,
		queue:      queue,
		matchLimit: matchLimit,
		logger:     logger,
	}
}

// GetQueue returns the crawl's queue snapshot for the given window and
// optional match pattern. A crawl belonging to another org reports
// ErrNotFound so existence never leaks across tenants; an uncompilable
// pattern reports ErrInvalidPattern before any store read.
func (s *QueryService) GetQueue(
	ctx context.Context,
	orgID, crawlID string,
	offset, count int,
	pattern string,
) (crawlqueue.QueueSnapshot, error) {
	// Validate the pattern first so a typo never shows up as a store error.
	if _, err := crawlqueue.CompilePattern(pattern); err != nil {
		return crawlqueue.QueueSnapshot{}, err
	}

	job, err := s.jobs.GetJob(ctx, crawlID)
	if err != nil {
		return crawlqueue.QueueSnapshot{}, err
	}
	if job.OID != orgID {
		return crawlqueue.QueueSnapshot{}, fmt.Errorf("crawl %s in org %s: %w", crawlID, orgID, crawlqueue.ErrNotFound)
	}

	snap, err := s.queue.Snapshot(ctx, crawlID, offset, count, pattern, s.matchLimit)
	if err != nil {
		s.logger.Error("queue snapshot failed",
			zap.String("crawl_id", crawlID),
			zap.Error(err),
		)
		return crawlqueue.QueueSnapshot{}, err
	}
	return snap, nil
}
