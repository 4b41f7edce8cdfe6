package crawlqueue

import (
	"context"
	"time"
)

// JobStore persists crawl job records.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	GetJob(ctx context.Context, crawlID string) (CrawlJob, error)
	ListJobs(ctx context.Context, oid string, offset, limit int) ([]CrawlJob, int, error)
	UpdateScale(ctx context.Context, crawlID string, scale int) error
	UpdateState(ctx context.Context, crawlID string, state JobState, reason string, finished *time.Time) error
	AddBytes(ctx context.Context, crawlID string, delta int64) (int64, error)
	DeleteJob(ctx context.Context, crawlID string) error
	ListFinished(ctx context.Context) ([]CrawlJob, error)
	ListActive(ctx context.Context) ([]CrawlJob, error)
}

// QueueStore records the URL frontier per crawl.
type QueueStore interface {
	// Register prepares an empty frontier for a newly created crawl.
	Register(ctx context.Context, crawlID string) error

	// Append inserts url into the crawl's frontier and reports whether it
	// was newly inserted. Re-appending a URL already present is a no-op
	// returning false; Total never counts a URL twice.
	Append(ctx context.Context, crawlID, url string) (bool, error)

	// Snapshot returns the frontier total, the [offset, offset+count)
	// window in discovery order, and, when pattern is non-empty, the
	// matching subset of the whole frontier capped at matchLimit.
	Snapshot(ctx context.Context, crawlID string, offset, count int, pattern string, matchLimit int) (QueueSnapshot, error)

	// Drop discards the frontier for a crawl (lifecycle GC).
	Drop(ctx context.Context, crawlID string) error
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// DiscoveryQueue carries worker URL reports into the control plane.
type DiscoveryQueue interface {
	Enqueue(ctx context.Context, d Discovery) error
	Dequeue(ctx context.Context) (Discovery, error)
}
