// Package crawlqueue defines core types shared across subsystems.
package crawlqueue

import (
	"time"
)

// JobState represents the lifecycle state of a crawl job.
type JobState string

// Job states persisted in the job store. Complete, Failed and Canceled are
// terminal; Stopping is a graceful-shutdown request finalized by the
// lifecycle controller.
const (
	JobStateStarting JobState = "starting"
	JobStateRunning  JobState = "running"
	JobStateStopping JobState = "stopping"
	JobStateComplete JobState = "complete"
	JobStateFailed   JobState = "failed"
	JobStateCanceled JobState = "canceled"
)

// IsTerminal reports whether the state ends the crawl's lifecycle.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateComplete, JobStateFailed, JobStateCanceled:
		return true
	default:
		return false
	}
}

// Stop reasons recorded when the lifecycle controller forces a terminal state.
const (
	StopReasonTimeout   = "timed_out"
	StopReasonSizeLimit = "size_limit"
	StopReasonStopped   = "stopped_by_user"
	StopReasonCanceled  = "canceled_by_user"
)

// CrawlJob is the descriptor of a single crawl execution. Identity fields
// (ID, OID, UserID, CID) are immutable after creation; Scale and the limit
// fields may be updated while the crawl runs.
type CrawlJob struct {
	ID                      string     `json:"id"`
	OID                     string     `json:"oid"`
	UserID                  string     `json:"userid"`
	CID                     string     `json:"cid"`
	Scale                   int        `json:"scale"`
	MaxCrawlSize            int64      `json:"max_crawl_size,omitempty"`
	Timeout                 int64      `json:"timeout,omitempty"`
	Manual                  bool       `json:"manual"`
	CrawlerChannel          string     `json:"crawler_channel"`
	StorageName             string     `json:"storage_name"`
	TTLSecondsAfterFinished int64      `json:"ttl_seconds_after_finished"`
	State                   JobState   `json:"state"`
	StopReason              string     `json:"stop_reason,omitempty"`
	Started                 time.Time  `json:"started_at"`
	Finished                *time.Time `json:"finished_at,omitempty"`
	BytesStored             int64      `json:"bytes_stored"`
}

// DefaultTTLSecondsAfterFinished applies when the caller omits a TTL.
const DefaultTTLSecondsAfterFinished = 30

// QueueSnapshot is the result of one queue query. Results is a contiguous
// offset-based window; Matched is the subset of the entire queue matching
// the supplied pattern, independent of the window.
type QueueSnapshot struct {
	Total   int      `json:"total"`
	Results []string `json:"results"`
	Matched []string `json:"matched"`
}

// Discovery is one URL reported by a crawl worker, with the bytes the worker
// stored while fetching it (used for max-size enforcement, zero if unknown).
type Discovery struct {
	CrawlID   string `json:"crawl_id"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

// CrawlStatus is the live view exposed to status callers, combining the
// stored record with derived runtime figures.
type CrawlStatus struct {
	Job            CrawlJob `json:"job"`
	QueueTotal     int      `json:"queue_total"`
	ElapsedSeconds int64    `json:"elapsed_seconds"`
}
