package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// JobStore persists crawl job records in the crawl_jobs table.
type JobStore struct {
	db DB
}

// NewJobStore constructs a JobStore over an open pool.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, oid, userid, cid, scale, max_crawl_size, timeout_seconds,
	manual, crawler_channel, storage_name, ttl_seconds_after_finished,
	state, stop_reason, started_at, finished_at, bytes_stored`

// CreateJob inserts a new job record.
func (s *JobStore) CreateJob(ctx context.Context, job crawlqueue.CrawlJob) error {
	query := `
		INSERT INTO crawl_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
	`
	_, err := s.db.Exec(ctx, query,
		job.ID, job.OID, job.UserID, job.CID, job.Scale, job.MaxCrawlSize,
		job.Timeout, job.Manual, job.CrawlerChannel, job.StorageName,
		job.TTLSecondsAfterFinished, job.State, job.StopReason,
		job.Started, job.Finished, job.BytesStored,
	)
	if err != nil {
		return fmt.Errorf("create job: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return nil
}

// GetJob fetches a job by crawl ID.
func (s *JobStore) GetJob(ctx context.Context, crawlID string) (crawlqueue.CrawlJob, error) {
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1;`
	job, err := scanJob(s.db.QueryRow(ctx, query, crawlID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawlqueue.CrawlJob{}, fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
		}
		return crawlqueue.CrawlJob{}, fmt.Errorf("get job: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return job, nil
}

// ListJobs returns a creation-ordered page of an org's jobs plus the org total.
func (s *JobStore) ListJobs(ctx context.Context, oid string, offset, limit int) ([]crawlqueue.CrawlJob, int, error) {
	var total int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM crawl_jobs WHERE oid = $1;`, oid).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w: %v", crawlqueue.ErrUnavailable, err)
	}

	query := `
		SELECT ` + jobColumns + ` FROM crawl_jobs
		WHERE oid = $1
		ORDER BY started_at, id
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, oid, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	defer rows.Close()

	jobs := []crawlqueue.CrawlJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs rows: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return jobs, total, nil
}

// UpdateScale adjusts the desired replica count.
func (s *JobStore) UpdateScale(ctx context.Context, crawlID string, scale int) error {
	tag, err := s.db.Exec(ctx, `UPDATE crawl_jobs SET scale = $1 WHERE id = $2;`, scale, crawlID)
	if err != nil {
		return fmt.Errorf("update scale: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	return nil
}

// UpdateState transitions a job's lifecycle state; transitions out of a
// terminal state are filtered out by the WHERE clause.
func (s *JobStore) UpdateState(
	ctx context.Context,
	crawlID string,
	state crawlqueue.JobState,
	reason string,
	finished *time.Time,
) error {
	query := `
		UPDATE crawl_jobs
		SET state = $1, stop_reason = $2, finished_at = COALESCE($3, finished_at)
		WHERE id = $4 AND state NOT IN ('complete', 'failed', 'canceled');
	`
	tag, err := s.db.Exec(ctx, query, state, reason, finished, crawlID)
	if err != nil {
		return fmt.Errorf("update state: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl %s not updatable: %w", crawlID, crawlqueue.ErrNotFound)
	}
	return nil
}

// AddBytes accumulates observed stored bytes and returns the new total.
func (s *JobStore) AddBytes(ctx context.Context, crawlID string, delta int64) (int64, error) {
	query := `
		UPDATE crawl_jobs SET bytes_stored = bytes_stored + $1
		WHERE id = $2
		RETURNING bytes_stored;
	`
	var total int64
	err := s.db.QueryRow(ctx, query, delta, crawlID).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
		}
		return 0, fmt.Errorf("add bytes: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return total, nil
}

// DeleteJob removes a job record; the queue rows cascade.
func (s *JobStore) DeleteJob(ctx context.Context, crawlID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM crawl_jobs WHERE id = $1;`, crawlID)
	if err != nil {
		return fmt.Errorf("delete job: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	return nil
}

// ListFinished returns all jobs in a terminal state.
func (s *JobStore) ListFinished(ctx context.Context) ([]crawlqueue.CrawlJob, error) {
	return s.listByState(ctx, true)
}

// ListActive returns all jobs not yet in a terminal state.
func (s *JobStore) ListActive(ctx context.Context) ([]crawlqueue.CrawlJob, error) {
	return s.listByState(ctx, false)
}

func (s *JobStore) listByState(ctx context.Context, terminal bool) ([]crawlqueue.CrawlJob, error) {
	op := "NOT IN"
	if terminal {
		op = "IN"
	}
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE state ` + op +
		` ('complete', 'failed', 'canceled') ORDER BY started_at, id;`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	defer rows.Close()

	jobs := []crawlqueue.CrawlJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs by state rows: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawlqueue.CrawlJob, error) {
	var job crawlqueue.CrawlJob
	err := row.Scan(
		&job.ID, &job.OID, &job.UserID, &job.CID, &job.Scale, &job.MaxCrawlSize,
		&job.Timeout, &job.Manual, &job.CrawlerChannel, &job.StorageName,
		&job.TTLSecondsAfterFinished, &job.State, &job.StopReason,
		&job.Started, &job.Finished, &job.BytesStored,
	)
	return job, err
}
