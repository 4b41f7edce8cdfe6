package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// QueueStore persists the per-crawl URL frontier in the crawl_queue table.
// Discovery order is the pos sequence; (crawl_id, url) uniqueness makes
// Append idempotent at the database level.
type QueueStore struct {
	db DB
}

// NewQueueStore constructs a QueueStore over an open pool.
func NewQueueStore(db DB) *QueueStore {
	return &QueueStore{db: db}
}

// Register is a no-op: frontier existence derives from the crawl_jobs row.
func (s *QueueStore) Register(_ context.Context, _ string) error {
	return nil
}

// Append inserts url for the crawl; duplicates are swallowed by the ON
// CONFLICT clause so total never counts a URL twice. The command tag's row
// count tells callers whether the URL was new.
func (s *QueueStore) Append(ctx context.Context, crawlID, url string) (bool, error) {
	query := `
		INSERT INTO crawl_queue (crawl_id, url)
		VALUES ($1, $2)
		ON CONFLICT (crawl_id, url) DO NOTHING;
	`
	tag, err := s.db.Exec(ctx, query, crawlID, url)
	if err != nil {
		if isFKViolation(err) {
			return false, fmt.Errorf("append to crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
		}
		return false, fmt.Errorf("append url: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Snapshot returns the frontier total, the requested window in discovery
// order and, for a non-empty pattern, the global matching subset capped at
// matchLimit. The pattern is compiled in Go before any query runs, so an
// invalid pattern never reaches the database, and match semantics are
// identical to the in-memory store's.
func (s *QueueStore) Snapshot(
	ctx context.Context,
	crawlID string,
	offset, count int,
	pattern string,
	matchLimit int,
) (crawlqueue.QueueSnapshot, error) {
	re, err := crawlqueue.CompilePattern(pattern)
	if err != nil {
		return crawlqueue.QueueSnapshot{}, err
	}
	if offset < 0 || count <= 0 {
		return crawlqueue.QueueSnapshot{}, fmt.Errorf("offset=%d count=%d: invalid window", offset, count)
	}

	var exists bool
	err = s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_jobs WHERE id = $1);`, crawlID).Scan(&exists)
	if err != nil {
		return crawlqueue.QueueSnapshot{}, fmt.Errorf("check crawl: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	if !exists {
		return crawlqueue.QueueSnapshot{}, fmt.Errorf("snapshot of crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}

	snap := crawlqueue.QueueSnapshot{Results: []string{}, Matched: []string{}}
	err = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM crawl_queue WHERE crawl_id = $1;`, crawlID).Scan(&snap.Total)
	if err != nil {
		return crawlqueue.QueueSnapshot{}, fmt.Errorf("count queue: %w: %v", crawlqueue.ErrUnavailable, err)
	}

	snap.Results, err = s.window(ctx, crawlID, offset, count)
	if err != nil {
		return crawlqueue.QueueSnapshot{}, err
	}
	if re != nil {
		snap.Matched, err = s.match(ctx, crawlID, re.MatchString, matchLimit)
		if err != nil {
			return crawlqueue.QueueSnapshot{}, err
		}
	}
	return snap, nil
}

func (s *QueueStore) window(ctx context.Context, crawlID string, offset, count int) ([]string, error) {
	query := `
		SELECT url FROM crawl_queue
		WHERE crawl_id = $1
		ORDER BY pos
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, crawlID, count, offset)
	if err != nil {
		return nil, fmt.Errorf("queue window: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	defer rows.Close()

	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("queue window rows: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return urls, nil
}

// match streams the whole frontier in discovery order and evaluates the
// compiled pattern in Go, stopping at the cap.
func (s *QueueStore) match(ctx context.Context, crawlID string, matches func(string) bool, limit int) ([]string, error) {
	query := `SELECT url FROM crawl_queue WHERE crawl_id = $1 ORDER BY pos;`
	rows, err := s.db.Query(ctx, query, crawlID)
	if err != nil {
		return nil, fmt.Errorf("queue match: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	defer rows.Close()

	matched := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		if matches(u) {
			matched = append(matched, u)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue match rows: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return matched, nil
}

// Drop discards the frontier for a crawl.
func (s *QueueStore) Drop(ctx context.Context, crawlID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM crawl_queue WHERE crawl_id = $1;`, crawlID); err != nil {
		return fmt.Errorf("drop queue: %w: %v", crawlqueue.ErrUnavailable, err)
	}
	return nil
}
