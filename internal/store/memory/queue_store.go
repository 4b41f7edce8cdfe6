// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// QueueStore keeps each crawl's URL frontier in discovery order with a
// dedupe set alongside. Append-only; reads copy out under RLock.
type QueueStore struct {
	mu       sync.RWMutex
	frontier map[string][]string
	seen     map[string]map[string]struct{}
}

// NewQueueStore constructs a QueueStore.
func NewQueueStore() *QueueStore {
	return &QueueStore{
		frontier: make(map[string][]string),
		seen:     make(map[string]map[string]struct{}),
	}
}

// Register creates an empty frontier for a new crawl.
func (s *QueueStore) Register(_ context.Context, crawlID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[crawlID]; !ok {
		s.frontier[crawlID] = nil
		s.seen[crawlID] = make(map[string]struct{})
	}
	return nil
}

// Append inserts url into the crawl's frontier. Duplicates are ignored and
// reported so callers do not re-count a redelivered discovery.
func (s *QueueStore) Append(_ context.Context, crawlID, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.seen[crawlID]
	if !ok {
		return false, fmt.Errorf("append to crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}
	if _, dup := set[url]; dup {
		return false, nil
	}
	set[url] = struct{}{}
	s.frontier[crawlID] = append(s.frontier[crawlID], url)
	return true, nil
}

// Snapshot returns the frontier total, the requested window and, when
// pattern is non-empty, the global matching subset capped at matchLimit.
// Pattern validation happens before any state is read so an invalid pattern
// never observes or mutates the frontier.
func (s *QueueStore) Snapshot(
	_ context.Context,
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

	s.mu.RLock()
	defer s.mu.RUnlock()
	urls, ok := s.frontier[crawlID]
	if !ok {
		return crawlqueue.QueueSnapshot{}, fmt.Errorf("snapshot of crawl %s: %w", crawlID, crawlqueue.ErrNotFound)
	}

	snap := crawlqueue.QueueSnapshot{
		Total:   len(urls),
		Results: []string{},
		Matched: []string{},
	}
	if offset < len(urls) {
		end := offset + count
		if end > len(urls) {
			end = len(urls)
		}
		snap.Results = append(snap.Results, urls[offset:end]...)
	}
	if re != nil {
		for _, u := range urls {
			if matchLimit > 0 && len(snap.Matched) >= matchLimit {
				break
			}
			if re.MatchString(u) {
				snap.Matched = append(snap.Matched, u)
			}
		}
	}
	return snap, nil
}

// Drop discards the frontier for a crawl.
func (s *QueueStore) Drop(_ context.Context, crawlID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frontier, crawlID)
	delete(s.seen, crawlID)
	return nil
}
