package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crawlops/crawlqueue/internal/metrics"
)

// getQueue handles
// GET /v1/orgs/{org_id}/crawls/{crawl_id}/queue?offset&count&regex.
// It returns {"total": n, "results": [...], "matched": [...]}; an empty or
// missing regex means no match set is computed. The handler applies the
// configured query timeout so a slow backend never blocks the client's next
// poll.
func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	crawlID := chi.URLParam(r, "crawl_id")

	offset, count, err := parseWindow(r, s.cfg.Queue.DefaultPageSize, s.cfg.Queue.MaxPageSize)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	pattern := r.URL.Query().Get("regex")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout())
	defer cancel()

	start := time.Now()
	snap, err := s.query.GetQueue(ctx, orgID, crawlID, offset, count, pattern)
	metrics.ObserveQuery(queryOutcome(err), time.Since(start))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// parseWindow reads offset/count query parameters with defaults and a cap.
func parseWindow(r *http.Request, defaultCount, maxCount int) (int, int, error) {
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = v
	}
	count := defaultCount
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("count must be a positive integer")
		}
		count = v
	}
	if count > maxCount {
		count = maxCount
	}
	return offset, count, nil
}
