package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Org-token auth already ran in the middleware chain.
		return true
	},
}

const (
	watchPollInterval = time.Second
	watchWriteWait    = 10 * time.Second
)

// watchCrawl streams live crawl status over a WebSocket until the crawl
// reaches a terminal state or the client disconnects. Updates are throttled
// so a fast-moving frontier does not flood slow clients.
func (s *Server) watchCrawl(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org_id")
	crawlID := chi.URLParam(r, "crawl_id")

	// Reject unknown crawls before upgrading so the client gets a proper
	// HTTP status instead of an immediately closed socket.
	if _, err := s.crawls.Get(r.Context(), orgID, crawlID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("websocket close failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read pump: we never expect client frames, but reading is the only way
	// to notice a disconnect promptly.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	throttle := rate.NewLimiter(rate.Every(watchPollInterval), 1)
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !throttle.Allow() {
			continue
		}

		status, err := s.crawls.Get(ctx, orgID, crawlID)
		if err != nil {
			// The crawl may have been reaped mid-watch; tell the client and
			// stop.
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "crawl gone"),
				time.Now().Add(watchWriteWait),
			)
			return
		}

		if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
			return
		}
		if err := conn.WriteJSON(status); err != nil {
			return
		}
		if status.Job.State.IsTerminal() {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "crawl finished"),
				time.Now().Add(watchWriteWait),
			)
			return
		}
	}
}
