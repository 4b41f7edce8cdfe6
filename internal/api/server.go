// Package api exposes the HTTP interface for the crawl queue service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/config"
	"github.com/crawlops/crawlqueue/internal/crawlqueue"
	"github.com/crawlops/crawlqueue/internal/metrics"
	"github.com/crawlops/crawlqueue/internal/service"
)

// Server wires HTTP handlers to the services.
type Server struct {
	router chi.Router
	crawls *service.CrawlService
	query  *service.QueryService
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	crawls *service.CrawlService,
	query *service.QueryService,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawls: crawls,
		query:  query,
		cfg:    cfg,
		logger: logger,
	}

	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/orgs/{org_id}", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(s.orgAuthMiddleware)
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.createCrawl)
			r.Get("/", s.listCrawls)
			r.Route("/{crawl_id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Delete("/", s.deleteCrawl)
				r.Patch("/scale", s.setScale)
				r.Post("/cancel", s.cancelCrawl)
				r.Post("/stop", s.stopCrawl)
				r.Get("/queue", s.getQueue)
				r.Get("/watch", s.watchCrawl)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Error codes returned in the "error" field. invalid_regex stays distinct so
// polling clients can suppress alarms for it while the user is still typing.
const (
	codeBadRequest   = "bad_request"
	codeInvalidRegex = "invalid_regex"
	codeNotFound     = "not_found"
	codeUnauthorized = "unauthorized"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal_error"
)

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawlqueue.ErrInvalidPattern):
		s.writeError(w, http.StatusBadRequest, codeInvalidRegex, err.Error())
	case errors.Is(err, crawlqueue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, crawlqueue.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
	case errors.Is(err, crawlqueue.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, codeUnavailable, "backend unavailable")
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, detail string) {
	s.writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}

// queryOutcome classifies an error for the query metrics counter.
func queryOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, crawlqueue.ErrInvalidPattern):
		return "invalid_pattern"
	case errors.Is(err, crawlqueue.ErrNotFound):
		return "not_found"
	case errors.Is(err, crawlqueue.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// orgAuthMiddleware resolves the bearer token to an org and requires it to
// match the org in the path. A token for a different org gets Unauthorized,
// never NotFound, so nothing leaks about other tenants' crawls.
func (s *Server) orgAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
			return
		}
		oid, ok := s.cfg.Auth.OrgTokens[token]
		if !ok || oid != chi.URLParam(r, "org_id") {
			s.writeError(w, http.StatusUnauthorized, codeUnauthorized, "token does not grant access to this org")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browser WebSocket clients cannot set the Authorization header, so
	// upgrade requests may carry the token as a query parameter. Plain REST
	// calls may not; query strings end up in proxy and access logs.
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("auth_bearer")
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
