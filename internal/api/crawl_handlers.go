package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crawlops/crawlqueue/internal/service"
)

type createCrawlRequest struct {
	UserID         string `json:"userid"`
	CID            string `json:"cid"`
	Scale          int    `json:"scale"`
	MaxCrawlSize   int64  `json:"max_crawl_size"`
	Timeout        int64  `json:"timeout"`
	Manual         bool   `json:"manual"`
	CrawlerChannel string `json:"crawler_channel"`
	StorageName    string `json:"storage_name"`
	TTLSeconds     int64  `json:"ttl_seconds_after_finished"`
}

func (s *Server) createCrawl(w http.ResponseWriter, r *http.Request) {
	var req createCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON")
		return
	}
	if req.CID == "" {
		s.writeError(w, http.StatusBadRequest, codeBadRequest, "cid required")
		return
	}

	job, err := s.crawls.Create(r.Context(), chi.URLParam(r, "org_id"), service.CreateCrawlRequest{
		UserID:         req.UserID,
		CID:            req.CID,
		Scale:          req.Scale,
		MaxCrawlSize:   req.MaxCrawlSize,
		Timeout:        req.Timeout,
		Manual:         req.Manual,
		CrawlerChannel: req.CrawlerChannel,
		StorageName:    req.StorageName,
		TTLSeconds:     req.TTLSeconds,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	offset, count, err := parseWindow(r, s.cfg.Queue.DefaultPageSize, s.cfg.Queue.MaxPageSize)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	jobs, total, err := s.crawls.List(r.Context(), chi.URLParam(r, "org_id"), offset, count)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"crawls": jobs,
	})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	status, err := s.crawls.Get(r.Context(), chi.URLParam(r, "org_id"), chi.URLParam(r, "crawl_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) setScale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scale *int `json:"scale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scale == nil {
		s.writeError(w, http.StatusBadRequest, codeBadRequest, "scale required")
		return
	}
	orgID := chi.URLParam(r, "org_id")
	crawlID := chi.URLParam(r, "crawl_id")
	if err := s.crawls.SetScale(r.Context(), orgID, crawlID, *req.Scale); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scaled": true, "scale": *req.Scale})
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	if err := s.crawls.Cancel(r.Context(), chi.URLParam(r, "org_id"), chi.URLParam(r, "crawl_id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	if err := s.crawls.Stop(r.Context(), chi.URLParam(r, "org_id"), chi.URLParam(r, "crawl_id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) deleteCrawl(w http.ResponseWriter, r *http.Request) {
	if err := s.crawls.Delete(r.Context(), chi.URLParam(r, "org_id"), chi.URLParam(r, "crawl_id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
