package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/config"
	"github.com/crawlops/crawlqueue/internal/crawlqueue"
	"github.com/crawlops/crawlqueue/internal/service"
	"github.com/crawlops/crawlqueue/internal/store/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDGen struct{ n int }

func (g *fakeIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("crawl-%d", g.n), nil
}

type testEnv struct {
	srv   *httptest.Server
	queue *memory.QueueStore
	jobs  *memory.JobStore
	clock *fakeClock
	cfg   config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Config{}
	cfg.Queue.MatchLimit = 1000
	cfg.Queue.MaxPageSize = 1000
	cfg.Queue.DefaultPageSize = 50
	cfg.Queue.QueryTimeoutMs = 2000
	cfg.Crawls.DefaultScale = 1
	cfg.Crawls.MaxScale = 8
	cfg.Crawls.DefaultChannel = "default"
	cfg.Crawls.DefaultStorage = "default"
	cfg.Crawls.DefaultTTLSec = 30
	if mutate != nil {
		mutate(&cfg)
	}

	jobs := memory.NewJobStore()
	queue := memory.NewQueueStore()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	crawls := service.NewCrawlService(jobs, queue, &fakeIDGen{}, clock, service.Defaults{
		Scale:      cfg.Crawls.DefaultScale,
		MaxScale:   cfg.Crawls.MaxScale,
		Channel:    cfg.Crawls.DefaultChannel,
		Storage:    cfg.Crawls.DefaultStorage,
		TTLSeconds: cfg.Crawls.DefaultTTLSec,
	}, zap.NewNop())
	query := service.NewQueryService(jobs, queue, cfg.Queue.MatchLimit, zap.NewNop())

	srv := httptest.NewServer(NewServer(crawls, query, cfg, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, queue: queue, jobs: jobs, clock: clock, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) createCrawl(t *testing.T, org string) crawlqueue.CrawlJob {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/orgs/"+org+"/crawls", map[string]any{
		"userid": "user-1",
		"cid":    "config-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[crawlqueue.CrawlJob](t, resp)
}

func TestCreateAndGetCrawl(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	job := env.createCrawl(t, "org-a")
	require.Equal(t, "crawl-1", job.ID)
	require.Equal(t, "org-a", job.OID)
	require.Equal(t, crawlqueue.JobStateRunning, job.State)
	require.Equal(t, 1, job.Scale)
	require.Equal(t, "default", job.CrawlerChannel)

	resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/crawl-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[crawlqueue.CrawlStatus](t, resp)
	require.Equal(t, job.ID, status.Job.ID)
	require.Equal(t, 0, status.QueueTotal)
}

func TestCreateCrawlValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/v1/orgs/org-a/crawls", map[string]any{"userid": "u"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	require.Equal(t, "bad_request", body["error"])

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/orgs/org-a/crawls", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	require.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestListCrawls(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.createCrawl(t, "org-a")
	env.createCrawl(t, "org-a")
	env.createCrawl(t, "org-b")

	resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Total  int                   `json:"total"`
		Crawls []crawlqueue.CrawlJob `json:"crawls"`
	}](t, resp)
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Crawls, 2)
	for _, j := range body.Crawls {
		require.Equal(t, "org-a", j.OID)
	}
}

func TestQueueEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	job := env.createCrawl(t, "org-a")

	ctx := context.Background()
	urls := []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/ads/banner",
		"https://example.com/blog",
		"https://example.com/ads/tracker",
	}
	for _, u := range urls {
		_, err := env.queue.Append(ctx, job.ID, u)
		require.NoError(t, err)
	}
	// Duplicate report must not inflate the total.
	_, err := env.queue.Append(ctx, job.ID, urls[0])
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID+"/queue?offset=1&count=2&regex=/ads/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decodeBody[crawlqueue.QueueSnapshot](t, resp)
	require.Equal(t, 5, snap.Total)
	require.Equal(t, []string{urls[1], urls[2]}, snap.Results)
	require.Equal(t, []string{urls[2], urls[4]}, snap.Matched)
}

func TestQueueEndpointErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	job := env.createCrawl(t, "org-a")

	t.Run("invalid regex", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID+"/queue?regex="+`%5B`, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody[map[string]string](t, resp)
		require.Equal(t, "invalid_regex", body["error"])
	})

	t.Run("unknown crawl", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/no-such/queue", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		body := decodeBody[map[string]string](t, resp)
		require.Equal(t, "not_found", body["error"])
	})

	t.Run("cross org lookup", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/orgs/org-b/crawls/"+job.ID+"/queue", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad offset", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID+"/queue?offset=-1", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody[map[string]string](t, resp)
		require.Equal(t, "bad_request", body["error"])
	})

	t.Run("bad count", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID+"/queue?count=zero", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestScaleStopCancelDelete(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	t.Run("scale", func(t *testing.T) {
		job := env.createCrawl(t, "org-a")
		resp := env.do(t, http.MethodPatch, "/v1/orgs/org-a/crawls/"+job.ID+"/scale", map[string]int{"scale": 3})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID, nil)
		status := decodeBody[crawlqueue.CrawlStatus](t, resp)
		require.Equal(t, 3, status.Job.Scale)
	})

	t.Run("scale requires body", func(t *testing.T) {
		job := env.createCrawl(t, "org-a")
		resp := env.do(t, http.MethodPatch, "/v1/orgs/org-a/crawls/"+job.ID+"/scale", map[string]string{})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("stop", func(t *testing.T) {
		job := env.createCrawl(t, "org-a")
		resp := env.do(t, http.MethodPost, "/v1/orgs/org-a/crawls/"+job.ID+"/stop", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID, nil)
		status := decodeBody[crawlqueue.CrawlStatus](t, resp)
		require.Equal(t, crawlqueue.JobStateStopping, status.Job.State)
	})

	t.Run("cancel", func(t *testing.T) {
		job := env.createCrawl(t, "org-a")
		resp := env.do(t, http.MethodPost, "/v1/orgs/org-a/crawls/"+job.ID+"/cancel", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID, nil)
		status := decodeBody[crawlqueue.CrawlStatus](t, resp)
		require.Equal(t, crawlqueue.JobStateCanceled, status.Job.State)
		require.Equal(t, crawlqueue.StopReasonCanceled, status.Job.StopReason)
	})

	t.Run("delete", func(t *testing.T) {
		job := env.createCrawl(t, "org-a")
		resp := env.do(t, http.MethodDelete, "/v1/orgs/org-a/crawls/"+job.ID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/"+job.ID, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestOrgAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.OrgTokens = map[string]string{
			"token-a": "org-a",
			"token-b": "org-b",
		}
	})

	get := func(t *testing.T, token string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/orgs/org-a/crawls", nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := env.srv.Client().Do(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("missing token", func(t *testing.T) {
		resp := get(t, "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong org token", func(t *testing.T) {
		resp := get(t, "token-b")
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decodeBody[map[string]string](t, resp)
		require.Equal(t, "unauthorized", body["error"])
	})

	t.Run("valid token", func(t *testing.T) {
		resp := get(t, "token-a")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, err := env.srv.Client().Get(env.srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("query token rejected on rest routes", func(t *testing.T) {
		resp, err := env.srv.Client().Get(env.srv.URL + "/v1/orgs/org-a/crawls?auth_bearer=token-a")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("query token accepted on watch upgrade", func(t *testing.T) {
		body := bytes.NewBufferString(`{"userid":"u","cid":"config-1"}`)
		req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/orgs/org-a/crawls", body)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer token-a")
		resp, err := env.srv.Client().Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		job := decodeBody[crawlqueue.CrawlJob](t, resp)

		wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") +
			"/v1/orgs/org-a/crawls/" + job.ID + "/watch?auth_bearer=token-a"
		conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		if wsResp != nil {
			wsResp.Body.Close()
		}
		conn.Close()
	})
}

func TestWatchCrawl(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	job := env.createCrawl(t, "org-a")

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/orgs/org-a/crawls/" + job.ID + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var status crawlqueue.CrawlStatus
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, job.ID, status.Job.ID)
	require.Equal(t, crawlqueue.JobStateRunning, status.Job.State)

	// Cancel underneath the watcher; the stream must emit the terminal
	// state and then close.
	cancelResp := env.do(t, http.MethodPost, "/v1/orgs/org-a/crawls/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)
	cancelResp.Body.Close()

	sawTerminal := false
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		if err := conn.ReadJSON(&status); err != nil {
			break
		}
		if status.Job.State.IsTerminal() {
			sawTerminal = true
			break
		}
	}
	require.True(t, sawTerminal)
}

func TestWatchUnknownCrawl(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/v1/orgs/org-a/crawls/no-such/watch", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
