package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawlqueue.CrawlJob{
		ID:    "c1",
		OID:   "org-1",
		State: crawlqueue.JobStateRunning,
		Scale: 1,
	}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}

	if err := store.UpdateScale(ctx, "c1", 3); err != nil {
		t.Fatalf("UpdateScale() error = %v", err)
	}
	got, err := store.GetJob(ctx, "c1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Scale != 3 {
		t.Fatalf("Scale = %d, want 3", got.Scale)
	}

	total, err := store.AddBytes(ctx, "c1", 1024)
	if err != nil || total != 1024 {
		t.Fatalf("AddBytes() = %d, %v", total, err)
	}

	finished := time.Unix(200, 0).UTC()
	err = store.UpdateState(ctx, "c1", crawlqueue.JobStateCanceled, crawlqueue.StopReasonCanceled, &finished)
	if err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	got, err = store.GetJob(ctx, "c1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.State != crawlqueue.JobStateCanceled || got.Finished == nil || !got.Finished.Equal(finished) {
		t.Fatalf("terminal state not recorded: %+v", got)
	}

	// No transitions out of a terminal state.
	err = store.UpdateState(ctx, "c1", crawlqueue.JobStateRunning, "", nil)
	if err == nil {
		t.Fatal("expected transition out of terminal state to fail")
	}
}

func TestJobStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	if _, err := store.GetJob(ctx, "nope"); !errors.Is(err, crawlqueue.ErrNotFound) {
		t.Fatalf("GetJob: expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateScale(ctx, "nope", 2); !errors.Is(err, crawlqueue.ErrNotFound) {
		t.Fatalf("UpdateScale: expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteJob(ctx, "nope"); !errors.Is(err, crawlqueue.ErrNotFound) {
		t.Fatalf("DeleteJob: expected ErrNotFound, got %v", err)
	}
}

func TestJobStoreListJobs(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	for _, j := range []crawlqueue.CrawlJob{
		{ID: "c1", OID: "org-1", State: crawlqueue.JobStateRunning},
		{ID: "c2", OID: "org-2", State: crawlqueue.JobStateRunning},
		{ID: "c3", OID: "org-1", State: crawlqueue.JobStateComplete},
	} {
		if err := store.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob(%s) error = %v", j.ID, err)
		}
	}

	page, total, err := store.ListJobs(ctx, "org-1", 0, 10)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if total != 2 || len(page) != 2 || page[0].ID != "c1" || page[1].ID != "c3" {
		t.Fatalf("ListJobs() = %v total=%d", page, total)
	}

	page, total, err = store.ListJobs(ctx, "org-1", 5, 10)
	if err != nil || total != 2 || len(page) != 0 {
		t.Fatalf("offset past end: page=%v total=%d err=%v", page, total, err)
	}

	active, err := store.ListActive(ctx)
	if err != nil || len(active) != 2 {
		t.Fatalf("ListActive() = %v, %v", active, err)
	}
	finished, err := store.ListFinished(ctx)
	if err != nil || len(finished) != 1 || finished[0].ID != "c3" {
		t.Fatalf("ListFinished() = %v, %v", finished, err)
	}
}
