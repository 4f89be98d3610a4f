package testsupport

import (
	"context"
	"testing"

	"hitscribe/internal/config"
	"hitscribe/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(context.Background(), cfg.Database)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewUploadJob inserts a queued upload job owned by user.
func NewUploadJob(t testing.TB, store *jobs.Store, user string) *jobs.Job {
	t.Helper()

	job := &jobs.Job{
		InputType:      jobs.InputUpload,
		UploadFilename: "groove.wav",
		Title:          "Groove",
		UserIdentifier: user,
	}
	if _, err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}

// MustGet loads a job or fails the test.
func MustGet(t testing.TB, store *jobs.Store, id string) *jobs.Job {
	t.Helper()

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get(%s): %v", id, err)
	}
	return job
}
