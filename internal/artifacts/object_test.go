package artifacts_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/logging"
)

func newObjectStore(t *testing.T) (*artifacts.Object, *artifacts.MemoryBucket, string) {
	t.Helper()
	bucket := artifacts.NewMemoryBucket()
	mirror := t.TempDir()
	return artifacts.NewObject(bucket, "/artifacts/", mirror, logging.NewNop()), bucket, mirror
}

func TestObjectSaveWritesBucketAndMirror(t *testing.T) {
	ctx := context.Background()
	store, bucket, _ := newObjectStore(t)

	loc, err := store.Save(ctx, "job-1", artifacts.NotationFile, []byte("<score/>"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	keys := bucket.Keys()
	if len(keys) != 1 || keys[0] != "artifacts/job-1/notation.musicxml" {
		t.Fatalf("keys = %v", keys)
	}
	if _, err := os.Stat(loc.Path()); err != nil {
		t.Fatalf("mirror copy missing: %v", err)
	}
}

func TestObjectRehydratesMissingMirror(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newObjectStore(t)

	loc, err := store.Save(ctx, "job-1", artifacts.HitsFile, []byte(`[1]`))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.Remove(loc.Path()); err != nil {
		t.Fatalf("remove mirror: %v", err)
	}

	ok, err := store.Exists(ctx, loc)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	data, err := store.Read(ctx, loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `[1]` {
		t.Fatalf("data = %q", data)
	}
	if _, err := os.Stat(loc.Path()); err != nil {
		t.Fatalf("mirror not rehydrated: %v", err)
	}
}

func TestObjectExistsFalseWhenAbsent(t *testing.T) {
	store, _, _ := newObjectStore(t)
	ok, err := store.Exists(context.Background(), store.PathFor("job-9", artifacts.IsolatedFile))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("expected missing artifact")
	}
}

func TestObjectDeleteAllToleratesRemoteFailure(t *testing.T) {
	ctx := context.Background()
	store, bucket, _ := newObjectStore(t)
	for _, name := range []string{artifacts.HitsFile, artifacts.NotationFile} {
		if _, err := store.Save(ctx, "job-3", name, []byte("x")); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	bucket.FailRemove = func(key string) bool { return strings.HasSuffix(key, artifacts.HitsFile) }

	count, err := store.DeleteAll(ctx, "job-3")
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	keys := bucket.Keys()
	if len(keys) != 1 || !strings.HasSuffix(keys[0], artifacts.HitsFile) {
		t.Fatalf("remaining keys = %v", keys)
	}
	listed, err := store.List(ctx, "job-3")
	if err != nil || len(listed) != 1 {
		t.Fatalf("List = %v, %v", listed, err)
	}
}
