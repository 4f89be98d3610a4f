package artifacts_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/testsupport"
)

func TestLocalSaveReadExists(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewLocal(t.TempDir())

	loc, err := store.Save(ctx, "job-1", artifacts.HitsFile, []byte(`{"hits":[]}`))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if loc != store.PathFor("job-1", artifacts.HitsFile) {
		t.Fatalf("locator = %s", loc)
	}
	ok, err := store.Exists(ctx, loc)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	data, err := store.Read(ctx, loc)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"hits":[]}` {
		t.Fatalf("data = %q", data)
	}
}

func TestLocalExistsFalseForEmptyFile(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewLocal(t.TempDir())
	loc := store.PathFor("job-1", artifacts.IsolatedFile)
	testsupport.WriteFile(t, loc.Path(), nil)

	ok, err := store.Exists(ctx, loc)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("empty artifact should not count as present")
	}
	if _, err := store.Local(ctx, loc); !errors.Is(err, artifacts.ErrNotFound) {
		t.Fatalf("Local err = %v, want ErrNotFound", err)
	}
}

func TestLocalImportAndDeleteAll(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := artifacts.NewLocal(root)
	src := filepath.Join(t.TempDir(), "upload.mp3")
	testsupport.WriteFile(t, src, testsupport.FakeAudio())

	if _, err := store.Import(ctx, "job-2", artifacts.SourceFile(".mp3"), src); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := store.Save(ctx, "job-2", artifacts.HitsFile, []byte("[]")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	listed, err := store.List(ctx, "job-2")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 || listed[0].Name() != artifacts.HitsFile || listed[1].Name() != "source.mp3" {
		t.Fatalf("listed = %v", listed)
	}

	count, err := store.DeleteAll(ctx, "job-2")
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if _, err := os.Stat(filepath.Join(root, "job-2")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("job dir still present: %v", err)
	}
	count, err = store.DeleteAll(ctx, "job-2")
	if err != nil || count != 0 {
		t.Fatalf("second DeleteAll = %d, %v", count, err)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	store := artifacts.NewLocal(t.TempDir())
	if _, err := store.Save(context.Background(), "..", "x", []byte("x")); err == nil {
		t.Fatal("expected error for traversal job id")
	}
	if _, err := store.Save(context.Background(), "job", "a/b", []byte("x")); err == nil {
		t.Fatal("expected error for nested name")
	}
}

func TestSourceFileNormalizesExtension(t *testing.T) {
	if got := artifacts.SourceFile("WAV"); got != "source.wav" {
		t.Fatalf("SourceFile = %q", got)
	}
	if got := artifacts.SourceFile(".flac"); got != "source.flac" {
		t.Fatalf("SourceFile = %q", got)
	}
}
