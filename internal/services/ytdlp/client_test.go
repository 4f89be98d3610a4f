package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hitscribe/internal/services"
)

func stubCommand(t *testing.T, mode string, captured *[]string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if captured != nil {
			*captured = append([]string(nil), args...)
		}
		var outDir string
		for i, arg := range args {
			if arg == "--output" && i+1 < len(args) {
				outDir = filepath.Dir(args[i+1])
			}
		}
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("YTDLP_HELPER_MODE=%s", mode),
			fmt.Sprintf("YTDLP_HELPER_DIR=%s", outDir),
		)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	dir := os.Getenv("YTDLP_HELPER_DIR")
	switch os.Getenv("YTDLP_HELPER_MODE") {
	case "wav":
		_ = os.WriteFile(filepath.Join(dir, "abc123.wav"), []byte("audio"), 0o644)
		os.Exit(0)
	case "m4a":
		_ = os.WriteFile(filepath.Join(dir, "abc123.m4a"), []byte("audio"), 0o644)
		os.Exit(0)
	case "empty":
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "ERROR: Video unavailable")
		os.Exit(1)
	case "hang":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}

func TestFetchReturnsWav(t *testing.T) {
	var args []string
	stubCommand(t, "wav", &args)
	dir := t.TempDir()

	path, err := NewCLI().Fetch(context.Background(), "https://youtu.be/abc123", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if path != filepath.Join(dir, "abc123.wav") {
		t.Fatalf("unexpected path %q", path)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"--extract-audio", "--audio-format wav", "--no-playlist", "https://youtu.be/abc123"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
}

func TestFetchFallsBackToOriginalContainer(t *testing.T) {
	stubCommand(t, "m4a", nil)
	dir := t.TempDir()
	path, err := NewCLI().Fetch(context.Background(), "https://example.com/a", dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Ext(path) != ".m4a" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestFetchNoOutputIsNotFound(t *testing.T) {
	stubCommand(t, "empty", nil)
	_, err := NewCLI().Fetch(context.Background(), "https://example.com/a", t.TempDir())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchToolFailure(t *testing.T) {
	stubCommand(t, "failure", nil)
	_, err := NewCLI().Fetch(context.Background(), "https://example.com/a", t.TempDir())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Video unavailable") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	stubCommand(t, "hang", nil)
	cli := NewCLI(WithTimeout(100 * time.Millisecond))
	_, err := cli.Fetch(context.Background(), "https://example.com/a", t.TempDir())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	if _, err := NewCLI().Fetch(context.Background(), " ", t.TempDir()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
