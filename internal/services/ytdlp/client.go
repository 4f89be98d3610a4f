// Package ytdlp downloads remote audio with the yt-dlp command-line tool.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hitscribe/internal/services"
)

var commandContext = exec.CommandContext

var audioExtensions = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".m4a": {}, ".webm": {}, ".ogg": {}, ".flac": {}, ".opus": {},
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithTimeout bounds a single download.
func WithTimeout(timeout time.Duration) Option {
	return func(c *CLI) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// CLI wraps yt-dlp.
type CLI struct {
	binary  string
	timeout time.Duration
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "yt-dlp", timeout: 120 * time.Second}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Fetch extracts the audio track of url as WAV into destDir and returns its path.
func (c *CLI) Fetch(ctx context.Context, url, destDir string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", services.Detail(services.ErrValidation, "fetch URL is empty")
	}
	if strings.TrimSpace(destDir) == "" {
		return "", errors.New("destination directory required")
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{
		"--extract-audio",
		"--audio-format", "wav",
		"--audio-quality", "0",
		"--no-playlist",
		"--output", filepath.Join(destDir, "%(id)s.%(ext)s"),
		url,
	}
	cmd := commandContext(runCtx, c.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", services.Detail(services.ErrTimeout,
				fmt.Sprintf("Remote download timed out after %ds", int(c.timeout.Seconds())))
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", services.Wrap(services.ErrConfiguration, "ingest", "fetch", "yt-dlp binary not found", err)
		}
		return "", services.Detail(services.ErrExternalTool,
			fmt.Sprintf("yt-dlp failed: %s", tail(output, 500)))
	}
	return findAudio(destDir)
}

// findAudio prefers a WAV output and falls back to any known audio file in
// case yt-dlp kept the original container.
func findAudio(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".wav" {
			return filepath.Join(dir, entry.Name()), nil
		}
		if _, ok := audioExtensions[ext]; ok {
			candidates = append(candidates, entry.Name())
		}
	}
	if len(candidates) == 0 {
		return "", services.Detail(services.ErrNotFound, "yt-dlp did not produce an audio file")
	}
	sort.Strings(candidates)
	return filepath.Join(dir, candidates[0]), nil
}

func tail(output []byte, limit int) string {
	text := strings.TrimSpace(string(output))
	if len(text) > limit {
		text = text[len(text)-limit:]
	}
	return text
}
