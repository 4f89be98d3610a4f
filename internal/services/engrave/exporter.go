// Package engrave converts MusicXML into printable PDF using an external
// engraver (LilyPond or MuseScore).
package engrave

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"hitscribe/internal/config"
	"hitscribe/internal/pipeline"
	"hitscribe/internal/services"
)

var commandContext = exec.CommandContext

// Exporter renders PDFs with the configured backend.
type Exporter struct {
	backend     string
	lilypond    string
	musicxml2ly string
	musescore   string
	timeout     time.Duration
	tempDir     string
}

// NewExporter builds an exporter from tool settings. Scratch files go under tempDir.
func NewExporter(tools config.Tools, tempDir string) *Exporter {
	timeout := time.Duration(tools.RenderTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Exporter{
		backend:     strings.ToLower(strings.TrimSpace(tools.PDFBackend)),
		lilypond:    tools.LilypondBinary,
		musicxml2ly: tools.MusicXML2LyBinary,
		musescore:   tools.MuseScoreBinary,
		timeout:     timeout,
		tempDir:     tempDir,
	}
}

// Backend returns the configured backend name.
func (e *Exporter) Backend() string { return e.backend }

// Export returns PDF bytes for document, or pipeline.ErrExportSkipped when
// export is disabled.
func (e *Exporter) Export(ctx context.Context, document []byte) ([]byte, error) {
	if e.backend == "" || e.backend == config.PDFBackendNone {
		return nil, pipeline.ErrExportSkipped
	}
	if e.tempDir != "" {
		if err := os.MkdirAll(e.tempDir, 0o755); err != nil {
			return nil, fmt.Errorf("create render dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(e.tempDir, "engrave-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "score.musicxml")
	if err := os.WriteFile(input, document, 0o644); err != nil {
		return nil, fmt.Errorf("write score: %w", err)
	}
	output := filepath.Join(dir, "score.pdf")

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch e.backend {
	case config.PDFBackendLilypond:
		ly := filepath.Join(dir, "score.ly")
		if err := e.run(runCtx, ctx, e.musicxml2ly, "--output="+ly, input); err != nil {
			return nil, err
		}
		// lilypond appends .pdf to the -o base name.
		if err := e.run(runCtx, ctx, e.lilypond, "--pdf", "-o", strings.TrimSuffix(output, ".pdf"), ly); err != nil {
			return nil, err
		}
	case config.PDFBackendMuseScore:
		if err := e.run(runCtx, ctx, e.musescore, input, "-o", output); err != nil {
			return nil, err
		}
	default:
		return nil, services.Detail(services.ErrConfiguration, fmt.Sprintf("unknown pdf backend %q", e.backend))
	}

	data, err := os.ReadFile(output)
	if err != nil || len(data) == 0 {
		return nil, services.Detail(services.ErrExternalTool, fmt.Sprintf("%s did not produce a PDF", e.backend))
	}
	return data, nil
}

func (e *Exporter) run(runCtx, parent context.Context, binary string, args ...string) error {
	cmd := commandContext(runCtx, binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return services.Detail(services.ErrTimeout,
			fmt.Sprintf("%s timed out after %ds", filepath.Base(binary), int(e.timeout.Seconds())))
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrConfiguration, "transcribe", "export pdf", binary+" not installed", err)
	}
	text := strings.TrimSpace(string(output))
	if len(text) > 500 {
		text = text[:500]
	}
	return services.Detail(services.ErrExternalTool, fmt.Sprintf("%s failed: %v: %s", filepath.Base(binary), err, text))
}
