package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/jobs"
	"hitscribe/internal/services"
	"hitscribe/internal/stage"
)

func (c *Coordinator) separate(ctx context.Context, spec stageSpec, job *jobs.Job) stage.Outcome {
	out := c.artifacts.PathFor(job.ID, spec.output)
	if ok, err := c.artifacts.Exists(ctx, out); err == nil && ok {
		return stage.Success{Artifacts: []artifacts.Locator{out}, Skipped: true}
	}
	if job.SourceFile == "" {
		return stage.Fail(spec.label, services.Detail(services.ErrValidation, "source audio missing"))
	}
	src, err := c.artifacts.Local(ctx, artifacts.Locator(job.SourceFile))
	if err != nil {
		return stage.Fail(spec.label, err)
	}

	dir, err := c.scratchDir(job.ID, spec.name)
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	defer os.RemoveAll(dir)

	tmp := filepath.Join(dir, spec.output)
	if err := c.separator.Separate(ctx, src, tmp); err != nil {
		return stage.Fail(spec.label, err)
	}
	loc, err := c.artifacts.Import(ctx, job.ID, spec.output, tmp)
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	return stage.Success{Artifacts: []artifacts.Locator{loc}}
}

// scratchDir returns a fresh directory under WorkDir/<job>. Each run gets its
// own, so a redelivered task overlapping a slow one cannot remove its output.
func (c *Coordinator) scratchDir(jobID, name string) (string, error) {
	parent := filepath.Join(c.settings.WorkDir, jobID)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(parent, name+"-*")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}
