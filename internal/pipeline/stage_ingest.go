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

func (c *Coordinator) ingest(ctx context.Context, spec stageSpec, job *jobs.Job) stage.Outcome {
	loc, err := c.sourceLocator(ctx, job)
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	path, err := c.artifacts.Local(ctx, loc)
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	info, err := c.validator.Validate(ctx, path)
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	return stage.Success{
		Artifacts: []artifacts.Locator{loc},
		Fields: jobs.Patch{
			SourceFile:      jobs.Ptr(string(loc)),
			DurationSeconds: jobs.Ptr(info.DurationSeconds),
		},
	}
}

// sourceLocator returns the stored source audio, fetching it first for
// remote inputs that have not been fetched yet.
func (c *Coordinator) sourceLocator(ctx context.Context, job *jobs.Job) (artifacts.Locator, error) {
	if job.SourceFile != "" {
		loc := artifacts.Locator(job.SourceFile)
		ok, err := c.artifacts.Exists(ctx, loc)
		if err != nil {
			return "", err
		}
		if ok {
			return loc, nil
		}
	}
	switch job.InputType {
	case jobs.InputUpload:
		return "", services.Detail(services.ErrValidation, "uploaded audio is missing")
	case jobs.InputFetch:
		return c.fetchSource(ctx, job)
	}
	return "", services.Detail(services.ErrValidation, fmt.Sprintf("unknown input type %q", job.InputType))
}

func (c *Coordinator) fetchSource(ctx context.Context, job *jobs.Job) (artifacts.Locator, error) {
	if c.fetcher == nil {
		return "", services.Detail(services.ErrConfiguration, "remote fetch is not configured")
	}
	dir, err := c.scratchDir(job.ID, "fetch")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path, err := c.fetcher.Fetch(ctx, job.FetchURL, dir)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".wav"
	}
	return c.artifacts.Import(ctx, job.ID, artifacts.SourceFile(ext), path)
}
