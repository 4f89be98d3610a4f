package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/notation"
	"hitscribe/internal/services"
	"hitscribe/internal/stage"
)

func (c *Coordinator) transcribe(ctx context.Context, logger *slog.Logger, spec stageSpec, job *jobs.Job) stage.Outcome {
	primary := c.artifacts.PathFor(job.ID, spec.output)
	secondary := c.artifacts.PathFor(job.ID, artifacts.SecondaryFile)
	if ok, err := c.artifacts.Exists(ctx, primary); err == nil && ok {
		fields := jobs.Patch{NotationPath: jobs.Ptr(string(primary))}
		if ok, err := c.artifacts.Exists(ctx, secondary); err == nil && ok {
			fields.SecondaryPath = jobs.Ptr(string(secondary))
		}
		return stage.Success{Artifacts: []artifacts.Locator{primary}, Fields: fields, Skipped: true}
	}

	data, err := c.artifacts.Read(ctx, c.artifacts.PathFor(job.ID, artifacts.HitsFile))
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	list, err := notation.DecodeHitList(data)
	if err != nil {
		return stage.Fail(spec.label, services.Wrap(services.ErrValidation, spec.name, "load hits", "hit list unreadable", err))
	}
	title := job.Title
	if title == "" {
		title = c.settings.DefaultTitle
	}
	doc, err := c.renderer.Render(ctx, list.Hits, list.Tempo, title)
	if err != nil {
		return stage.Fail(spec.label, err)
	}

	// The secondary document is written before the primary so an existing
	// primary implies the optional export was already attempted.
	var fields jobs.Patch
	produced := []artifacts.Locator{}
	if loc, ok := c.exportSecondary(ctx, logger, job.ID, doc); ok {
		fields.SecondaryPath = jobs.Ptr(string(loc))
		produced = append(produced, loc)
	}
	loc, err := c.artifacts.Save(ctx, job.ID, spec.output, doc)
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	fields.NotationPath = jobs.Ptr(string(loc))
	return stage.Success{Artifacts: append(produced, loc), Fields: fields}
}

func (c *Coordinator) exportSecondary(ctx context.Context, logger *slog.Logger, jobID string, doc []byte) (artifacts.Locator, bool) {
	if c.exporter == nil {
		return "", false
	}
	out, err := c.exporter.Export(ctx, doc)
	switch {
	case errors.Is(err, ErrExportSkipped):
		logger.Debug("secondary export disabled")
		return "", false
	case err != nil:
		logging.WarnWithContext(logger, "secondary export failed; continuing without it", "export_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "only the MusicXML download will be offered"),
		)
		return "", false
	case len(out) == 0:
		return "", false
	}
	loc, err := c.artifacts.Save(ctx, jobID, artifacts.SecondaryFile, out)
	if err != nil {
		logging.WarnWithContext(logger, "secondary document not stored", "export_failed", logging.Error(err))
		return "", false
	}
	return loc, true
}
