package pipeline

import (
	"context"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/jobs"
	"hitscribe/internal/notation"
	"hitscribe/internal/services"
	"hitscribe/internal/stage"
)

// Warning tags attached to completed jobs.
const (
	WarningTempoUnreliable = "tempo_unreliable"
	WarningLowConfidence   = "low_confidence"
)

const (
	minTempo = 40
	maxTempo = 300
)

func (c *Coordinator) predict(ctx context.Context, spec stageSpec, job *jobs.Job) stage.Outcome {
	out := c.artifacts.PathFor(job.ID, spec.output)
	if ok, err := c.artifacts.Exists(ctx, out); err == nil && ok {
		if data, err := c.artifacts.Read(ctx, out); err == nil {
			if list, err := notation.DecodeHitList(data); err == nil {
				return stage.Success{Artifacts: []artifacts.Locator{out}, Fields: c.predictionFields(list), Skipped: true}
			}
		}
	}

	isolated, err := c.artifacts.Local(ctx, c.artifacts.PathFor(job.ID, artifacts.IsolatedFile))
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	pred, err := c.predictor.Predict(ctx, isolated, job.UserTempo)
	if err != nil {
		return stage.Fail(spec.label, err)
	}

	list := c.hitList(job, pred)
	data, err := list.Encode()
	if err != nil {
		return stage.Fail(spec.label, services.Wrap(services.ErrValidation, spec.name, "encode hits", "prediction output could not be encoded", err))
	}
	loc, err := c.artifacts.Save(ctx, job.ID, spec.output, data)
	if err != nil {
		return stage.Fail(spec.label, err)
	}
	return stage.Success{Artifacts: []artifacts.Locator{loc}, Fields: c.predictionFields(list)}
}

func (c *Coordinator) hitList(job *jobs.Job, pred Prediction) notation.HitList {
	tempo := pred.Tempo
	unreliable := pred.TempoUnreliable
	if job.UserTempo != nil {
		tempo = float64(*job.UserTempo)
		unreliable = false
	}
	if tempo < minTempo || tempo > maxTempo {
		tempo = float64(c.settings.DefaultTempo)
		unreliable = true
	}
	version := pred.ModelVersion
	if version == "" {
		version = c.settings.ModelVersion
	}
	hits := append([]notation.Hit(nil), pred.Hits...)
	notation.SortHits(hits)
	return notation.HitList{
		Tempo:           tempo,
		TempoUnreliable: unreliable,
		DurationSeconds: pred.DurationSeconds,
		Confidence:      pred.Confidence,
		ModelVersion:    version,
		Hits:            hits,
	}
}

func (c *Coordinator) predictionFields(list notation.HitList) jobs.Patch {
	warnings := []string{}
	if list.TempoUnreliable {
		warnings = append(warnings, WarningTempoUnreliable)
	}
	if list.Confidence < c.settings.LowConfidenceThreshold {
		warnings = append(warnings, WarningLowConfidence)
	}
	patch := jobs.Patch{
		DetectedTempo:   jobs.Ptr(list.Tempo),
		TempoUnreliable: jobs.Ptr(list.TempoUnreliable),
		ConfidenceScore: jobs.Ptr(list.Confidence),
		HitSummary:      notation.Summary(list.Hits),
		Warnings:        warnings,
		ModelVersion:    jobs.Ptr(list.ModelVersion),
	}
	if list.DurationSeconds > 0 {
		patch.DurationSeconds = jobs.Ptr(list.DurationSeconds)
	}
	return patch
}
