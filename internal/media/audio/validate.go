package audio

import (
	"context"
	"fmt"
	"math"

	"hitscribe/internal/config"
	"hitscribe/internal/media/ffprobe"
	"hitscribe/internal/pipeline"
	"hitscribe/internal/services"
)

// Limits bound acceptable input audio.
type Limits struct {
	MinSampleRate      int
	MinDurationSeconds float64
	MaxDurationSeconds float64
	SilenceRMS         float64
}

// Validator checks source files against Limits.
type Validator struct {
	limits  Limits
	ffprobe string
	ffmpeg  string

	probe  func(ctx context.Context, binary, path string) (ffprobe.Result, error)
	volume func(ctx context.Context, binary, path string) (float64, error)
}

// NewValidator builds a validator from tool settings.
func NewValidator(tools config.Tools) *Validator {
	return &Validator{
		limits: Limits{
			MinSampleRate:      tools.MinSampleRate,
			MinDurationSeconds: tools.MinDurationSeconds,
			MaxDurationSeconds: tools.MaxDurationSeconds,
			SilenceRMS:         tools.SilenceRMSThreshold,
		},
		ffprobe: tools.FFprobeBinary,
		ffmpeg:  tools.FFmpegBinary,
		probe:   ffprobe.Inspect,
		volume:  ffprobe.MeanVolume,
	}
}

// Validate returns audio metadata or a validation error describing why the
// file cannot be processed.
func (v *Validator) Validate(ctx context.Context, path string) (pipeline.AudioInfo, error) {
	result, err := v.probe(ctx, v.ffprobe, path)
	if err != nil {
		if ctx.Err() != nil {
			return pipeline.AudioInfo{}, services.Wrap(services.ErrTimeout, "ingest", "probe audio", "ffprobe interrupted", err)
		}
		return pipeline.AudioInfo{}, services.Detail(services.ErrValidation, fmt.Sprintf("Cannot load audio file: %v", err))
	}
	stream, ok := result.AudioStream()
	if !ok {
		return pipeline.AudioInfo{}, services.Detail(services.ErrValidation, "Cannot load audio file: no audio stream found")
	}

	info := pipeline.AudioInfo{
		SampleRate:      stream.SampleRateHz(),
		Channels:        stream.Channels,
		DurationSeconds: result.DurationSeconds(),
	}
	if math.IsNaN(info.DurationSeconds) {
		return info, services.Detail(services.ErrValidation, "Cannot load audio file: unreadable duration")
	}
	if info.SampleRate < v.limits.MinSampleRate {
		return info, services.Detail(services.ErrValidation,
			fmt.Sprintf("Sample rate %d Hz is below minimum %d Hz", info.SampleRate, v.limits.MinSampleRate))
	}
	if info.DurationSeconds < v.limits.MinDurationSeconds {
		return info, services.Detail(services.ErrValidation,
			fmt.Sprintf("Audio duration %.1fs is below minimum %gs", info.DurationSeconds, v.limits.MinDurationSeconds))
	}
	if info.DurationSeconds > v.limits.MaxDurationSeconds {
		return info, services.Detail(services.ErrValidation,
			fmt.Sprintf("Audio duration %.1fs exceeds maximum %gs", info.DurationSeconds, v.limits.MaxDurationSeconds))
	}

	db, err := v.volume(ctx, v.ffmpeg, path)
	if err != nil {
		return info, services.Wrap(services.ErrExternalTool, "ingest", "measure loudness", "ffmpeg volumedetect failed", err)
	}
	info.RMS = ffprobe.DBToAmplitude(db)
	if info.RMS < v.limits.SilenceRMS {
		return info, services.Detail(services.ErrValidation,
			fmt.Sprintf("Audio appears silent (RMS=%.6f, threshold=%g)", info.RMS, v.limits.SilenceRMS))
	}
	info.DurationSeconds = math.Round(info.DurationSeconds*100) / 100
	return info, nil
}
