package audio

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"hitscribe/internal/config"
	"hitscribe/internal/media/ffprobe"
	"hitscribe/internal/services"
)

func newTestValidator(result ffprobe.Result, db float64) *Validator {
	v := NewValidator(config.Default().Tools)
	v.probe = func(context.Context, string, string) (ffprobe.Result, error) { return result, nil }
	v.volume = func(context.Context, string, string) (float64, error) { return db, nil }
	return v
}

func probeResult(rate, duration string) ffprobe.Result {
	return ffprobe.Result{
		Streams: []ffprobe.Stream{{CodecType: "audio", SampleRate: rate, Channels: 2}},
		Format:  ffprobe.Format{Duration: duration},
	}
}

func TestValidateAcceptsHealthyAudio(t *testing.T) {
	v := newTestValidator(probeResult("44100", "42.123"), -20)
	info, err := v.Validate(context.Background(), "/tmp/song.wav")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if info.SampleRate != 44100 || info.Channels != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.DurationSeconds != 42.12 {
		t.Fatalf("duration = %v, want 42.12", info.DurationSeconds)
	}
	if info.RMS <= 0.001 {
		t.Fatalf("rms = %v", info.RMS)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		result ffprobe.Result
		db     float64
		want   string
	}{
		{"low sample rate", probeResult("8000", "30"), -20, "Sample rate 8000 Hz is below minimum 16000 Hz"},
		{"too short", probeResult("44100", "3"), -20, "Audio duration 3.0s is below minimum 5s"},
		{"too long", probeResult("44100", "901"), -20, "exceeds maximum 900s"},
		{"silent", probeResult("44100", "30"), math.Inf(-1), "Audio appears silent"},
		{"no audio", ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video"}}}, -20, "no audio stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(tt.result, tt.db)
			_, err := v.Validate(context.Background(), "/tmp/song.wav")
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation marker, got %v", err)
			}
			if !strings.Contains(services.Cause(err), tt.want) {
				t.Fatalf("cause %q does not contain %q", services.Cause(err), tt.want)
			}
		})
	}
}

func TestValidateProbeFailureIsValidationError(t *testing.T) {
	v := newTestValidator(ffprobe.Result{}, 0)
	v.probe = func(context.Context, string, string) (ffprobe.Result, error) {
		return ffprobe.Result{}, errors.New("Invalid data found when processing input")
	}
	_, err := v.Validate(context.Background(), "/tmp/garbage.wav")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("unreadable audio must not be retried")
	}
}

func TestValidateVolumeFailureIsToolError(t *testing.T) {
	v := newTestValidator(probeResult("44100", "30"), 0)
	v.volume = func(context.Context, string, string) (float64, error) {
		return 0, errors.New("ffmpeg crashed")
	}
	_, err := v.Validate(context.Background(), "/tmp/song.wav")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}
