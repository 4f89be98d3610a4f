package pipeline

import (
	"context"
	"errors"

	"hitscribe/internal/notation"
)

// ErrExportSkipped reports that secondary export is disabled.
var ErrExportSkipped = errors.New("secondary export disabled")

// AudioInfo is what validation learned about a source file.
type AudioInfo struct {
	DurationSeconds float64
	SampleRate      int
	Channels        int
	RMS             float64
}

// Prediction is the raw output of the hit model.
type Prediction struct {
	Hits            []notation.Hit
	Tempo           float64
	TempoUnreliable bool
	Confidence      float64
	DurationSeconds float64
	ModelVersion    string
}

// Fetcher downloads remote audio into destDir and returns the file path.
type Fetcher interface {
	Fetch(ctx context.Context, url, destDir string) (string, error)
}

// Validator checks that a source file is usable audio.
type Validator interface {
	Validate(ctx context.Context, path string) (AudioInfo, error)
}

// Separator isolates the drum stem from inPath into outPath.
type Separator interface {
	Separate(ctx context.Context, inPath, outPath string) error
}

// Predictor detects drum hits in an isolated stem. userTempo, when set,
// overrides tempo detection.
type Predictor interface {
	Predict(ctx context.Context, isolatedPath string, userTempo *int) (Prediction, error)
}

// Renderer produces the primary notation document.
type Renderer interface {
	Render(ctx context.Context, hits []notation.Hit, tempo float64, title string) ([]byte, error)
}

// Exporter converts the primary document to the secondary format.
type Exporter interface {
	Export(ctx context.Context, document []byte) ([]byte, error)
}
