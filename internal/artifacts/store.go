package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"hitscribe/internal/config"
	"hitscribe/internal/services"
)

// Fixed artifact filenames within a job's namespace.
const (
	SourceBase    = "source"
	IsolatedFile  = "isolated.wav"
	HitsFile      = "hits.json"
	NotationFile  = "notation.musicxml"
	SecondaryFile = "notation.pdf"
)

// SourceFile returns the source artifact name for an audio extension such as ".mp3".
func SourceFile(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return SourceBase + ext
}

// ErrNotFound is returned when an artifact is absent from every backing store.
var ErrNotFound = fmt.Errorf("artifact %w", services.ErrNotFound)

// Locator addresses one artifact. It is always a local filesystem path so
// compute stages can hand it straight to external tools.
type Locator string

// Path returns the locator as a filesystem path.
func (l Locator) Path() string { return string(l) }

// Name returns the artifact filename.
func (l Locator) Name() string { return filepath.Base(string(l)) }

// Store is byte-blob storage keyed by (job id, filename).
type Store interface {
	PathFor(jobID, name string) Locator
	Save(ctx context.Context, jobID, name string, data []byte) (Locator, error)
	// Import streams an existing file into the store without buffering it.
	Import(ctx context.Context, jobID, name, srcPath string) (Locator, error)
	Read(ctx context.Context, loc Locator) ([]byte, error)
	// Exists reports whether the artifact is present and non-empty.
	Exists(ctx context.Context, loc Locator) (bool, error)
	// Local returns a filesystem path holding the artifact bytes.
	Local(ctx context.Context, loc Locator) (string, error)
	List(ctx context.Context, jobID string) ([]Locator, error)
	DeleteAll(ctx context.Context, jobID string) (int, error)
	// Check verifies the backing storage is reachable.
	Check(ctx context.Context) error
}

// New builds the store variant selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageLocal, "":
		return NewLocal(cfg.Paths.ArtifactsDir), nil
	case config.StorageObject:
		bucket, err := NewBucket(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		return NewObject(bucket, cfg.Storage.Prefix, cfg.Storage.MirrorDir, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// NewBucket connects to the object storage provider named in cfg.
func NewBucket(ctx context.Context, cfg config.Storage) (Bucket, error) {
	switch cfg.Provider {
	case config.ProviderMinio:
		return NewMinioBucket(cfg)
	case config.ProviderS3, "":
		return NewS3Bucket(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

func validateSegment(kind, value string) error {
	if value == "" || value == "." || value == ".." || strings.ContainsAny(value, `/\`) {
		return fmt.Errorf("%w: invalid artifact %s %q", services.ErrValidation, kind, value)
	}
	return nil
}
