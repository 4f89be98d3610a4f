package testsupport

import (
	"path/filepath"
	"testing"

	"hitscribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The job store is SQLite inside the temp dir and the queue runs in memory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ArtifactsDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Database.Driver = config.DriverSQLite
	cfgVal.Database.DSN = filepath.Join(base, "data", "jobs.db")
	cfgVal.Queue.Backend = config.QueueMemory
	cfgVal.Storage.MirrorDir = filepath.Join(base, "mirror")
	cfgVal.Retention.LockPath = filepath.Join(base, "data", "sweeper.lock")
	cfgVal.Tools.PDFBackend = config.PDFBackendNone
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAdmissionLimit overrides the per-user active job cap.
func WithAdmissionLimit(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Admission.MaxActivePerUser = limit
	}
}

// WithObjectStorage switches the artifact store to the object-backed variant.
func WithObjectStorage(bucket string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Backend = config.StorageObject
		b.cfg.Storage.Bucket = bucket
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
