package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"hitscribe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("HITSCRIBE_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantArtifacts := filepath.Join(tempHome, ".local", "share", "hitscribe", "artifacts")
	if cfg.Paths.ArtifactsDir != wantArtifacts {
		t.Fatalf("unexpected artifacts dir: got %q want %q", cfg.Paths.ArtifactsDir, wantArtifacts)
	}
	wantDSN := filepath.Join(tempHome, ".local", "share", "hitscribe", "jobs.db")
	if cfg.Database.DSN != wantDSN {
		t.Fatalf("unexpected sqlite dsn: got %q want %q", cfg.Database.DSN, wantDSN)
	}
	if cfg.Admission.MaxActivePerUser != 3 {
		t.Fatalf("expected default admission limit 3, got %d", cfg.Admission.MaxActivePerUser)
	}
	if cfg.RetryAfter().Seconds() != 30 {
		t.Fatalf("expected retry-after 30s, got %s", cfg.RetryAfter())
	}
	if cfg.ArtifactTTL().Hours() != 24 {
		t.Fatalf("expected 24h ttl, got %s", cfg.ArtifactTTL())
	}
	if cfg.Storage.Backend != config.StorageLocal {
		t.Fatalf("expected local storage by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Retention.LockPath != filepath.Join(tempHome, ".local", "share", "hitscribe", "sweeper.lock") {
		t.Fatalf("unexpected lock path %q", cfg.Retention.LockPath)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"artifacts_dir": "~/scribe/artifacts",
		},
		"storage": map[string]any{
			"backend":  "object",
			"provider": "minio",
			"bucket":   "scores",
			"endpoint": "localhost:9000",
			"prefix":   "/blobs/",
		},
		"admission": map[string]any{
			"max_active_per_user": 5,
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config file to be used, got resolved=%q exists=%v", resolved, exists)
	}
	if cfg.Paths.ArtifactsDir != filepath.Join(tempHome, "scribe", "artifacts") {
		t.Fatalf("unexpected artifacts dir %q", cfg.Paths.ArtifactsDir)
	}
	if cfg.Storage.Prefix != "blobs" {
		t.Fatalf("expected trimmed prefix, got %q", cfg.Storage.Prefix)
	}
	if cfg.Admission.MaxActivePerUser != 5 {
		t.Fatalf("expected admission override, got %d", cfg.Admission.MaxActivePerUser)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased log format, got %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsObjectStorageWithoutBucket(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.StorageObject
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "storage.bucket") {
		t.Fatalf("expected bucket validation error, got %v", err)
	}
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = config.DriverPostgres
	cfg.Database.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected postgres dsn error")
	}
}

func TestValidateRejectsUnknownPDFBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.PDFBackend = "ghostscript"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected pdf backend error")
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Tools.PDFBackend != config.PDFBackendLilypond {
		t.Fatalf("unexpected pdf backend %q", cfg.Tools.PDFBackend)
	}
}
