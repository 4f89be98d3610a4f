package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem locations used by the API, workers, and sweeper.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	ArtifactsDir string `toml:"artifacts_dir"`
	WorkDir      string `toml:"work_dir"`
	LogDir       string `toml:"log_dir"`
}

// Database selects the job record backend.
type Database struct {
	Driver          string `toml:"driver"` // sqlite or postgres
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	ConnMaxLifetime int    `toml:"conn_max_lifetime_seconds"`
}

// Redis holds connection settings for the task queue and metrics counters.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Queue tunes task delivery.
type Queue struct {
	Backend                  string `toml:"backend"` // redis or memory
	KeyPrefix                string `toml:"key_prefix"`
	VisibilityTimeoutSeconds int    `toml:"visibility_timeout_seconds"`
	MaxDeliveries            int    `toml:"max_deliveries"`
	BlockSeconds             int    `toml:"block_seconds"`
	DefaultConcurrency       int    `toml:"default_concurrency"`
	HeavyConcurrency         int    `toml:"heavy_concurrency"`
}

// Storage selects the artifact store variant.
type Storage struct {
	Backend   string `toml:"backend"`  // local or object
	Provider  string `toml:"provider"` // minio or s3
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	MirrorDir string `toml:"mirror_dir"`
}

// Admission controls the per-user active job cap.
type Admission struct {
	MaxActivePerUser  int `toml:"max_active_per_user"`
	RetryAfterSeconds int `toml:"retry_after_seconds"`
}

// Retention controls artifact sweeping.
type Retention struct {
	TTLHours        int    `toml:"ttl_hours"`
	IntervalSeconds int    `toml:"interval_seconds"`
	LockPath        string `toml:"lock_path"`
}

// Webhook configures completion callbacks.
type Webhook struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PublicBaseURL  string `toml:"public_base_url"`
}

// Pipeline holds result-shaping knobs applied by the coordinator.
type Pipeline struct {
	ModelVersion           string  `toml:"model_version"`
	LowConfidenceThreshold float64 `toml:"low_confidence_threshold"`
	DefaultTempo           int     `toml:"default_tempo"`
	DefaultTitle           string  `toml:"default_title"`
}

// Tools configures external executables.
type Tools struct {
	YTDLPBinary          string  `toml:"ytdlp_binary"`
	YTDLPTimeoutSeconds  int     `toml:"ytdlp_timeout_seconds"`
	FFprobeBinary        string  `toml:"ffprobe_binary"`
	FFmpegBinary         string  `toml:"ffmpeg_binary"`
	MinSampleRate        int     `toml:"min_sample_rate"`
	MinDurationSeconds   float64 `toml:"min_duration_seconds"`
	MaxDurationSeconds   float64 `toml:"max_duration_seconds"`
	SilenceRMSThreshold  float64 `toml:"silence_rms_threshold"`
	PDFBackend           string  `toml:"pdf_backend"` // lilypond, musescore, none
	LilypondBinary       string  `toml:"lilypond_binary"`
	MusicXML2LyBinary    string  `toml:"musicxml2ly_binary"`
	MuseScoreBinary      string  `toml:"musescore_binary"`
	RenderTimeoutSeconds int     `toml:"render_timeout_seconds"`
}

// Inference points at the model service used for separation and prediction.
type Inference struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// API configures the HTTP surface.
type API struct {
	Bind             string   `toml:"bind"`
	MaxUploadMB      int      `toml:"max_upload_mb"`
	AllowedExtension []string `toml:"allowed_extensions"`
}

// Logging configures log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all hitscribe configuration values.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Database  Database  `toml:"database"`
	Redis     Redis     `toml:"redis"`
	Queue     Queue     `toml:"queue"`
	Storage   Storage   `toml:"storage"`
	Admission Admission `toml:"admission"`
	Retention Retention `toml:"retention"`
	Webhook   Webhook   `toml:"webhook"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Tools     Tools     `toml:"tools"`
	Inference Inference `toml:"inference"`
	API       API       `toml:"api"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/hitscribe/config.toml")
}

// Load reads configuration from disk (if present), applies defaults, normalizes
// paths, and validates the result. It returns the config, the resolved path,
// whether the file existed, and any error encountered.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv("HITSCRIBE_CONFIG"))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("hitscribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for API and worker operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.ArtifactsDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageObject {
		dirs = append(dirs, c.Storage.MirrorDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// VisibilityTimeout is how long a delivered task may stay unacknowledged before redelivery.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Queue.VisibilityTimeoutSeconds) * time.Second
}

// RetryAfter is the hint returned with admission rejections.
func (c *Config) RetryAfter() time.Duration {
	return time.Duration(c.Admission.RetryAfterSeconds) * time.Second
}

// ArtifactTTL is the age after which the sweeper removes a job's artifacts.
func (c *Config) ArtifactTTL() time.Duration {
	return time.Duration(c.Retention.TTLHours) * time.Hour
}

// SweepInterval is the period between retention sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.IntervalSeconds) * time.Second
}

// MaxUploadBytes returns the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.API.MaxUploadMB) << 20
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
