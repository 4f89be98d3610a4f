package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeQueue()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeInference()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.ArtifactsDir, err = expandPath(c.Paths.ArtifactsDir); err != nil {
		return fmt.Errorf("paths.artifacts_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Retention.LockPath) == "" {
		c.Retention.LockPath = filepath.Join(c.Paths.DataDir, "sweeper.lock")
	}
	if c.Retention.LockPath, err = expandPath(c.Retention.LockPath); err != nil {
		return fmt.Errorf("retention.lock_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = defaultDatabaseDriver
	}
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("HITSCRIBE_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
	if c.Database.Driver == DriverSQLite {
		if c.Database.DSN == "" {
			c.Database.DSN = filepath.Join(c.Paths.DataDir, "jobs.db")
		}
		expanded, err := expandPath(c.Database.DSN)
		if err != nil {
			return fmt.Errorf("database.dsn: %w", err)
		}
		c.Database.DSN = expanded
	}
	return nil
}

func (c *Config) normalizeRedis() {
	if value, ok := os.LookupEnv("HITSCRIBE_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	if c.Redis.Password == "" {
		if value, ok := os.LookupEnv("HITSCRIBE_REDIS_PASSWORD"); ok {
			c.Redis.Password = value
		}
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	c.Queue.KeyPrefix = strings.TrimSpace(c.Queue.KeyPrefix)
	if c.Queue.KeyPrefix == "" {
		c.Queue.KeyPrefix = defaultQueueKeyPrefix
	}
	if c.Queue.BlockSeconds <= 0 {
		c.Queue.BlockSeconds = defaultBlockSeconds
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	c.Storage.Provider = strings.ToLower(strings.TrimSpace(c.Storage.Provider))
	if c.Storage.Provider == "" {
		c.Storage.Provider = defaultStorageProvider
	}
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	if c.Storage.AccessKey == "" {
		c.Storage.AccessKey = os.Getenv("HITSCRIBE_STORAGE_ACCESS_KEY")
	}
	if c.Storage.SecretKey == "" {
		c.Storage.SecretKey = os.Getenv("HITSCRIBE_STORAGE_SECRET_KEY")
	}
	if strings.TrimSpace(c.Storage.MirrorDir) == "" {
		c.Storage.MirrorDir = defaultMirrorDir
	}
	var err error
	if c.Storage.MirrorDir, err = expandPath(c.Storage.MirrorDir); err != nil {
		return fmt.Errorf("storage.mirror_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.PDFBackend = strings.ToLower(strings.TrimSpace(c.Tools.PDFBackend))
	if c.Tools.PDFBackend == "" {
		c.Tools.PDFBackend = defaultPDFBackend
	}
	if strings.TrimSpace(c.Tools.YTDLPBinary) == "" {
		c.Tools.YTDLPBinary = "yt-dlp"
	}
	if strings.TrimSpace(c.Tools.FFprobeBinary) == "" {
		c.Tools.FFprobeBinary = "ffprobe"
	}
	if strings.TrimSpace(c.Tools.FFmpegBinary) == "" {
		c.Tools.FFmpegBinary = "ffmpeg"
	}
}

func (c *Config) normalizeInference() {
	if c.Inference.APIKey == "" {
		if value, ok := os.LookupEnv("HITSCRIBE_INFERENCE_API_KEY"); ok {
			c.Inference.APIKey = value
		}
	}
	c.Inference.BaseURL = strings.TrimRight(strings.TrimSpace(c.Inference.BaseURL), "/")
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	exts := make([]string, 0, len(c.API.AllowedExtension))
	for _, ext := range c.API.AllowedExtension {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			exts = append(exts, ext)
		}
	}
	if len(exts) == 0 {
		exts = append(exts, defaultAllowedExtensions...)
	}
	c.API.AllowedExtension = exts
	c.Webhook.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Webhook.PublicBaseURL), "/")
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
