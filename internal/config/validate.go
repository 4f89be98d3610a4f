package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set when database.driver is postgres")
		}
	default:
		return fmt.Errorf("database.driver: unsupported value %q (want sqlite or postgres)", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueRedis, QueueMemory:
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (want redis or memory)", c.Queue.Backend)
	}
	if c.Queue.VisibilityTimeoutSeconds <= 0 {
		return errors.New("queue.visibility_timeout_seconds must be positive")
	}
	if c.Queue.MaxDeliveries <= 0 {
		return errors.New("queue.max_deliveries must be positive")
	}
	if c.Queue.DefaultConcurrency <= 0 || c.Queue.HeavyConcurrency <= 0 {
		return errors.New("queue lane concurrency must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		return nil
	case StorageObject:
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want local or object)", c.Storage.Backend)
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set when storage.backend is object")
	}
	switch c.Storage.Provider {
	case ProviderS3:
	case ProviderMinio:
		if c.Storage.Endpoint == "" {
			return errors.New("storage.endpoint must be set for the minio provider")
		}
	default:
		return fmt.Errorf("storage.provider: unsupported value %q (want minio or s3)", c.Storage.Provider)
	}
	return nil
}

func (c *Config) validateAdmission() error {
	if c.Admission.MaxActivePerUser <= 0 {
		return errors.New("admission.max_active_per_user must be positive")
	}
	if c.Admission.RetryAfterSeconds < 0 {
		return errors.New("admission.retry_after_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.TTLHours <= 0 {
		return errors.New("retention.ttl_hours must be positive")
	}
	if c.Retention.IntervalSeconds <= 0 {
		return errors.New("retention.interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.LowConfidenceThreshold < 0 || c.Pipeline.LowConfidenceThreshold > 1 {
		return errors.New("pipeline.low_confidence_threshold must be between 0 and 1")
	}
	if c.Pipeline.DefaultTempo < 40 || c.Pipeline.DefaultTempo > 300 {
		return errors.New("pipeline.default_tempo must be between 40 and 300")
	}
	return nil
}

func (c *Config) validateTools() error {
	switch c.Tools.PDFBackend {
	case PDFBackendLilypond, PDFBackendMuseScore, PDFBackendNone:
	default:
		return fmt.Errorf("tools.pdf_backend: unsupported value %q (want lilypond, musescore, or none)", c.Tools.PDFBackend)
	}
	if c.Tools.MinDurationSeconds <= 0 || c.Tools.MaxDurationSeconds <= c.Tools.MinDurationSeconds {
		return errors.New("tools duration bounds must satisfy 0 < min_duration_seconds < max_duration_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	return nil
}
