package config

const (
	StorageLocal  = "local"
	StorageObject = "object"

	ProviderMinio = "minio"
	ProviderS3    = "s3"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	QueueRedis  = "redis"
	QueueMemory = "memory"

	PDFBackendLilypond  = "lilypond"
	PDFBackendMuseScore = "musescore"
	PDFBackendNone      = "none"
)

const (
	defaultDataDir                  = "~/.local/share/hitscribe"
	defaultArtifactsDir             = "~/.local/share/hitscribe/artifacts"
	defaultWorkDir                  = "~/.local/share/hitscribe/work"
	defaultLogDir                   = "~/.local/share/hitscribe/logs"
	defaultMirrorDir                = "~/.local/share/hitscribe/mirror"
	defaultDatabaseDriver           = DriverSQLite
	defaultRedisAddr                = "localhost:6379"
	defaultQueueBackend             = QueueRedis
	defaultQueueKeyPrefix           = "hitscribe"
	defaultVisibilityTimeoutSeconds = 1800
	defaultMaxDeliveries            = 3
	defaultBlockSeconds             = 5
	defaultDefaultConcurrency       = 4
	defaultHeavyConcurrency         = 1
	defaultStorageBackend           = StorageLocal
	defaultStorageProvider          = ProviderS3
	defaultStoragePrefix            = "artifacts"
	defaultStorageRegion            = "us-east-1"
	defaultMaxActivePerUser         = 3
	defaultRetryAfterSeconds        = 30
	defaultTTLHours                 = 24
	defaultSweepIntervalSeconds     = 3600
	defaultWebhookTimeoutSeconds    = 10
	defaultModelVersion             = "v1.0.0"
	defaultLowConfidenceThreshold   = 0.5
	defaultTempo                    = 120
	defaultTitle                    = "Untitled"
	defaultYTDLPTimeoutSeconds      = 120
	defaultMinSampleRate            = 16000
	defaultMinDurationSeconds       = 5.0
	defaultMaxDurationSeconds       = 900.0
	defaultSilenceRMSThreshold      = 0.001
	defaultPDFBackend               = PDFBackendLilypond
	defaultRenderTimeoutSeconds     = 60
	defaultInferenceBaseURL         = "http://127.0.0.1:8500"
	defaultInferenceTimeoutSeconds  = 600
	defaultAPIBind                  = "127.0.0.1:8000"
	defaultMaxUploadMB              = 50
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
)

var defaultAllowedExtensions = []string{"wav", "mp3", "flac", "ogg"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			ArtifactsDir: defaultArtifactsDir,
			WorkDir:      defaultWorkDir,
			LogDir:       defaultLogDir,
		},
		Database: Database{
			Driver: defaultDatabaseDriver,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		Queue: Queue{
			Backend:                  defaultQueueBackend,
			KeyPrefix:                defaultQueueKeyPrefix,
			VisibilityTimeoutSeconds: defaultVisibilityTimeoutSeconds,
			MaxDeliveries:            defaultMaxDeliveries,
			BlockSeconds:             defaultBlockSeconds,
			DefaultConcurrency:       defaultDefaultConcurrency,
			HeavyConcurrency:         defaultHeavyConcurrency,
		},
		Storage: Storage{
			Backend:   defaultStorageBackend,
			Provider:  defaultStorageProvider,
			Prefix:    defaultStoragePrefix,
			Region:    defaultStorageRegion,
			UseSSL:    true,
			MirrorDir: defaultMirrorDir,
		},
		Admission: Admission{
			MaxActivePerUser:  defaultMaxActivePerUser,
			RetryAfterSeconds: defaultRetryAfterSeconds,
		},
		Retention: Retention{
			TTLHours:        defaultTTLHours,
			IntervalSeconds: defaultSweepIntervalSeconds,
		},
		Webhook: Webhook{
			TimeoutSeconds: defaultWebhookTimeoutSeconds,
		},
		Pipeline: Pipeline{
			ModelVersion:           defaultModelVersion,
			LowConfidenceThreshold: defaultLowConfidenceThreshold,
			DefaultTempo:           defaultTempo,
			DefaultTitle:           defaultTitle,
		},
		Tools: Tools{
			YTDLPBinary:          "yt-dlp",
			YTDLPTimeoutSeconds:  defaultYTDLPTimeoutSeconds,
			FFprobeBinary:        "ffprobe",
			FFmpegBinary:         "ffmpeg",
			MinSampleRate:        defaultMinSampleRate,
			MinDurationSeconds:   defaultMinDurationSeconds,
			MaxDurationSeconds:   defaultMaxDurationSeconds,
			SilenceRMSThreshold:  defaultSilenceRMSThreshold,
			PDFBackend:           defaultPDFBackend,
			LilypondBinary:       "lilypond",
			MusicXML2LyBinary:    "musicxml2ly",
			MuseScoreBinary:      "mscore",
			RenderTimeoutSeconds: defaultRenderTimeoutSeconds,
		},
		Inference: Inference{
			BaseURL:        defaultInferenceBaseURL,
			TimeoutSeconds: defaultInferenceTimeoutSeconds,
		},
		API: API{
			Bind:             defaultAPIBind,
			MaxUploadMB:      defaultMaxUploadMB,
			AllowedExtension: append([]string(nil), defaultAllowedExtensions...),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
