package api

import "hitscribe/internal/notation"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobCreateResponse acknowledges a new job.
type JobCreateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobStatusResponse is returned when polling a job.
type JobStatusResponse struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Stage         string   `json:"stage,omitempty"`
	Progress      int      `json:"progress"`
	Title         string   `json:"title"`
	InputType     string   `json:"input_type"`
	ErrorMessage  string   `json:"error_message,omitempty"`
	ComputeTimeMs *int64   `json:"compute_time_ms"`
	ModelVersion  string   `json:"model_version,omitempty"`
	Warnings      []string `json:"warnings"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// HitData is one hit in a result payload.
type HitData struct {
	Time       float64 `json:"time"`
	Instrument string  `json:"instrument"`
	Velocity   float64 `json:"velocity"`
}

// JobResultResponse carries the output of a completed job.
type JobResultResponse struct {
	ID              string            `json:"id"`
	DetectedTempo   *float64          `json:"detected_tempo"`
	TempoUnreliable bool              `json:"tempo_unreliable"`
	DurationSeconds *float64          `json:"duration_seconds"`
	ConfidenceScore *float64          `json:"confidence_score"`
	Warnings        []string          `json:"warnings"`
	ComputeTimeMs   *int64            `json:"compute_time_ms"`
	ModelVersion    string            `json:"model_version,omitempty"`
	HitSummary      map[string]int    `json:"hit_summary"`
	Hits            []HitData         `json:"hits"`
	DownloadURLs    map[string]string `json:"download_urls"`
}

// JobDeleteResponse confirms deletion.
type JobDeleteResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// HealthCheck is one dependency's state in the health payload.
type HealthCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status       string                 `json:"status"`
	ModelVersion string                 `json:"model_version"`
	Checks       map[string]HealthCheck `json:"checks"`
}

// MetricsResponse mirrors the pipeline counters.
type MetricsResponse struct {
	Failures    map[string]int64 `json:"failures"`
	StageRuns   map[string]int64 `json:"stage_runs"`
	StageMillis map[string]int64 `json:"stage_millis"`
	Jobs        map[string]int   `json:"jobs,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func hitData(hits []notation.Hit) []HitData {
	out := make([]HitData, 0, len(hits))
	for _, h := range hits {
		out = append(out, HitData{Time: h.Time, Instrument: h.Label, Velocity: h.Velocity})
	}
	return out
}
