package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hitscribe/internal/config"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
)

const userAgent = "hitscribe-webhook/1.0"

// JobReader loads the record a notification summarizes.
type JobReader interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// DownloadURLs links to the exported notation.
type DownloadURLs struct {
	MusicXML string `json:"musicxml,omitempty"`
	PDF      string `json:"pdf,omitempty"`
}

// Payload is the JSON body sent to the webhook.
type Payload struct {
	JobID           string         `json:"job_id"`
	Status          string         `json:"status"`
	Title           string         `json:"title"`
	DetectedTempo   *float64       `json:"detected_tempo"`
	DurationSeconds *float64       `json:"duration_seconds"`
	ConfidenceScore *float64       `json:"confidence_score"`
	HitSummary      map[string]int `json:"hit_summary"`
	Warnings        []string       `json:"warnings"`
	ComputeTimeMs   *int64         `json:"compute_time_ms"`
	ModelVersion    string         `json:"model_version,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	DownloadURLs    DownloadURLs   `json:"download_urls"`
}

// Dispatcher sends webhook notifications.
type Dispatcher struct {
	jobs       JobReader
	client     *http.Client
	baseURL    string
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewDispatcher builds a dispatcher with the configured per-attempt timeout.
func NewDispatcher(reader JobReader, cfg config.Webhook, logger *slog.Logger) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		jobs:       reader,
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		retryDelay: time.Second,
		logger:     logging.NewComponentLogger(logger, "webhook"),
	}
}

// SetRetryDelay overrides the pause between the two attempts.
func (d *Dispatcher) SetRetryDelay(delay time.Duration) {
	d.retryDelay = delay
}

// BuildPayload summarizes job for delivery.
func (d *Dispatcher) BuildPayload(job *jobs.Job) Payload {
	p := Payload{
		JobID:           job.ID,
		Status:          string(job.Status),
		Title:           job.Title,
		DetectedTempo:   job.DetectedTempo,
		DurationSeconds: job.DurationSeconds,
		ConfidenceScore: job.ConfidenceScore,
		HitSummary:      job.HitSummary,
		Warnings:        job.Warnings,
		ComputeTimeMs:   job.ComputeTimeMs,
		ModelVersion:    job.ModelVersion,
		ErrorMessage:    job.ErrorMessage,
	}
	if p.Warnings == nil {
		p.Warnings = []string{}
	}
	if job.NotationPath != "" {
		p.DownloadURLs.MusicXML = d.downloadURL(job.ID, "musicxml")
	}
	if job.SecondaryPath != "" {
		p.DownloadURLs.PDF = d.downloadURL(job.ID, "pdf")
	}
	return p
}

func (d *Dispatcher) downloadURL(jobID, format string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s/download/%s", d.baseURL, jobID, format)
}

// Notify posts the job summary to url. It never returns an error; failures
// are logged. A blank url is a no-op.
func (d *Dispatcher) Notify(ctx context.Context, jobID, url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	logger := d.logger.With(logging.String(logging.FieldJobID, jobID))

	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		logging.WarnWithContext(logger, "webhook skipped; job not readable", "webhook_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "client will not receive a completion callback"),
		)
		return
	}
	body, err := json.Marshal(d.BuildPayload(job))
	if err != nil {
		logger.Error("webhook payload encode failed", logging.Error(err))
		return
	}

	err = d.send(ctx, url, body)
	if err != nil {
		logger.Debug("webhook attempt failed; retrying", logging.Error(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(d.retryDelay):
			err = d.send(ctx, url, body)
		}
	}
	if err != nil {
		logging.WarnWithContext(logger, "webhook delivery failed", "webhook_failed",
			logging.String("url", url),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the webhook endpoint accepts POST requests"),
		)
		return
	}
	logger.Info("webhook delivered", logging.String("status", string(job.Status)))
}

func (d *Dispatcher) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
