package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hitscribe/internal/config"
	"hitscribe/internal/fileutil"
	"hitscribe/internal/notation"
	"hitscribe/internal/pipeline"
	"hitscribe/internal/services"
)

const defaultTimeout = 600 * time.Second

// Client calls the inference service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client from configuration.
func NewClient(cfg config.Inference, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictResponse struct {
	Hits []struct {
		Time       float64 `json:"time"`
		Instrument string  `json:"instrument"`
		Velocity   float64 `json:"velocity"`
	} `json:"hits"`
	DetectedBPM     float64 `json:"detected_bpm"`
	BPMUnreliable   bool    `json:"bpm_unreliable"`
	DurationSeconds float64 `json:"duration_seconds"`
	ConfidenceScore float64 `json:"confidence_score"`
	ModelVersion    string  `json:"model_version"`
}

type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("inference: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Separate uploads inPath and writes the isolated drum stem to outPath atomically.
func (c *Client) Separate(ctx context.Context, inPath, outPath string) error {
	resp, err := c.upload(ctx, "/v1/separate", inPath, nil)
	if err != nil {
		return classify("separate", err)
	}
	defer resp.Body.Close()
	if _, err := fileutil.StreamAtomic(outPath, resp.Body); err != nil {
		return services.Wrap(services.ErrTransient, "separate", "write stem", "", err)
	}
	return nil
}

// Predict uploads the isolated stem and returns detected hits.
func (c *Client) Predict(ctx context.Context, isolatedPath string, userTempo *int) (pipeline.Prediction, error) {
	fields := map[string]string{}
	if userTempo != nil {
		fields["user_bpm"] = strconv.Itoa(*userTempo)
	}
	resp, err := c.upload(ctx, "/v1/predict", isolatedPath, fields)
	if err != nil {
		return pipeline.Prediction{}, classify("predict", err)
	}
	defer resp.Body.Close()

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return pipeline.Prediction{}, services.Wrap(services.ErrExternalTool, "predict", "decode response", "", err)
	}
	hits := make([]notation.Hit, 0, len(payload.Hits))
	for _, h := range payload.Hits {
		hits = append(hits, notation.Hit{Time: h.Time, Label: h.Instrument, Velocity: h.Velocity})
	}
	return pipeline.Prediction{
		Hits:            hits,
		Tempo:           payload.DetectedBPM,
		TempoUnreliable: payload.BPMUnreliable,
		Confidence:      payload.ConfidenceScore,
		DurationSeconds: payload.DurationSeconds,
		ModelVersion:    payload.ModelVersion,
	}, nil
}

// Warm asks the service to load its models.
func (c *Client) Warm(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/warm", nil, "")
	if err != nil {
		return classify("warm", err)
	}
	resp.Body.Close()
	return nil
}

// Check reports whether the service answers its health endpoint.
func (c *Client) Check(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return classify("health", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) upload(ctx context.Context, endpoint, path string, fields map[string]string) (*http.Response, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	resp, err := c.do(ctx, http.MethodPost, endpoint, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, services.Detail(services.ErrConfiguration, "inference base URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &statusError{StatusCode: resp.StatusCode, Body: extractDetail(snippet)}
	}
	return resp, nil
}

// extractDetail pulls a {"detail": "..."} message out of an error body when present.
func extractDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return string(body)
}

func classify(operation string, err error) error {
	var detailed *services.DetailError
	if errors.As(err, &detailed) {
		return err
	}
	var status *statusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == http.StatusUnprocessableEntity || status.StatusCode == http.StatusBadRequest:
			return services.Detail(services.ErrValidation, status.Body)
		case status.StatusCode == http.StatusServiceUnavailable || status.StatusCode == http.StatusTooManyRequests:
			return services.Wrap(services.ErrTransient, "inference", operation, "service busy", err)
		default:
			return services.Wrap(services.ErrExternalTool, "inference", operation, "", err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return services.Wrap(services.ErrTimeout, "inference", operation, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, "inference", operation, "", err)
}
