package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"hitscribe/internal/admission"
	"hitscribe/internal/api"
	"hitscribe/internal/artifacts"
	"hitscribe/internal/config"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/metrics"
	"hitscribe/internal/notation"
	"hitscribe/internal/pipeline"
	"hitscribe/internal/taskqueue"
	"hitscribe/internal/testsupport"
)

type stubValidator struct{}

func (stubValidator) Validate(context.Context, string) (pipeline.AudioInfo, error) {
	return pipeline.AudioInfo{DurationSeconds: 8, SampleRate: 44100, Channels: 2, RMS: 0.3}, nil
}

type stubSeparator struct{}

func (stubSeparator) Separate(_ context.Context, _, out string) error {
	return os.WriteFile(out, []byte("drums"), 0o644)
}

type stubPredictor struct{}

func (stubPredictor) Predict(context.Context, string, *int) (pipeline.Prediction, error) {
	return pipeline.Prediction{
		Hits: []notation.Hit{
			{Time: 0, Label: notation.LabelKick, Velocity: 0.9},
			{Time: 0.5, Label: notation.LabelSnare, Velocity: 0.8},
			{Time: 1.0, Label: notation.LabelKick, Velocity: 0.7},
		},
		Tempo:           120,
		Confidence:      0.92,
		DurationSeconds: 8,
		ModelVersion:    "test-model",
	}, nil
}

type stubExporter struct{}

func (stubExporter) Export(context.Context, []byte) ([]byte, error) {
	return []byte("%PDF-1.4 score"), nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, string, string) (string, error) {
	return "", errors.New("network disabled in tests")
}

type testServer struct {
	t      *testing.T
	cfg    *config.Config
	store  *jobs.Store
	broker *taskqueue.MemoryBroker
	coord  *pipeline.Coordinator
	srv    *httptest.Server
}

func newTestServer(t *testing.T, checks []api.Checker, opts ...testsupport.ConfigOption) *testServer {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore := artifacts.NewLocal(cfg.Paths.ArtifactsDir)
	broker := taskqueue.NewMemoryBroker(taskqueue.Options{Block: 5 * time.Millisecond, MaxDeliveries: 3})
	rec := metrics.NewMemory()

	coord, err := pipeline.New(pipeline.Deps{
		Store:     store,
		Artifacts: artifactStore,
		Broker:    broker,
		Metrics:   rec,
		Fetcher:   stubFetcher{},
		Validator: stubValidator{},
		Separator: stubSeparator{},
		Predictor: stubPredictor{},
		Exporter:  stubExporter{},
		Settings:  pipeline.SettingsFromConfig(cfg),
		Logger:    logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	router := api.NewRouter(api.Deps{
		Config:    cfg,
		Store:     store,
		Artifacts: artifactStore,
		Pipeline:  coord,
		Admission: admission.New(store, cfg.Admission.MaxActivePerUser, cfg.RetryAfter()),
		Metrics:   rec,
		Checks:    checks,
		Logger:    logging.NewNop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{t: t, cfg: cfg, store: store, broker: broker, coord: coord, srv: srv}
}

// drain runs queued stage tasks until every lane is idle.
func (s *testServer) drain() {
	s.t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		handled := false
		for _, lane := range taskqueue.Lanes() {
			d, err := s.broker.Receive(ctx, lane, "test")
			if err != nil {
				s.t.Fatalf("Receive: %v", err)
			}
			if d == nil {
				continue
			}
			handled = true
			if err := s.coord.Handle(ctx, d.Task); err != nil {
				s.t.Fatalf("Handle: %v", err)
			}
			if err := s.broker.Ack(ctx, d); err != nil {
				s.t.Fatalf("Ack: %v", err)
			}
		}
		if !handled {
			return
		}
	}
	s.t.Fatal("pipeline did not settle")
}

func (s *testServer) do(req *http.Request) *http.Response {
	s.t.Helper()
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	s.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) get(path string) *http.Response {
	s.t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.srv.URL+path, nil)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	return s.do(req)
}

func (s *testServer) upload(user string, fields map[string]string, filename string, data []byte) *http.Response {
	s.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			s.t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			s.t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			s.t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		s.t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/v1/jobs", &body)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != "" {
		req.Header.Set("X-Forwarded-For", user)
	}
	return s.do(req)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, body)
	}
}

func (s *testServer) jobCount() int {
	s.t.Helper()
	list, err := s.store.List(context.Background(), jobs.Filter{})
	if err != nil {
		s.t.Fatalf("List: %v", err)
	}
	return len(list)
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t, nil)
	cases := []struct {
		name     string
		fields   map[string]string
		filename string
		want     string
	}{
		{name: "no input", fields: map[string]string{"title": "x"}, want: "Must provide either a file upload or a youtube_url."},
		{name: "both inputs", fields: map[string]string{"youtube_url": "https://example.com/v"}, filename: "a.wav", want: "not both"},
		{name: "tempo too low", fields: map[string]string{"tempo": "20"}, filename: "a.wav", want: "BPM must be between 40 and 300."},
		{name: "tempo not a number", fields: map[string]string{"bpm": "fast"}, filename: "a.wav", want: "BPM must be between"},
		{name: "extension", filename: "a.txt", want: "Unsupported file type '.txt'"},
		{name: "webhook scheme", fields: map[string]string{"webhook_url": "ftp://hooks"}, filename: "a.wav", want: "webhook_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := s.upload("10.1.1.1", tc.fields, tc.filename, testsupport.FakeAudio())
			expectStatus(t, resp, http.StatusUnprocessableEntity)
			body := decode[map[string]string](t, resp)
			if !strings.Contains(body["error"], tc.want) {
				t.Fatalf("error = %q, want it to contain %q", body["error"], tc.want)
			}
		})
	}
	if n := s.jobCount(); n != 0 {
		t.Fatalf("jobs created on rejected requests: %d", n)
	}
}

func TestCreateJobRejectsOversizedUpload(t *testing.T) {
	s := newTestServer(t, nil)
	s.cfg.API.MaxUploadMB = 1

	resp := s.upload("10.1.1.2", nil, "big.wav", bytes.Repeat([]byte{1}, 1<<20+16))
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	body := decode[map[string]string](t, resp)
	if body["error"] != "File exceeds maximum size of 1 MB." {
		t.Fatalf("error = %q", body["error"])
	}
	if n := s.jobCount(); n != 0 {
		t.Fatalf("jobs = %d, want 0", n)
	}
}

func TestCreateJobAdmissionLimit(t *testing.T) {
	s := newTestServer(t, nil, testsupport.WithAdmissionLimit(1))

	first := s.upload("10.2.2.2", nil, "groove.wav", testsupport.FakeAudio())
	expectStatus(t, first, http.StatusCreated)

	second := s.upload("10.2.2.2, 172.16.0.1", nil, "groove.wav", testsupport.FakeAudio())
	expectStatus(t, second, http.StatusTooManyRequests)
	if second.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	other := s.upload("10.3.3.3", nil, "groove.wav", testsupport.FakeAudio())
	expectStatus(t, other, http.StatusCreated)

	if n := s.jobCount(); n != 2 {
		t.Fatalf("jobs = %d, want 2", n)
	}
}

func TestCreateFetchJobFromForm(t *testing.T) {
	s := newTestServer(t, nil)
	form := url.Values{"youtube_url": {"https://example.com/watch?v=1"}, "tempo": {"96"}}
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/v1/jobs", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := s.do(req)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[api.JobCreateResponse](t, resp)

	job := testsupport.MustGet(t, s.store, created.ID)
	if job.InputType != jobs.InputFetch || job.FetchURL != "https://example.com/watch?v=1" {
		t.Fatalf("unexpected job input: %+v", job)
	}
	if job.UserTempo == nil || *job.UserTempo != 96 {
		t.Fatalf("user tempo = %v, want 96", job.UserTempo)
	}
	if job.TaskHandle == "" {
		t.Fatal("expected dispatched job to carry a task handle")
	}

	status := decode[api.JobStatusResponse](t, s.get("/api/v1/jobs/"+created.ID))
	if status.Title != "Untitled" {
		t.Fatalf("title = %q, want Untitled", status.Title)
	}
}

func TestUntitledUploadGetsDefaultTitle(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.upload("10.6.6.6", map[string]string{"title": "   "}, "groove.wav", testsupport.FakeAudio())
	expectStatus(t, resp, http.StatusCreated)
	created := decode[api.JobCreateResponse](t, resp)

	status := decode[api.JobStatusResponse](t, s.get("/api/v1/jobs/"+created.ID))
	if status.Title != "Untitled" {
		t.Fatalf("title = %q, want Untitled", status.Title)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.upload("10.4.4.4", map[string]string{"title": "Funk Break", "tempo": "100"}, "break.wav", testsupport.FakeAudio())
	expectStatus(t, resp, http.StatusCreated)
	created := decode[api.JobCreateResponse](t, resp)
	if created.Status != "queued" || created.ID == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	status := decode[api.JobStatusResponse](t, s.get("/api/v1/jobs/"+created.ID))
	if status.Status != "queued" || status.Title != "Funk Break" || status.InputType != "upload" {
		t.Fatalf("unexpected status: %+v", status)
	}

	expectStatus(t, s.get("/api/v1/jobs/"+created.ID+"/result"), http.StatusConflict)
	expectStatus(t, s.get("/api/v1/jobs/"+created.ID+"/download/musicxml"), http.StatusConflict)

	s.drain()

	status = decode[api.JobStatusResponse](t, s.get("/api/v1/jobs/"+created.ID))
	if status.Status != "completed" || status.Progress != 100 || status.Stage != "" {
		t.Fatalf("unexpected final status: %+v", status)
	}

	resultResp := s.get("/api/v1/jobs/" + created.ID + "/result")
	expectStatus(t, resultResp, http.StatusOK)
	result := decode[api.JobResultResponse](t, resultResp)
	if len(result.Hits) != 3 || result.HitSummary[notation.LabelKick] != 2 {
		t.Fatalf("unexpected hits: %+v", result)
	}
	if result.DownloadURLs["musicxml"] == "" || result.DownloadURLs["pdf"] == "" {
		t.Fatalf("download urls = %v", result.DownloadURLs)
	}

	xml := s.get("/api/v1/jobs/" + created.ID + "/download/musicxml")
	expectStatus(t, xml, http.StatusOK)
	if ct := xml.Header.Get("Content-Type"); ct != "application/vnd.recordare.musicxml+xml" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := xml.Header.Get("Content-Disposition"); !strings.Contains(cd, `filename="Funk Break.musicxml"`) {
		t.Fatalf("content disposition = %q", cd)
	}
	data, _ := io.ReadAll(xml.Body)
	if !bytes.Contains(data, []byte("score-partwise")) {
		t.Fatalf("musicxml body missing score: %.80s", data)
	}

	pdf := s.get("/api/v1/jobs/" + created.ID + "/download/pdf")
	expectStatus(t, pdf, http.StatusOK)
	data, _ = io.ReadAll(pdf.Body)
	if string(data) != "%PDF-1.4 score" {
		t.Fatalf("pdf body = %q", data)
	}

	req, _ := http.NewRequest(http.MethodDelete, s.srv.URL+"/api/v1/jobs/"+created.ID, nil)
	del := s.do(req)
	expectStatus(t, del, http.StatusOK)
	if msg := decode[api.JobDeleteResponse](t, del); msg.Message != "Job deleted successfully" {
		t.Fatalf("delete message = %q", msg.Message)
	}
	expectStatus(t, s.get("/api/v1/jobs/"+created.ID), http.StatusNotFound)
	if _, err := os.Stat(artifacts.NewLocal(s.cfg.Paths.ArtifactsDir).PathFor(created.ID, artifacts.NotationFile).Path()); !os.IsNotExist(err) {
		t.Fatalf("expected artifacts removed, stat err = %v", err)
	}
}

func TestDownloadErrors(t *testing.T) {
	s := newTestServer(t, nil)
	expectStatus(t, s.get("/api/v1/jobs/nope/download/midi"), http.StatusUnprocessableEntity)
	expectStatus(t, s.get("/api/v1/jobs/nope/download/pdf"), http.StatusNotFound)
	expectStatus(t, s.get("/api/v1/jobs/nope/result"), http.StatusNotFound)

	req, _ := http.NewRequest(http.MethodDelete, s.srv.URL+"/api/v1/jobs/nope", nil)
	expectStatus(t, s.do(req), http.StatusNotFound)
}

func TestHealth(t *testing.T) {
	healthy := newTestServer(t, []api.Checker{{Name: "queue", Check: func(context.Context) error { return nil }}})
	resp := healthy.get("/api/v1/health")
	expectStatus(t, resp, http.StatusOK)
	body := decode[api.HealthResponse](t, resp)
	if body.Status != "healthy" || body.Checks["database"].Status != "up" || body.Checks["queue"].Status != "up" {
		t.Fatalf("unexpected health: %+v", body)
	}

	degraded := newTestServer(t, []api.Checker{{Name: "queue", Check: func(context.Context) error {
		return errors.New("connection refused")
	}}})
	resp = degraded.get("/api/v1/health")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	body = decode[api.HealthResponse](t, resp)
	if body.Status != "degraded" || body.Checks["queue"].Error != "connection refused" {
		t.Fatalf("unexpected health: %+v", body)
	}
}

func TestMetricsIncludesJobCounts(t *testing.T) {
	s := newTestServer(t, nil)
	expectStatus(t, s.upload("10.5.5.5", nil, "a.wav", testsupport.FakeAudio()), http.StatusCreated)

	resp := s.get("/api/v1/metrics")
	expectStatus(t, resp, http.StatusOK)
	body := decode[api.MetricsResponse](t, resp)
	if body.Jobs["queued"] != 1 {
		t.Fatalf("queued = %d, want 1", body.Jobs["queued"])
	}
}
