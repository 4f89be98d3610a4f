package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

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

type spyStore struct {
	*jobs.Store
	mu       sync.Mutex
	progress []int
}

func (s *spyStore) record(applied bool, patch jobs.Patch) {
	if !applied || patch.Progress == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, *patch.Progress)
}

func (s *spyStore) Transition(ctx context.Context, id string, from []jobs.Status, patch jobs.Patch) (bool, error) {
	applied, err := s.Store.Transition(ctx, id, from, patch)
	s.record(applied, patch)
	return applied, err
}

func (s *spyStore) TransitionOwned(ctx context.Context, id string, from []jobs.Status, handle string, patch jobs.Patch) (bool, error) {
	applied, err := s.Store.TransitionOwned(ctx, id, from, handle, patch)
	s.record(applied, patch)
	return applied, err
}

type recordingBroker struct {
	*taskqueue.MemoryBroker
	mu        sync.Mutex
	enqueued  []string
	failStage string
}

func (b *recordingBroker) Enqueue(ctx context.Context, task taskqueue.Task) (string, error) {
	b.mu.Lock()
	if b.failStage != "" && b.failStage == task.Stage {
		b.failStage = ""
		b.mu.Unlock()
		return "", errors.New("redis unavailable")
	}
	b.enqueued = append(b.enqueued, task.Stage)
	b.mu.Unlock()
	return b.MemoryBroker.Enqueue(ctx, task)
}

func (b *recordingBroker) stages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.enqueued...)
}

type fakeValidator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (v *fakeValidator) Validate(context.Context, string) (pipeline.AudioInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return pipeline.AudioInfo{}, v.err
	}
	return pipeline.AudioInfo{DurationSeconds: 12.5, SampleRate: 44100, Channels: 2, RMS: 0.2}, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, _ string, destDir string) (string, error) {
	path := filepath.Join(destDir, "download.mp3")
	return path, os.WriteFile(path, testsupport.FakeAudio(), 0o644)
}

type fakeSeparator struct {
	mu    sync.Mutex
	calls int
	errs  []error
	gate  func(out string)
}

func (s *fakeSeparator) Separate(_ context.Context, _, out string) error {
	if s.gate != nil {
		s.gate(out)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	return os.WriteFile(out, []byte("isolated drums"), 0o644)
}

func (s *fakeSeparator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakePredictor struct {
	mu    sync.Mutex
	calls int
	pred  pipeline.Prediction
	err   error
}

func (p *fakePredictor) Predict(context.Context, string, *int) (pipeline.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.pred, p.err
}

func (p *fakePredictor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeExporter struct {
	out []byte
	err error
}

func (e fakeExporter) Export(context.Context, []byte) ([]byte, error) {
	return e.out, e.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	hold  chan struct{}
}

func (n *recordingNotifier) Notify(_ context.Context, jobID, url string) {
	if n.hold != nil {
		<-n.hold
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, jobID+" "+url)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type harness struct {
	t         *testing.T
	cfg       *config.Config
	store     *spyStore
	artifacts *artifacts.Local
	broker    *recordingBroker
	metrics   *metrics.Memory
	notifier  *recordingNotifier
	validator *fakeValidator
	separator *fakeSeparator
	predictor *fakePredictor
	exporter  pipeline.Exporter
	coord     *pipeline.Coordinator
}

func defaultPrediction() pipeline.Prediction {
	return pipeline.Prediction{
		Hits: []notation.Hit{
			{Time: 0.5, Label: notation.LabelSnare},
			{Time: 0, Label: notation.LabelKick},
			{Time: 0.25, Label: notation.LabelHiHatClosed},
			{Time: 1.0, Label: notation.LabelKick},
		},
		Tempo:           120,
		Confidence:      0.9,
		DurationSeconds: 12.5,
	}
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{
		t:         t,
		cfg:       cfg,
		store:     &spyStore{Store: testsupport.MustOpenStore(t, cfg)},
		artifacts: artifacts.NewLocal(cfg.Paths.ArtifactsDir),
		broker:    &recordingBroker{MemoryBroker: taskqueue.NewMemoryBroker(taskqueue.Options{Block: 5 * time.Millisecond, MaxDeliveries: 3})},
		metrics:   metrics.NewMemory(),
		notifier:  &recordingNotifier{},
		validator: &fakeValidator{},
		separator: &fakeSeparator{},
		predictor: &fakePredictor{pred: defaultPrediction()},
		exporter:  fakeExporter{err: pipeline.ErrExportSkipped},
	}
	for _, opt := range opts {
		opt(h)
	}
	coord, err := pipeline.New(pipeline.Deps{
		Store:     h.store,
		Artifacts: h.artifacts,
		Broker:    h.broker,
		Metrics:   h.metrics,
		Notifier:  h.notifier,
		Fetcher:   fakeFetcher{},
		Validator: h.validator,
		Separator: h.separator,
		Predictor: h.predictor,
		Exporter:  h.exporter,
		Settings:  pipeline.SettingsFromConfig(cfg),
		Logger:    logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	h.coord = coord
	return h
}

// submitUpload stores source audio, creates the record and dispatches ingest.
func (h *harness) submitUpload(mutate ...func(*jobs.Job)) *jobs.Job {
	h.t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	loc, err := h.artifacts.Save(ctx, id, artifacts.SourceFile(".wav"), testsupport.FakeAudio())
	if err != nil {
		h.t.Fatalf("save source: %v", err)
	}
	job := &jobs.Job{
		ID:             id,
		InputType:      jobs.InputUpload,
		UploadFilename: "groove.wav",
		Title:          "Groove",
		WebhookURL:     "http://hooks.test/done",
		SourceFile:     string(loc),
		UserIdentifier: "10.0.0.1",
	}
	for _, m := range mutate {
		m(job)
	}
	if _, err := h.store.Create(ctx, job); err != nil {
		h.t.Fatalf("Create: %v", err)
	}
	if _, err := h.coord.Dispatch(ctx, job.ID); err != nil {
		h.t.Fatalf("Dispatch: %v", err)
	}
	return job
}

// step receives and handles at most one task from lane.
func (h *harness) step(lane taskqueue.Lane) (*taskqueue.Delivery, error) {
	h.t.Helper()
	ctx := context.Background()
	d, err := h.broker.Receive(ctx, lane, "test")
	if err != nil {
		h.t.Fatalf("Receive: %v", err)
	}
	if d == nil {
		return nil, nil
	}
	if d.Exhausted {
		err = h.coord.Exhausted(ctx, d.Task)
	} else {
		err = h.coord.Handle(ctx, d.Task)
	}
	if err == nil {
		if ackErr := h.broker.Ack(ctx, d); ackErr != nil {
			h.t.Fatalf("Ack: %v", ackErr)
		}
	}
	return d, err
}

// drain processes tasks on every lane until both are idle.
func (h *harness) drain() {
	h.t.Helper()
	for i := 0; i < 100; i++ {
		handled := false
		for _, lane := range taskqueue.Lanes() {
			d, err := h.step(lane)
			if err != nil {
				h.t.Fatalf("Handle: %v", err)
			}
			if d != nil {
				handled = true
			}
		}
		if !handled {
			h.coord.Wait()
			return
		}
	}
	h.t.Fatal("pipeline did not settle")
}

func (h *harness) job(id string) *jobs.Job {
	h.t.Helper()
	return testsupport.MustGet(h.t, h.store.Store, id)
}
