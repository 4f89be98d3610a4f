package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hitscribe/internal/taskqueue"
)

type fakeHandler struct {
	mu        sync.Mutex
	handled   []taskqueue.Task
	exhausted []taskqueue.Task
	handleFn  func(ctx context.Context, task taskqueue.Task) error
	started   chan string
}

func (h *fakeHandler) Handle(ctx context.Context, task taskqueue.Task) error {
	if h.started != nil {
		h.started <- task.ID
	}
	h.mu.Lock()
	h.handled = append(h.handled, task)
	fn := h.handleFn
	h.mu.Unlock()
	if fn != nil {
		return fn(ctx, task)
	}
	return nil
}

func (h *fakeHandler) Exhausted(_ context.Context, task taskqueue.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exhausted = append(h.exhausted, task)
	return nil
}

func (h *fakeHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled), len(h.exhausted)
}

type fakeWarmer struct {
	calls int
	err   error
}

func (w *fakeWarmer) Warm(context.Context) error {
	w.calls++
	return w.err
}

func newTestBroker() *taskqueue.MemoryBroker {
	return taskqueue.NewMemoryBroker(taskqueue.Options{Block: 10 * time.Millisecond, MaxDeliveries: 3})
}

func testOptions() Options {
	return Options{
		Concurrency:        map[taskqueue.Lane]int{taskqueue.LaneDefault: 2, taskqueue.LaneHeavy: 1},
		ConsumerName:       "test",
		ErrorRetryInterval: 10 * time.Millisecond,
		RevocationPoll:     10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerHandlesAndAcksTasksOnEveryLane(t *testing.T) {
	broker := newTestBroker()
	handler := &fakeHandler{}
	warmer := &fakeWarmer{}
	mgr := NewManager(broker, handler, testOptions(), nil, warmer)

	ctx := context.Background()
	for _, lane := range taskqueue.Lanes() {
		if _, err := broker.Enqueue(ctx, taskqueue.Task{JobID: "job-" + string(lane), Stage: "ingest", Lane: lane}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, "both tasks acked", func() bool {
		return broker.Pending(taskqueue.LaneDefault) == 0 && broker.Pending(taskqueue.LaneHeavy) == 0 && mgr.Status().Handled == 2
	})
	if warmer.calls != 1 {
		t.Fatalf("warm calls = %d, want 1", warmer.calls)
	}
	if handled, _ := handler.counts(); handled != 2 {
		t.Fatalf("handled = %d, want 2", handled)
	}
}

func TestManagerStartTwiceFails(t *testing.T) {
	mgr := NewManager(newTestBroker(), &fakeHandler{}, testOptions(), nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestManagerWarmFailureDoesNotBlockStart(t *testing.T) {
	broker := newTestBroker()
	handler := &fakeHandler{}
	mgr := NewManager(broker, handler, testOptions(), nil, &fakeWarmer{err: errors.New("model offline")})
	if _, err := broker.Enqueue(context.Background(), taskqueue.Task{JobID: "j", Stage: "predict", Lane: taskqueue.LaneHeavy}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	waitFor(t, "task handled", func() bool { return mgr.Status().Handled == 1 })
}

func TestManagerLeavesFailedTaskUnacked(t *testing.T) {
	broker := newTestBroker()
	handler := &fakeHandler{handleFn: func(context.Context, taskqueue.Task) error {
		return errors.New("database unavailable")
	}}
	mgr := NewManager(broker, handler, testOptions(), nil)
	if _, err := broker.Enqueue(context.Background(), taskqueue.Task{JobID: "j", Stage: "ingest", Lane: taskqueue.LaneDefault}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "task attempted", func() bool {
		handled, _ := handler.counts()
		return handled == 1 && mgr.Status().LastError != ""
	})
	mgr.Stop()

	if got := broker.Pending(taskqueue.LaneDefault); got != 1 {
		t.Fatalf("pending = %d, want 1 (left for redelivery)", got)
	}
	if mgr.Status().Handled != 0 {
		t.Fatalf("handled = %d, want 0", mgr.Status().Handled)
	}
}

func TestManagerRoutesExhaustedDeliveries(t *testing.T) {
	broker := taskqueue.NewMemoryBroker(taskqueue.Options{Block: 10 * time.Millisecond, MaxDeliveries: 1})
	now := time.Now()
	broker.SetClock(func() time.Time { return now })
	ctx := context.Background()
	if _, err := broker.Enqueue(ctx, taskqueue.Task{JobID: "j", Stage: "separate", Lane: taskqueue.LaneHeavy}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// First delivery is lost without an ack; the clock jump makes it visible again.
	if d, err := broker.Receive(ctx, taskqueue.LaneHeavy, "crashed"); err != nil || d == nil {
		t.Fatalf("Receive: %v %v", d, err)
	}
	later := now.Add(time.Hour)
	broker.SetClock(func() time.Time { return later })

	handler := &fakeHandler{}
	mgr := NewManager(broker, handler, testOptions(), nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	waitFor(t, "exhausted task acked", func() bool { return broker.Pending(taskqueue.LaneHeavy) == 0 })
	handled, exhausted := handler.counts()
	if handled != 0 || exhausted != 1 {
		t.Fatalf("handled=%d exhausted=%d, want 0/1", handled, exhausted)
	}
}

func TestManagerCancelsRevokedInFlightTask(t *testing.T) {
	broker := newTestBroker()
	handler := &fakeHandler{
		started: make(chan string, 1),
		handleFn: func(ctx context.Context, _ taskqueue.Task) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	mgr := NewManager(broker, handler, testOptions(), nil)
	ctx := context.Background()
	handle, err := broker.Enqueue(ctx, taskqueue.Task{JobID: "j", Stage: "predict", Lane: taskqueue.LaneHeavy})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()

	select {
	case id := <-handler.started:
		if id != handle {
			t.Fatalf("started %q, want %q", id, handle)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}
	if err := broker.Revoke(ctx, handle); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	waitFor(t, "revoked task acked", func() bool {
		return broker.Pending(taskqueue.LaneHeavy) == 0 && mgr.Status().InFlight == 0
	})
}

func TestManagerStopLeavesInterruptedTaskForRedelivery(t *testing.T) {
	broker := newTestBroker()
	handler := &fakeHandler{
		started: make(chan string, 1),
		handleFn: func(ctx context.Context, _ taskqueue.Task) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	mgr := NewManager(broker, handler, testOptions(), nil)
	if _, err := broker.Enqueue(context.Background(), taskqueue.Task{JobID: "j", Stage: "separate", Lane: taskqueue.LaneHeavy}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-handler.started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}
	mgr.Stop()

	if got := broker.Pending(taskqueue.LaneHeavy); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
	if st := mgr.Status(); st.Running || st.LastError != "" {
		t.Fatalf("unexpected status after stop: %+v", st)
	}
}
