package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"hitscribe/internal/config"
	"hitscribe/internal/logging"
	"hitscribe/internal/taskqueue"
)

// TaskHandler processes delivered tasks.
type TaskHandler interface {
	Handle(ctx context.Context, task taskqueue.Task) error
	Exhausted(ctx context.Context, task taskqueue.Task) error
}

// Warmer preloads an expensive resource before consumers start.
type Warmer interface {
	Warm(ctx context.Context) error
}

// Options tunes the worker runtime.
type Options struct {
	Concurrency        map[taskqueue.Lane]int
	ConsumerName       string
	ErrorRetryInterval time.Duration
	RevocationPoll     time.Duration
}

// OptionsFromConfig builds worker options for the given lanes. An empty lane
// list runs every lane.
func OptionsFromConfig(cfg *config.Config, lanes ...taskqueue.Lane) Options {
	if len(lanes) == 0 {
		lanes = taskqueue.Lanes()
	}
	concurrency := make(map[taskqueue.Lane]int, len(lanes))
	for _, lane := range lanes {
		switch lane {
		case taskqueue.LaneHeavy:
			concurrency[lane] = cfg.Queue.HeavyConcurrency
		default:
			concurrency[lane] = cfg.Queue.DefaultConcurrency
		}
	}
	return Options{Concurrency: concurrency}
}

// Manager owns the consumer goroutines for one worker process.
type Manager struct {
	broker  taskqueue.Broker
	handler TaskHandler
	warmers []Warmer
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[string]*inflightTask
	lastErr  error
	handled  int64
}

type inflightTask struct {
	cancel  context.CancelFunc
	revoked bool
}

// NewManager constructs a worker manager.
func NewManager(broker taskqueue.Broker, handler TaskHandler, opts Options, logger *slog.Logger, warmers ...Warmer) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(opts.Concurrency) == 0 {
		opts.Concurrency = map[taskqueue.Lane]int{taskqueue.LaneDefault: 1, taskqueue.LaneHeavy: 1}
	}
	if opts.ConsumerName == "" {
		host, _ := os.Hostname()
		opts.ConsumerName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if opts.ErrorRetryInterval <= 0 {
		opts.ErrorRetryInterval = 5 * time.Second
	}
	if opts.RevocationPoll <= 0 {
		opts.RevocationPoll = 5 * time.Second
	}
	return &Manager{
		broker:   broker,
		handler:  handler,
		warmers:  warmers,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "worker"),
		inflight: make(map[string]*inflightTask),
	}
}

func (m *Manager) track(taskID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[taskID] = &inflightTask{cancel: cancel}
}

// untrack removes the task and reports whether it was revoked while running.
func (m *Manager) untrack(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.inflight[taskID]
	delete(m.inflight, taskID)
	return t != nil && t.revoked
}

func (m *Manager) revoke(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.inflight[handle]
	if !ok || t.revoked {
		return false
	}
	t.revoked = true
	t.cancel()
	return true
}

func (m *Manager) inflightIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.inflight))
	for id, t := range m.inflight {
		if !t.revoked {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}
