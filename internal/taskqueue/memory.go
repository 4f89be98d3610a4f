package taskqueue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryBroker is a single-process Broker with the same delivery semantics
// as RedisBroker. It backs tests and the `queue.backend = "memory"` mode.
type MemoryBroker struct {
	opts Options
	now  func() time.Time

	mu         sync.Mutex
	seq        int
	queues     map[Lane][]*memoryEntry
	inflight   map[string]*memoryEntry
	deliveries map[string]int
	revoked    map[string]bool
	watchers   []chan string
	wake       chan struct{}
}

type memoryEntry struct {
	seq         int
	ref         string
	task        Task
	deliveredAt time.Time
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker(opts Options) *MemoryBroker {
	return &MemoryBroker{
		opts:       opts.withDefaults(),
		now:        time.Now,
		queues:     make(map[Lane][]*memoryEntry),
		inflight:   make(map[string]*memoryEntry),
		deliveries: make(map[string]int),
		revoked:    make(map[string]bool),
		wake:       make(chan struct{}),
	}
}

// SetClock overrides the time source used for visibility timeouts.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBroker) Enqueue(ctx context.Context, task Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	task, err := prepare(task)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.queues[task.Lane] = append(b.queues[task.Lane], &memoryEntry{seq: b.seq, ref: strconv.Itoa(b.seq), task: task})
	close(b.wake)
	b.wake = make(chan struct{})
	return task.ID, nil
}

func (b *MemoryBroker) Receive(ctx context.Context, lane Lane, _ string) (*Delivery, error) {
	timer := time.NewTimer(b.opts.Block)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if d := b.takeLocked(lane); d != nil {
			b.mu.Unlock()
			return d, nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
		}
	}
}

func (b *MemoryBroker) takeLocked(lane Lane) *Delivery {
	now := b.now()
	var entry *memoryEntry
	for _, e := range b.inflight {
		if e.task.Lane == lane && now.Sub(e.deliveredAt) >= b.opts.VisibilityTimeout {
			if entry == nil || e.seq < entry.seq {
				entry = e
			}
		}
	}
	if entry == nil {
		queue := b.queues[lane]
		if len(queue) == 0 {
			return nil
		}
		entry = queue[0]
		b.queues[lane] = queue[1:]
	}
	entry.deliveredAt = now
	b.inflight[entry.ref] = entry
	b.deliveries[entry.ref]++
	count := b.deliveries[entry.ref]
	return &Delivery{Task: entry.task, Count: count, Exhausted: count > b.opts.MaxDeliveries, ref: entry.ref}
}

func (b *MemoryBroker) Ack(_ context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, d.ref)
	delete(b.deliveries, d.ref)
	delete(b.revoked, d.Task.ID)
	return nil
}

func (b *MemoryBroker) Revoke(_ context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	b.mu.Lock()
	b.revoked[handle] = true
	watchers := append([]chan string(nil), b.watchers...)
	b.mu.Unlock()
	for _, ch := range watchers {
		select {
		case ch <- handle:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Revoked(_ context.Context, handle string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[handle], nil
}

func (b *MemoryBroker) Watch(ctx context.Context, fn func(handle string)) error {
	ch := make(chan string, 16)
	b.mu.Lock()
	b.watchers = append(b.watchers, ch)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		for i, w := range b.watchers {
			if w == ch {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case handle := <-ch:
			fn(handle)
		}
	}
}

// Pending returns queued plus in-flight task counts for lane.
func (b *MemoryBroker) Pending(lane Lane) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := len(b.queues[lane])
	for _, e := range b.inflight {
		if e.task.Lane == lane {
			count++
		}
	}
	return count
}

func (b *MemoryBroker) Ping(context.Context) error { return nil }

func (b *MemoryBroker) Close() error { return nil }
