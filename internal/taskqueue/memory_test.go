package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestBroker() *MemoryBroker {
	return NewMemoryBroker(Options{VisibilityTimeout: time.Minute, MaxDeliveries: 2, Block: 20 * time.Millisecond})
}

func TestMemoryBrokerDeliversPerLane(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker()

	if _, err := b.Enqueue(ctx, Task{JobID: "j1", Stage: "separate", Lane: LaneHeavy}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := b.Receive(ctx, LaneDefault, "c1")
	if err != nil || d != nil {
		t.Fatalf("default lane Receive = %v, %v; want nothing", d, err)
	}
	d, err = b.Receive(ctx, LaneHeavy, "c1")
	if err != nil || d == nil {
		t.Fatalf("heavy lane Receive = %v, %v", d, err)
	}
	if d.Task.JobID != "j1" || d.Count != 1 || d.Exhausted {
		t.Fatalf("delivery = %+v", d)
	}
	if d.Task.ID == "" || d.Task.EnqueuedAt.IsZero() {
		t.Fatalf("task not prepared: %+v", d.Task)
	}
	if err := b.Ack(ctx, d); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if b.Pending(LaneHeavy) != 0 {
		t.Fatalf("pending = %d", b.Pending(LaneHeavy))
	}
}

func TestMemoryBrokerRedeliversAfterVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker()
	now := time.Now()
	b.SetClock(func() time.Time { return now })

	if _, err := b.Enqueue(ctx, Task{JobID: "j1", Stage: "ingest", Lane: LaneDefault}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, _ := b.Receive(ctx, LaneDefault, "c1")
	if first == nil {
		t.Fatal("expected first delivery")
	}
	if again, _ := b.Receive(ctx, LaneDefault, "c2"); again != nil {
		t.Fatal("task redelivered before visibility timeout")
	}

	now = now.Add(2 * time.Minute)
	second, _ := b.Receive(ctx, LaneDefault, "c2")
	if second == nil || second.Task.ID != first.Task.ID || second.Count != 2 || second.Exhausted {
		t.Fatalf("second delivery = %+v", second)
	}
	now = now.Add(2 * time.Minute)
	third, _ := b.Receive(ctx, LaneDefault, "c3")
	if third == nil || !third.Exhausted {
		t.Fatalf("third delivery should be exhausted: %+v", third)
	}
}

func TestMemoryBrokerReceiveWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(Options{Block: time.Second})
	got := make(chan *Delivery, 1)
	go func() {
		d, _ := b.Receive(ctx, LaneDefault, "c1")
		got <- d
	}()
	time.Sleep(10 * time.Millisecond)
	if _, err := b.Enqueue(ctx, Task{JobID: "j1", Stage: "ingest", Lane: LaneDefault}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case d := <-got:
		if d == nil {
			t.Fatal("expected delivery")
		}
	case <-time.After(time.Second):
		t.Fatal("receiver did not wake")
	}
}

func TestMemoryBrokerRevocation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := newTestBroker()

	var mu sync.Mutex
	var seen []string
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = b.Watch(ctx, func(handle string) {
			mu.Lock()
			seen = append(seen, handle)
			mu.Unlock()
		})
	}()
	<-ready
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		n := len(b.watchers)
		b.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := b.Revoke(ctx, "task-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := b.Revoked(ctx, "task-1")
	if err != nil || !revoked {
		t.Fatalf("Revoked = %v, %v", revoked, err)
	}
	deadline = time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not observe revocation")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnqueueRejectsUnknownLane(t *testing.T) {
	b := newTestBroker()
	if _, err := b.Enqueue(context.Background(), Task{JobID: "j", Stage: "ingest", Lane: "gpu"}); err == nil {
		t.Fatal("expected lane error")
	}
}

func TestMemoryBrokerCountsDuplicateHandlesSeparately(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker()
	for range 2 {
		if _, err := b.Enqueue(ctx, Task{ID: "shared", JobID: "j1", Stage: "predict", Lane: LaneHeavy}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	first, _ := b.Receive(ctx, LaneHeavy, "c1")
	second, _ := b.Receive(ctx, LaneHeavy, "c1")
	if first == nil || second == nil || first.Count != 1 || second.Count != 1 {
		t.Fatalf("deliveries = %+v, %+v", first, second)
	}
}
