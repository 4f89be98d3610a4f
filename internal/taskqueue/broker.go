package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lane names an independent consumer pool.
type Lane string

const (
	LaneDefault Lane = "default"
	LaneHeavy   Lane = "heavy"
)

// Lanes lists every lane in dispatch order.
func Lanes() []Lane { return []Lane{LaneDefault, LaneHeavy} }

// ParseLane validates a lane name.
func ParseLane(value string) (Lane, error) {
	switch Lane(value) {
	case LaneDefault, LaneHeavy:
		return Lane(value), nil
	}
	return "", fmt.Errorf("unknown lane %q", value)
}

// Task is one unit of stage work. ID is the revocation handle.
type Task struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Stage      string    `json:"stage"`
	Lane       Lane      `json:"lane"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery wraps a received task. Count includes the current delivery.
type Delivery struct {
	Task      Task
	Count     int
	Exhausted bool
	ref       string
}

// Options tunes broker delivery.
type Options struct {
	KeyPrefix         string
	Group             string
	VisibilityTimeout time.Duration
	MaxDeliveries     int
	Block             time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "hitscribe"
	}
	if o.Group == "" {
		o.Group = "workers"
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Minute
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 3
	}
	if o.Block <= 0 {
		o.Block = 5 * time.Second
	}
	return o
}

// Broker delivers tasks at least once. Unacknowledged deliveries are
// redelivered after the visibility timeout.
type Broker interface {
	// Enqueue publishes task and returns its handle.
	Enqueue(ctx context.Context, task Task) (string, error)
	// Receive waits up to the block interval for a task; nil means none.
	Receive(ctx context.Context, lane Lane, consumer string) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Revoke(ctx context.Context, handle string) error
	Revoked(ctx context.Context, handle string) (bool, error)
	// Watch calls fn for each revocation until ctx ends.
	Watch(ctx context.Context, fn func(handle string)) error
	Ping(ctx context.Context) error
	Close() error
}

func prepare(task Task) (Task, error) {
	if task.JobID == "" || task.Stage == "" {
		return task, fmt.Errorf("task requires job id and stage")
	}
	if _, err := ParseLane(string(task.Lane)); err != nil {
		return task, err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	return task, nil
}
