// Package admission caps the number of active jobs per user.
//
// The count and the subsequent insert are not serialized, so concurrent
// submissions from one user can briefly exceed the limit.
package admission

import (
	"context"
	"fmt"
	"time"
)

// ActiveCounter reports active jobs for a user.
type ActiveCounter interface {
	CountActive(ctx context.Context, user string) (int, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Active     int
	Limit      int
	RetryAfter time.Duration
}

// Controller applies the per-user limit. The count and the later insert are
// not atomic, so concurrent submits from one user can overshoot the limit.
type Controller struct {
	counter    ActiveCounter
	limit      int
	retryAfter time.Duration
}

// New builds a controller. Non-positive values fall back to 3 jobs and 30s.
func New(counter ActiveCounter, limit int, retryAfter time.Duration) *Controller {
	if limit <= 0 {
		limit = 3
	}
	if retryAfter <= 0 {
		retryAfter = 30 * time.Second
	}
	return &Controller{counter: counter, limit: limit, retryAfter: retryAfter}
}

// Allow reports whether user may create another job.
func (c *Controller) Allow(ctx context.Context, user string) (Decision, error) {
	active, err := c.counter.CountActive(ctx, user)
	if err != nil {
		return Decision{}, fmt.Errorf("count active jobs: %w", err)
	}
	d := Decision{Allowed: active < c.limit, Active: active, Limit: c.limit}
	if !d.Allowed {
		d.RetryAfter = c.retryAfter
	}
	return d, nil
}

// RetryAfterSeconds renders the Retry-After header value.
func (d Decision) RetryAfterSeconds() int {
	secs := int(d.RetryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
