package stage

import (
	"context"
	"time"
)

// Health is the outcome of probing one dependency.
type Health struct {
	Name    string
	Ready   bool
	Detail  string
	Latency time.Duration
}

// Probe runs check under timeout and records how long it took. A nil check
// reports ready.
func Probe(ctx context.Context, name string, timeout time.Duration, check func(context.Context) error) Health {
	h := Health{Name: name, Ready: true}
	if check == nil {
		return h
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := check(ctx)
	h.Latency = time.Since(start)
	if err != nil {
		h.Ready = false
		h.Detail = err.Error()
	}
	return h
}
