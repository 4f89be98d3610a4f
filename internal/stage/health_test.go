package stage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"hitscribe/internal/stage"
)

func TestProbeReportsFailureDetail(t *testing.T) {
	h := stage.Probe(context.Background(), "queue", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})
	if h.Ready || h.Name != "queue" || h.Detail != "connection refused" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestProbeAppliesTimeout(t *testing.T) {
	h := stage.Probe(context.Background(), "inference", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if h.Ready {
		t.Fatal("expected probe to fail after timeout")
	}
	if h.Latency < 10*time.Millisecond {
		t.Fatalf("latency %s shorter than timeout", h.Latency)
	}
}

func TestProbeNilCheckIsReady(t *testing.T) {
	if h := stage.Probe(context.Background(), "storage", 0, nil); !h.Ready {
		t.Fatalf("expected ready, got %+v", h)
	}
}
