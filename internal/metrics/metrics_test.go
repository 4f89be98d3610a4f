package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemorySnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.IncFailure(ctx, LabelSeparation)
	_ = m.IncFailure(ctx, LabelSeparation)
	_ = m.ObserveStage(ctx, "separate", 1500*time.Millisecond)

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Failures[LabelSeparation] != 2 {
		t.Fatalf("failures = %v", snap.Failures)
	}
	if snap.StageRuns["separate"] != 1 || snap.StageMillis["separate"] != 1500 {
		t.Fatalf("stage timings = %v %v", snap.StageRuns, snap.StageMillis)
	}
	snap.Failures[LabelSeparation] = 99
	if m.Failures(LabelSeparation) != 2 {
		t.Fatal("snapshot mutation leaked into recorder")
	}
}

func TestRedisRecorderSharesCountersAcrossInstances(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })

	api := NewRedisRecorder(client, "hs")
	worker := NewRedisRecorder(client, "hs")
	if err := worker.IncFailure(ctx, LabelPrediction); err != nil {
		t.Fatalf("IncFailure: %v", err)
	}
	_ = worker.IncFailure(ctx, LabelPrediction)
	if err := worker.ObserveStage(ctx, "predict", 750*time.Millisecond); err != nil {
		t.Fatalf("ObserveStage: %v", err)
	}
	_ = worker.ObserveStage(ctx, "predict", 250*time.Millisecond)

	snap, err := api.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Failures[LabelPrediction] != 2 {
		t.Fatalf("failures = %v", snap.Failures)
	}
	if snap.StageRuns["predict"] != 2 || snap.StageMillis["predict"] != 1000 {
		t.Fatalf("stage timings = %v %v", snap.StageRuns, snap.StageMillis)
	}
	if !srv.Exists("hs:metrics:failures") {
		t.Fatal("expected failures hash under the configured prefix")
	}
}

func TestRedisRecorderEmptySnapshot(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })

	snap, err := NewRedisRecorder(client, "").Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Failures == nil || len(snap.Failures) != 0 || len(snap.StageRuns) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
