// Package metrics keeps per-stage failure counters and run timings.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Failure labels, one per pipeline stage.
const (
	LabelIngest        = "ingest"
	LabelSeparation    = "separation"
	LabelPrediction    = "prediction"
	LabelTranscription = "transcription"
)

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Failures    map[string]int64 `json:"failures"`
	StageRuns   map[string]int64 `json:"stage_runs"`
	StageMillis map[string]int64 `json:"stage_millis"`
}

// Recorder is safe for concurrent use from every worker.
type Recorder interface {
	IncFailure(ctx context.Context, label string) error
	ObserveStage(ctx context.Context, stage string, elapsed time.Duration) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Failures:    map[string]int64{},
		StageRuns:   map[string]int64{},
		StageMillis: map[string]int64{},
	}
}

// RedisRecorder stores counters in hashes so every process shares them.
type RedisRecorder struct {
	client *redis.Client
	prefix string
}

// NewRedisRecorder uses keys under prefix:metrics:*.
func NewRedisRecorder(client *redis.Client, prefix string) *RedisRecorder {
	if prefix == "" {
		prefix = "hitscribe"
	}
	return &RedisRecorder{client: client, prefix: prefix + ":metrics"}
}

func (r *RedisRecorder) key(name string) string { return r.prefix + ":" + name }

func (r *RedisRecorder) IncFailure(ctx context.Context, label string) error {
	if err := r.client.HIncrBy(ctx, r.key("failures"), label, 1).Err(); err != nil {
		return fmt.Errorf("increment failure counter %s: %w", label, err)
	}
	return nil
}

func (r *RedisRecorder) ObserveStage(ctx context.Context, stage string, elapsed time.Duration) error {
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, r.key("stage_runs"), stage, 1)
	pipe.HIncrBy(ctx, r.key("stage_millis"), stage, elapsed.Milliseconds())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record stage timing %s: %w", stage, err)
	}
	return nil
}

func (r *RedisRecorder) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := emptySnapshot()
	targets := map[string]map[string]int64{
		"failures":     snap.Failures,
		"stage_runs":   snap.StageRuns,
		"stage_millis": snap.StageMillis,
	}
	for name, dst := range targets {
		values, err := r.client.HGetAll(ctx, r.key(name)).Result()
		if err != nil {
			return Snapshot{}, fmt.Errorf("read %s: %w", name, err)
		}
		for field, raw := range values {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			dst[field] = n
		}
	}
	return snap, nil
}

// Memory keeps counters in process.
type Memory struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemory returns zeroed counters.
func NewMemory() *Memory {
	return &Memory{snap: emptySnapshot()}
}

func (m *Memory) IncFailure(_ context.Context, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Failures[label]++
	return nil
}

func (m *Memory) ObserveStage(_ context.Context, stage string, elapsed time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.StageRuns[stage]++
	m.snap.StageMillis[stage] += elapsed.Milliseconds()
	return nil
}

func (m *Memory) Snapshot(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := emptySnapshot()
	for k, v := range m.snap.Failures {
		out.Failures[k] = v
	}
	for k, v := range m.snap.StageRuns {
		out.StageRuns[k] = v
	}
	for k, v := range m.snap.StageMillis {
		out.StageMillis[k] = v
	}
	return out, nil
}

// Failures returns the failure count for label.
func (m *Memory) Failures(label string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Failures[label]
}
