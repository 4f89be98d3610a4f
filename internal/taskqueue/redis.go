package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker keeps one stream per lane, consumed through a consumer group.
// Stale pending entries are reclaimed with XAUTOCLAIM.
type RedisBroker struct {
	client *redis.Client
	opts   Options

	mu     sync.Mutex
	groups map[Lane]bool
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client *redis.Client, opts Options) *RedisBroker {
	return &RedisBroker{client: client, opts: opts.withDefaults(), groups: make(map[Lane]bool)}
}

func (b *RedisBroker) streamKey(lane Lane) string {
	return fmt.Sprintf("%s:tasks:%s", b.opts.KeyPrefix, lane)
}

func (b *RedisBroker) deliveriesKey() string { return b.opts.KeyPrefix + ":deliveries" }
func (b *RedisBroker) revokedKey() string    { return b.opts.KeyPrefix + ":revoked" }
func (b *RedisBroker) channel() string       { return b.opts.KeyPrefix + ":revocations" }

func (b *RedisBroker) ensureGroup(ctx context.Context, lane Lane) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[lane] {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, b.streamKey(lane), b.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group for %s: %w", lane, err)
	}
	b.groups[lane] = true
	return nil
}

func (b *RedisBroker) Enqueue(ctx context.Context, task Task) (string, error) {
	task, err := prepare(task)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	args := &redis.XAddArgs{Stream: b.streamKey(task.Lane), Values: map[string]any{"data": string(payload)}}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s task: %w", task.Stage, err)
	}
	return task.ID, nil
}

func (b *RedisBroker) Receive(ctx context.Context, lane Lane, consumer string) (*Delivery, error) {
	if err := b.ensureGroup(ctx, lane); err != nil {
		return nil, err
	}
	stream := b.streamKey(lane)

	claimed, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    b.opts.Group,
		Consumer: consumer,
		MinIdle:  b.opts.VisibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reclaim %s: %w", lane, err)
	}
	if len(claimed) > 0 {
		return b.deliver(ctx, lane, claimed[0])
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.opts.Group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    b.opts.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", lane, err)
	}
	for _, s := range res {
		for _, msg := range s.Messages {
			return b.deliver(ctx, lane, msg)
		}
	}
	return nil, nil
}

func (b *RedisBroker) deliver(ctx context.Context, lane Lane, msg redis.XMessage) (*Delivery, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		// Unreadable entries are dropped rather than redelivered forever.
		_ = b.client.XAck(ctx, b.streamKey(lane), b.opts.Group, msg.ID).Err()
		return nil, fmt.Errorf("task %s has no payload", msg.ID)
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		_ = b.client.XAck(ctx, b.streamKey(lane), b.opts.Group, msg.ID).Err()
		return nil, fmt.Errorf("decode task %s: %w", msg.ID, err)
	}
	// Counted per stream entry: a follow-up re-enqueued under an existing
	// handle must not share or clear another entry's count.
	count, err := b.client.HIncrBy(ctx, b.deliveriesKey(), msg.ID, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("count delivery: %w", err)
	}
	return &Delivery{
		Task:      task,
		Count:     int(count),
		Exhausted: int(count) > b.opts.MaxDeliveries,
		ref:       msg.ID,
	}, nil
}

func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	stream := b.streamKey(d.Task.Lane)
	pipe := b.client.TxPipeline()
	pipe.XAck(ctx, stream, b.opts.Group, d.ref)
	pipe.XDel(ctx, stream, d.ref)
	pipe.HDel(ctx, b.deliveriesKey(), d.ref)
	pipe.SRem(ctx, b.revokedKey(), d.Task.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack task %s: %w", d.Task.ID, err)
	}
	return nil
}

func (b *RedisBroker) Revoke(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if err := b.client.SAdd(ctx, b.revokedKey(), handle).Err(); err != nil {
		return fmt.Errorf("revoke %s: %w", handle, err)
	}
	if err := b.client.Publish(ctx, b.channel(), handle).Err(); err != nil {
		return fmt.Errorf("publish revocation %s: %w", handle, err)
	}
	return nil
}

func (b *RedisBroker) Revoked(ctx context.Context, handle string) (bool, error) {
	ok, err := b.client.SIsMember(ctx, b.revokedKey(), handle).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation %s: %w", handle, err)
	}
	return ok, nil
}

func (b *RedisBroker) Watch(ctx context.Context, fn func(handle string)) error {
	sub := b.client.Subscribe(ctx, b.channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe revocations: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op; the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }
