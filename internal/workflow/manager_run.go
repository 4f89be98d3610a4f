package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hitscribe/internal/logging"
	"hitscribe/internal/taskqueue"
)

// Start warms collaborators, then launches lane consumers and the
// revocation listeners.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker already running")
	}
	m.running = true
	m.mu.Unlock()

	for _, w := range m.warmers {
		if err := w.Warm(ctx); err != nil {
			logging.WarnWithContext(m.logger, "collaborator warm-up failed", "warmup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "first heavy task will pay the model load cost"),
				logging.String(logging.FieldErrorHint, "check inference service availability"),
			)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(2)
	go m.watchRevocations(runCtx)
	go m.pollRevocations(runCtx)
	for lane, n := range m.opts.Concurrency {
		for i := 0; i < n; i++ {
			consumer := fmt.Sprintf("%s-%s-%d", m.opts.ConsumerName, lane, i)
			m.wg.Add(1)
			go m.runLane(runCtx, lane, consumer)
		}
		m.logger.Info("lane started",
			logging.String(logging.FieldLane, string(lane)),
			logging.Int("concurrency", n),
		)
	}
	return nil
}

// Stop cancels consumers and waits for in-flight tasks to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Manager) runLane(ctx context.Context, lane taskqueue.Lane, consumer string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldLane, string(lane)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := m.broker.Receive(ctx, lane, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleReceiveError(ctx, logger, err)
			continue
		}
		if delivery == nil {
			continue
		}
		m.process(ctx, logger, delivery)
	}
}

func (m *Manager) process(ctx context.Context, logger *slog.Logger, d *taskqueue.Delivery) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.track(d.Task.ID, cancel)

	taskLogger := logger.With(
		logging.String(logging.FieldJobID, d.Task.JobID),
		logging.String(logging.FieldStage, d.Task.Stage),
		logging.String(logging.FieldTaskID, d.Task.ID),
	)

	var err error
	if d.Exhausted {
		logging.WarnWithContext(taskLogger, "task exceeded delivery limit", "task_exhausted",
			logging.Int("deliveries", d.Count),
			logging.String(logging.FieldImpact, "job will be marked failed"),
		)
		err = m.handler.Exhausted(taskCtx, d.Task)
	} else {
		err = m.handler.Handle(taskCtx, d.Task)
	}
	revoked := m.untrack(d.Task.ID)

	if err != nil && !revoked {
		if ctx.Err() != nil {
			taskLogger.Info("worker stopping; task left for redelivery")
			return
		}
		m.setLastError(err)
		logging.ErrorWithContext(taskLogger, "task handling failed; leaving for redelivery", "task_failed",
			logging.Error(err),
			logging.Int("deliveries", d.Count),
			logging.String(logging.FieldErrorHint, "check database and queue connectivity"),
		)
		return
	}
	if revoked {
		taskLogger.Info("revoked task cancelled", logging.String(logging.FieldEventType, "task_revoked"))
	}
	if err := m.broker.Ack(context.WithoutCancel(ctx), d); err != nil {
		m.setLastError(err)
		taskLogger.Error("task ack failed", logging.Error(err))
		return
	}
	m.mu.Lock()
	m.handled++
	m.mu.Unlock()
}

func (m *Manager) handleReceiveError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to receive task",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_receive_failed"),
		logging.String(logging.FieldErrorHint, "check redis connectivity"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.opts.ErrorRetryInterval):
	}
}

func (m *Manager) watchRevocations(ctx context.Context) {
	defer m.wg.Done()
	for {
		err := m.broker.Watch(ctx, func(handle string) {
			if m.revoke(handle) {
				m.logger.Info("cancelling revoked in-flight task", logging.String(logging.FieldTaskID, handle))
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Warn("revocation listener stopped; restarting", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.ErrorRetryInterval):
		}
	}
}

func (m *Manager) pollRevocations(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.RevocationPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, id := range m.inflightIDs() {
			revoked, err := m.broker.Revoked(ctx, id)
			if err != nil {
				m.logger.Debug("revocation check failed", logging.Error(err))
				continue
			}
			if revoked && m.revoke(id) {
				m.logger.Info("cancelling revoked in-flight task", logging.String(logging.FieldTaskID, id))
			}
		}
	}
}
