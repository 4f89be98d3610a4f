package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/config"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/metrics"
	"hitscribe/internal/notation"
	"hitscribe/internal/services"
	"hitscribe/internal/stage"
	"hitscribe/internal/taskqueue"
)

// JobStore is the subset of the job record store the coordinator needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Transition(ctx context.Context, id string, from []jobs.Status, patch jobs.Patch) (bool, error)
	TransitionOwned(ctx context.Context, id string, from []jobs.Status, handle string, patch jobs.Patch) (bool, error)
	Delete(ctx context.Context, id string) error
}

// Notifier delivers terminal-state callbacks.
type Notifier interface {
	Notify(ctx context.Context, jobID, url string)
}

// Settings shape stage results.
type Settings struct {
	ModelVersion           string
	LowConfidenceThreshold float64
	DefaultTempo           int
	DefaultTitle           string
	WorkDir                string
}

// SettingsFromConfig extracts coordinator settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ModelVersion:           cfg.Pipeline.ModelVersion,
		LowConfidenceThreshold: cfg.Pipeline.LowConfidenceThreshold,
		DefaultTempo:           cfg.Pipeline.DefaultTempo,
		DefaultTitle:           cfg.Pipeline.DefaultTitle,
		WorkDir:                cfg.Paths.WorkDir,
	}
}

// Deps wires a Coordinator. Store, Artifacts, Broker, Validator, Separator
// and Predictor are required.
type Deps struct {
	Store     JobStore
	Artifacts artifacts.Store
	Broker    taskqueue.Broker
	Metrics   metrics.Recorder
	Notifier  Notifier
	Fetcher   Fetcher
	Validator Validator
	Separator Separator
	Predictor Predictor
	Renderer  Renderer
	Exporter  Exporter
	Settings  Settings
	Logger    *slog.Logger
}

// Coordinator owns the job state machine. Each stage task it handles
// advances the record and, on success, enqueues the next stage itself.
type Coordinator struct {
	store     JobStore
	artifacts artifacts.Store
	broker    taskqueue.Broker
	metrics   metrics.Recorder
	notifier  Notifier
	fetcher   Fetcher
	validator Validator
	separator Separator
	predictor Predictor
	renderer  Renderer
	exporter  Exporter
	settings  Settings
	logger    *slog.Logger
	now       func() time.Time

	webhooks sync.WaitGroup
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string) {}

// New validates deps and returns a coordinator.
func New(d Deps) (*Coordinator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("coordinator requires a job store")
	case d.Artifacts == nil:
		return nil, errors.New("coordinator requires an artifact store")
	case d.Broker == nil:
		return nil, errors.New("coordinator requires a task broker")
	case d.Validator == nil || d.Separator == nil || d.Predictor == nil:
		return nil, errors.New("coordinator requires validator, separator and predictor")
	}
	c := &Coordinator{
		store:     d.Store,
		artifacts: d.Artifacts,
		broker:    d.Broker,
		metrics:   d.Metrics,
		notifier:  d.Notifier,
		fetcher:   d.Fetcher,
		validator: d.Validator,
		separator: d.Separator,
		predictor: d.Predictor,
		renderer:  d.Renderer,
		exporter:  d.Exporter,
		settings:  d.Settings,
		logger:    d.Logger,
		now:       time.Now,
	}
	if c.metrics == nil {
		c.metrics = metrics.NewMemory()
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.renderer == nil {
		c.renderer = notation.NewMusicXML()
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.logger = logging.NewComponentLogger(c.logger, "coordinator")
	if c.settings.DefaultTempo <= 0 {
		c.settings.DefaultTempo = 120
	}
	if c.settings.DefaultTitle == "" {
		c.settings.DefaultTitle = "Untitled"
	}
	return c, nil
}

// Dispatch records a fresh ingest handle on a queued job and enqueues it.
func (c *Coordinator) Dispatch(ctx context.Context, jobID string) (string, error) {
	spec := stageTable[0]
	handle := uuid.NewString()
	ok, err := c.store.Transition(ctx, jobID, []jobs.Status{jobs.StatusQueued}, jobs.Patch{TaskHandle: &handle})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: job %s is not queued", jobs.ErrInvalidTransition, jobID)
	}
	if _, err := c.broker.Enqueue(ctx, taskqueue.Task{ID: handle, JobID: jobID, Stage: spec.name, Lane: spec.lane}); err != nil {
		return "", fmt.Errorf("dispatch job %s: %w", jobID, err)
	}
	logging.WithContext(services.WithJobID(ctx, jobID), c.logger).Info("job dispatched",
		logging.String(logging.FieldEventType, "job_dispatched"),
		logging.String(logging.FieldTaskID, handle),
	)
	return handle, nil
}

// Handle runs one stage task. A nil error means the task is finished and may
// be acknowledged, including when it was dropped as stale. A non-nil error
// means infrastructure failed and the task should be redelivered.
func (c *Coordinator) Handle(ctx context.Context, task taskqueue.Task) error {
	spec, ok := lookupStage(task.Stage)
	if !ok {
		c.logger.Warn("unknown stage; dropping task",
			logging.String(logging.FieldStage, task.Stage),
			logging.String(logging.FieldTaskID, task.ID),
		)
		return nil
	}
	ctx = services.WithStage(services.WithJobID(ctx, task.JobID), spec.name)
	ctx = services.WithLane(ctx, string(spec.lane))
	logger := logging.WithContext(ctx, c.logger).With(logging.String(logging.FieldTaskID, task.ID))

	revoked, err := c.broker.Revoked(ctx, task.ID)
	if err != nil {
		return err
	}
	if revoked {
		logger.Info("task revoked; dropping", logging.String(logging.FieldEventType, "task_dropped"))
		c.cleanupIfGone(ctx, logger, task.JobID)
		return nil
	}

	job, err := c.store.Get(ctx, task.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		logger.Info("job no longer exists; dropping task", logging.String(logging.FieldEventType, "task_dropped"))
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		logger.Debug("job already terminal; dropping task", logging.String("status", string(job.Status)))
		return nil
	}
	if job.TaskHandle != task.ID {
		return c.recoverOrDrop(ctx, logger, spec, job, task)
	}

	switch job.Status {
	case spec.from:
		applied, err := c.store.TransitionOwned(ctx, job.ID, []jobs.Status{spec.from}, task.ID, jobs.Patch{
			Status:   jobs.Ptr(spec.status),
			Progress: jobs.Ptr(spec.entry),
		})
		if err != nil {
			return err
		}
		if !applied {
			return c.lostRace(ctx, logger, job.ID)
		}
		job.Status = spec.status
	case spec.status:
		logger.Info("resuming stage after redelivery", logging.Int("attempt", task.Attempt))
	default:
		logging.WarnWithContext(logger, "job status does not match stage; dropping task", "task_dropped",
			logging.String("status", string(job.Status)),
		)
		return nil
	}

	started := c.now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("attempt", task.Attempt),
	)
	outcome := c.run(ctx, logger, spec, job)
	if err := c.metrics.ObserveStage(context.WithoutCancel(ctx), spec.name, c.now().Sub(started)); err != nil {
		logger.Debug("stage timing not recorded", logging.Error(err))
	}
	if err := ctx.Err(); err != nil {
		logger.Info("stage interrupted", logging.Error(err))
		c.cleanupIfGone(context.WithoutCancel(ctx), logger, job.ID)
		return err
	}

	switch o := outcome.(type) {
	case stage.Success:
		return c.complete(ctx, logger, spec, job, task, o, started)
	case stage.Failure:
		return c.failOrRetry(ctx, logger, spec, job, task, o)
	default:
		return fmt.Errorf("stage %s returned unknown outcome %T", spec.name, outcome)
	}
}

func (c *Coordinator) run(ctx context.Context, logger *slog.Logger, spec stageSpec, job *jobs.Job) stage.Outcome {
	switch spec.name {
	case StageIngest:
		return c.ingest(ctx, spec, job)
	case StageSeparate:
		return c.separate(ctx, spec, job)
	case StagePredict:
		return c.predict(ctx, spec, job)
	case StageTranscribe:
		return c.transcribe(ctx, logger, spec, job)
	}
	return stage.Failure{Stage: spec.label, Reason: "no handler for stage " + spec.name}
}

// recoverOrDrop handles a task whose handle no longer matches the record.
// If the record shows this stage committed but its follow-up task may not
// have been enqueued, the follow-up is re-enqueued under the recorded handle.
// Brokers count deliveries per queue entry, so a duplicate follow-up has its
// own redelivery budget. Its first Ack does clear a pending revocation of the
// handle; a deleted job is still dropped when the next delivery finds no record.
func (c *Coordinator) recoverOrDrop(ctx context.Context, logger *slog.Logger, spec stageSpec, job *jobs.Job, task taskqueue.Task) error {
	if spec.next != "" && job.Status == spec.status && job.Progress >= spec.exit && job.TaskHandle != "" {
		next, _ := lookupStage(spec.next)
		if _, err := c.broker.Enqueue(ctx, taskqueue.Task{ID: job.TaskHandle, JobID: job.ID, Stage: next.name, Lane: next.lane}); err != nil {
			return err
		}
		logger.Info("re-enqueued follow-up stage after redelivery",
			logging.String("next_stage", next.name),
			logging.String("next_task_id", job.TaskHandle),
		)
		return nil
	}
	logger.Debug("stale task; dropping",
		logging.String("current_task_id", job.TaskHandle),
		logging.String("status", string(job.Status)),
	)
	return nil
}

func (c *Coordinator) complete(ctx context.Context, logger *slog.Logger, spec stageSpec, job *jobs.Job, task taskqueue.Task, o stage.Success, started time.Time) error {
	if spec.next == "" {
		return c.finalize(ctx, logger, spec, job, task, o)
	}
	next, _ := lookupStage(spec.next)
	nextID := uuid.NewString()
	patch := o.Fields.Merge(jobs.Patch{Progress: jobs.Ptr(spec.exit), TaskHandle: &nextID})
	applied, err := c.store.TransitionOwned(ctx, job.ID, []jobs.Status{spec.status}, task.ID, patch)
	if err != nil {
		return err
	}
	if !applied {
		return c.lostRace(ctx, logger, job.ID)
	}
	if _, err := c.broker.Enqueue(ctx, taskqueue.Task{ID: nextID, JobID: job.ID, Stage: next.name, Lane: next.lane}); err != nil {
		return fmt.Errorf("enqueue %s: %w", next.name, err)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Bool("skipped", o.Skipped),
		logging.Int("progress", spec.exit),
		logging.String("next_stage", next.name),
		logging.Duration("stage_duration", c.now().Sub(started)),
	)
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, logger *slog.Logger, spec stageSpec, job *jobs.Job, task taskqueue.Task, o stage.Success) error {
	computeMs := c.now().Sub(job.CreatedAt).Milliseconds()
	if computeMs < 0 {
		computeMs = 0
	}
	patch := o.Fields.Merge(jobs.Patch{
		Status:        jobs.Ptr(jobs.StatusCompleted),
		Progress:      jobs.Ptr(spec.exit),
		ComputeTimeMs: &computeMs,
		TaskHandle:    jobs.Ptr(""),
	})
	applied, err := c.store.TransitionOwned(ctx, job.ID, []jobs.Status{spec.status}, task.ID, patch)
	if err != nil {
		return err
	}
	if !applied {
		return c.lostRace(ctx, logger, job.ID)
	}
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Int64("compute_time_ms", computeMs),
	)
	c.notify(ctx, job)
	return nil
}

func (c *Coordinator) failOrRetry(ctx context.Context, logger *slog.Logger, spec stageSpec, job *jobs.Job, task taskqueue.Task, f stage.Failure) error {
	if f.Retryable && task.Attempt < spec.retries {
		retryID := uuid.NewString()
		applied, err := c.store.TransitionOwned(ctx, job.ID, []jobs.Status{spec.status}, task.ID, jobs.Patch{TaskHandle: &retryID})
		if err != nil {
			return err
		}
		if !applied {
			return c.lostRace(ctx, logger, job.ID)
		}
		_, err = c.broker.Enqueue(ctx, taskqueue.Task{
			ID: retryID, JobID: job.ID, Stage: spec.name, Lane: spec.lane, Attempt: task.Attempt + 1,
		})
		if err == nil {
			logging.WarnWithContext(logger, "stage failed; retrying", "stage_retry",
				logging.String("reason", f.Reason),
				logging.Int("attempt", task.Attempt+1),
				logging.Error(f.Err),
			)
			return nil
		}
		logger.Error("retry enqueue failed; failing job", logging.Error(err))
		return c.fail(ctx, logger, spec, job, retryID, f.Reason, f.Err)
	}
	return c.fail(ctx, logger, spec, job, task.ID, f.Reason, f.Err)
}

// fail marks the job failed while owner still holds its task handle.
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, spec stageSpec, job *jobs.Job, owner, reason string, cause error) error {
	if reason == "" {
		reason = "unknown error"
	}
	message := fmt.Sprintf("%s: %s", spec.failPrefix, reason)
	applied, err := c.store.TransitionOwned(ctx, job.ID, []jobs.Status{spec.from, spec.status}, owner, jobs.Patch{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: &message,
		TaskHandle:   jobs.Ptr(""),
	})
	if err != nil {
		return err
	}
	if !applied {
		return c.lostRace(ctx, logger, job.ID)
	}
	if err := c.metrics.IncFailure(ctx, spec.label); err != nil {
		logger.Warn("failure counter not updated", logging.Error(err))
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_message", message),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "inspect the job's source audio and collaborator logs"),
	)
	c.notify(ctx, job)
	return nil
}

// Exhausted fails a job whose task exceeded the redelivery bound.
func (c *Coordinator) Exhausted(ctx context.Context, task taskqueue.Task) error {
	spec, ok := lookupStage(task.Stage)
	if !ok {
		return nil
	}
	ctx = services.WithStage(services.WithJobID(ctx, task.JobID), spec.name)
	logger := logging.WithContext(ctx, c.logger).With(logging.String(logging.FieldTaskID, task.ID))
	job, err := c.store.Get(ctx, task.JobID)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() || job.TaskHandle != task.ID {
		return nil
	}
	return c.fail(ctx, logger, spec, job, task.ID, "delivery attempts exhausted", nil)
}

// Cancel revokes an active job's task, removes its artifacts and deletes the
// record. Revocation is best effort; a running stage may finish its current
// step, but its record update will find the row gone.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) error {
	ctx = services.WithJobID(ctx, jobID)
	logger := logging.WithContext(ctx, c.logger)
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsActive() && job.TaskHandle != "" {
		if err := c.broker.Revoke(ctx, job.TaskHandle); err != nil {
			logging.WarnWithContext(logger, "task revocation failed", "revoke_failed",
				logging.String(logging.FieldTaskID, job.TaskHandle),
				logging.Error(err),
				logging.String(logging.FieldImpact, "a queued stage may still run and will be dropped when it finds the job gone"),
			)
		}
	}
	removed, err := c.artifacts.DeleteAll(ctx, jobID)
	if err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	if err := c.store.Delete(ctx, jobID); err != nil && !errors.Is(err, jobs.ErrNotFound) {
		return err
	}
	logger.Info("job deleted",
		logging.String(logging.FieldEventType, "job_deleted"),
		logging.String("status", string(job.Status)),
		logging.Int("artifacts_removed", removed),
	)
	return nil
}

// lostRace is called when a conditional update matched nothing. If the job
// was deleted mid-stage, artifacts written since are removed.
func (c *Coordinator) lostRace(ctx context.Context, logger *slog.Logger, jobID string) error {
	if c.cleanupIfGone(ctx, logger, jobID) {
		return nil
	}
	logger.Info("job moved on; dropping task", logging.String(logging.FieldEventType, "task_dropped"))
	return nil
}

func (c *Coordinator) cleanupIfGone(ctx context.Context, logger *slog.Logger, jobID string) bool {
	if _, err := c.store.Get(ctx, jobID); !errors.Is(err, jobs.ErrNotFound) {
		return false
	}
	removed, err := c.artifacts.DeleteAll(ctx, jobID)
	if err != nil {
		logger.Warn("orphaned artifacts not removed", logging.Error(err))
		return true
	}
	if removed > 0 {
		logger.Info("removed artifacts of deleted job", logging.Int("artifacts_removed", removed))
	}
	return true
}

func (c *Coordinator) notify(ctx context.Context, job *jobs.Job) {
	if job.WebhookURL == "" {
		return
	}
	// Delivery runs off the lane goroutine; the dispatcher bounds each attempt.
	detached := context.WithoutCancel(ctx)
	jobID, url := job.ID, job.WebhookURL
	c.webhooks.Go(func() {
		c.notifier.Notify(detached, jobID, url)
	})
}

// Wait blocks until webhook deliveries started so far have finished.
func (c *Coordinator) Wait() {
	c.webhooks.Wait()
}
