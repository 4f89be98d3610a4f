package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
)

// JobLister finds jobs created before a cutoff.
type JobLister interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*jobs.Job, error)
}

// ArtifactDeleter removes every artifact belonging to a job.
type ArtifactDeleter interface {
	DeleteAll(ctx context.Context, jobID string) (int, error)
}

// Report summarizes one sweep.
type Report struct {
	Cutoff   time.Time
	Examined int
	Swept    int
	Files    int
	Failed   int
	WorkDirs int
}

// Sweeper deletes artifacts for jobs older than the TTL.
type Sweeper struct {
	jobs      JobLister
	artifacts ArtifactDeleter
	ttl       time.Duration
	interval  time.Duration
	workDir   string
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper builds a sweeper. Zero durations fall back to 24h TTL and an hourly interval.
func NewSweeper(lister JobLister, artifacts ArtifactDeleter, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		jobs:      lister,
		artifacts: artifacts,
		ttl:       ttl,
		interval:  interval,
		logger:    logging.NewComponentLogger(logger, "retention"),
		now:       time.Now,
	}
}

// WithWorkDir also removes stale stage scratch directories under dir on
// every sweep.
func (s *Sweeper) WithWorkDir(dir string) *Sweeper {
	s.workDir = dir
	return s
}

// Sweep deletes artifacts for every job created before now minus the TTL.
// A failure on one job is logged and the sweep moves on. Records are kept.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	report := Report{Cutoff: now.Add(-s.ttl).UTC()}
	aged, err := s.jobs.ListOlderThan(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("list aged jobs: %w", err)
	}
	report.Examined = len(aged)

	for _, job := range aged {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		removed, err := s.artifacts.DeleteAll(ctx, job.ID)
		if err != nil {
			report.Failed++
			logging.WarnWithContext(s.logger, "artifact cleanup failed", "retention_job_failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "artifacts kept until next sweep"),
				logging.String(logging.FieldErrorHint, "check artifact storage permissions"),
			)
			continue
		}
		report.Swept++
		report.Files += removed
	}

	if s.workDir != "" {
		cleaned := CleanStale(ctx, s.workDir, s.ttl, s.logger)
		report.WorkDirs = len(cleaned.Removed)
	}

	s.logger.Info("retention sweep complete",
		logging.String(logging.FieldEventType, "retention_sweep"),
		logging.String("cutoff", report.Cutoff.Format(time.RFC3339)),
		logging.Int("examined", report.Examined),
		logging.Int("swept", report.Swept),
		logging.Int("files", report.Files),
		logging.Int("failed", report.Failed),
		logging.Int("work_dirs", report.WorkDirs),
	)
	return report, nil
}

// Run sweeps immediately and then on every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx, s.now()); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			s.logger.Error("retention sweep failed", logging.Error(err),
				logging.String(logging.FieldEventType, "retention_sweep_failed"))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
