package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"hitscribe/internal/admission"
	"hitscribe/internal/api"
	"hitscribe/internal/artifacts"
	"hitscribe/internal/config"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/media/audio"
	"hitscribe/internal/metrics"
	"hitscribe/internal/notifications"
	"hitscribe/internal/pipeline"
	"hitscribe/internal/services/engrave"
	"hitscribe/internal/services/inference"
	"hitscribe/internal/services/ytdlp"
	"hitscribe/internal/taskqueue"
)

// runtime holds the long-lived components shared by serve and worker.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *jobs.Store
	artifacts artifacts.Store
	redis     *redis.Client
	broker    taskqueue.Broker
	metrics   metrics.Recorder
	inference *inference.Client
	coord     *pipeline.Coordinator
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	store, err := jobs.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	rt.store = store

	if rt.artifacts, err = artifacts.New(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	if cfg.Queue.Backend == config.QueueRedis {
		rt.redis = taskqueue.NewRedisClient(cfg.Redis)
	}
	if rt.broker, err = taskqueue.New(ctx, cfg, rt.redis); err != nil {
		return nil, err
	}
	if rt.redis != nil {
		rt.metrics = metrics.NewRedisRecorder(rt.redis, cfg.Queue.KeyPrefix)
	} else {
		rt.metrics = metrics.NewMemory()
	}

	rt.inference = inference.NewClient(cfg.Inference)
	rt.coord, err = pipeline.New(pipeline.Deps{
		Store:     rt.store,
		Artifacts: rt.artifacts,
		Broker:    rt.broker,
		Metrics:   rt.metrics,
		Notifier:  notifications.NewDispatcher(rt.store, cfg.Webhook, logger),
		Fetcher: ytdlp.NewCLI(
			ytdlp.WithBinary(cfg.Tools.YTDLPBinary),
			ytdlp.WithTimeout(time.Duration(cfg.Tools.YTDLPTimeoutSeconds)*time.Second),
		),
		Validator: audio.NewValidator(cfg.Tools),
		Separator: rt.inference,
		Predictor: rt.inference,
		Exporter:  engrave.NewExporter(cfg.Tools, cfg.Paths.WorkDir),
		Settings:  pipeline.SettingsFromConfig(cfg),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return rt, nil
}

func (rt *runtime) apiDeps() api.Deps {
	checks := []api.Checker{{Name: "queue", Check: rt.broker.Ping}}
	if rt.cfg.Inference.BaseURL != "" {
		checks = append(checks, api.Checker{Name: "inference", Check: rt.inference.Check})
	}
	return api.Deps{
		Config:    rt.cfg,
		Store:     rt.store,
		Artifacts: rt.artifacts,
		Pipeline:  rt.coord,
		Admission: admission.New(rt.store, rt.cfg.Admission.MaxActivePerUser, rt.cfg.RetryAfter()),
		Metrics:   rt.metrics,
		Checks:    checks,
		Logger:    rt.logger,
	}
}

func (rt *runtime) Close() {
	if rt.coord != nil {
		rt.coord.Wait()
	}
	var errs []error
	if rt.broker != nil {
		errs = append(errs, rt.broker.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if err := errors.Join(errs...); err != nil && rt.logger != nil {
		rt.logger.Warn("runtime shutdown", logging.Error(err))
	}
}
