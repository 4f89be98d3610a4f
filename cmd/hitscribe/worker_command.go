package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hitscribe/internal/deps"
	"hitscribe/internal/logging"
	"hitscribe/internal/taskqueue"
	"hitscribe/internal/workflow"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var laneNames []string
	var consumer string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume stage tasks",
		Long: "Consume stage tasks from the selected lanes. Run separate workers for the\n" +
			"heavy lane on hosts with model hardware.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lanes, err := parseLanes(laneNames)
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg, "hitscribe-worker")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := openRuntime(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, missing := range deps.Missing(deps.CheckBinaries(deps.Requirements(cfg.Tools))) {
				logging.WarnWithContext(logger, "required tool unavailable", "dependency_missing",
					logging.String("tool", missing.Name),
					logging.String("detail", missing.Detail),
					logging.String(logging.FieldImpact, "ingest or fetch stages will fail"),
					logging.String(logging.FieldErrorHint, "install the tool or set its path under [tools]"),
				)
			}

			opts := workflow.OptionsFromConfig(cfg, lanes...)
			if consumer != "" {
				opts.ConsumerName = consumer
			}
			var warmers []workflow.Warmer
			for _, lane := range lanes {
				if lane == taskqueue.LaneHeavy {
					warmers = append(warmers, rt.inference)
				}
			}
			mgr := workflow.NewManager(rt.broker, rt.coord, opts, logger, warmers...)
			if err := mgr.Start(runCtx); err != nil {
				return err
			}

			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					mgr.Stop()
					status := mgr.Status()
					logger.Info("hitscribe worker shutting down",
						logging.Int64("handled", status.Handled),
						logging.Int("in_flight", status.InFlight),
					)
					return nil
				case <-ticker.C:
					status := mgr.Status()
					logger.Debug("worker status",
						logging.Int64("handled", status.Handled),
						logging.Int("in_flight", status.InFlight),
						logging.String("last_error", status.LastError),
					)
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&laneNames, "lane", nil, "Lanes to consume (default, heavy); repeatable, defaults to all")
	cmd.Flags().StringVar(&consumer, "consumer", "", "Consumer name prefix (defaults to host-pid)")
	return cmd
}

func parseLanes(names []string) ([]taskqueue.Lane, error) {
	if len(names) == 0 {
		return taskqueue.Lanes(), nil
	}
	lanes := make([]taskqueue.Lane, 0, len(names))
	seen := make(map[taskqueue.Lane]bool, len(names))
	for _, name := range names {
		lane, err := taskqueue.ParseLane(name)
		if err != nil {
			return nil, err
		}
		if !seen[lane] {
			seen[lane] = true
			lanes = append(lanes, lane)
		}
	}
	return lanes, nil
}
