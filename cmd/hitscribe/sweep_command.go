package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hitscribe/internal/artifacts"
	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/retention"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var loop bool
	var ttlOverride time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete artifacts of jobs older than the retention TTL",
		Long: "Delete artifacts of jobs older than the retention TTL. Job records are kept.\n" +
			"Only one sweeper may run at a time; a second instance exits immediately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg, "hitscribe-sweeper")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			lock, err := retention.AcquireLock(cfg.Retention.LockPath)
			if errors.Is(err, retention.ErrLocked) {
				return fmt.Errorf("another sweeper holds %s", cfg.Retention.LockPath)
			}
			if err != nil {
				return err
			}
			defer lock.Release() //nolint:errcheck

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			store, err := jobs.Open(runCtx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()
			art, err := artifacts.New(runCtx, cfg, logger)
			if err != nil {
				return fmt.Errorf("open artifact store: %w", err)
			}

			ttl := cfg.ArtifactTTL()
			if ttlOverride > 0 {
				ttl = ttlOverride
			}
			sweeper := retention.NewSweeper(store, art, ttl, cfg.SweepInterval(), logger).WithWorkDir(cfg.Paths.WorkDir)
			if loop {
				return sweeper.Run(runCtx)
			}

			report, err := sweeper.Sweep(runCtx, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Swept %d of %d jobs older than %s (%d files removed, %d failed, %d work dirs)\n",
				report.Swept, report.Examined, report.Cutoff.Format(time.RFC3339), report.Files, report.Failed, report.WorkDirs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "Keep sweeping on the configured interval")
	cmd.Flags().DurationVar(&ttlOverride, "ttl", 0, "Override retention.ttl_hours for this run")
	return cmd
}
