package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hitscribe/internal/api"
	"hitscribe/internal/config"
	"hitscribe/internal/logging"
	"hitscribe/internal/taskqueue"
	"hitscribe/internal/workflow"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Run the HTTP API. With the memory queue backend, stage workers always run\n" +
			"in the same process because tasks cannot leave it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.API.Bind = bind
			}
			logger, err := logging.NewFromConfig(cfg, "hitscribe-api")
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

			if withWorker || cfg.Queue.Backend == config.QueueMemory {
				mgr := workflow.NewManager(rt.broker, rt.coord, workflow.OptionsFromConfig(cfg, taskqueue.Lanes()...), logger, rt.inference)
				if err := mgr.Start(runCtx); err != nil {
					return err
				}
				defer mgr.Stop()
			}

			server := api.NewServer(cfg.API.Bind, api.NewRouter(rt.apiDeps()), logger)
			if err := server.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hitscribe API listening on %s\n", server.Addr())

			<-runCtx.Done()
			server.Stop()
			logger.Info("hitscribe api shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Listen address (overrides api.bind)")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also run stage workers in this process")
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
