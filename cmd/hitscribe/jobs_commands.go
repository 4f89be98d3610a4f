package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hitscribe/internal/jobs"
	"hitscribe/internal/logging"
	"hitscribe/internal/pipeline"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsDeleteCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	return jobsCmd
}

func (c *commandContext) withStore(cmd *cobra.Command, fn func(context.Context, *jobs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobs.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()
	return fn(cmd.Context(), store)
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var user string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := jobs.Filter{User: user, Limit: limit}
			for _, value := range statusFlags {
				status, ok := jobs.ParseStatus(value)
				if !ok {
					return fmt.Errorf("unknown status %q", value)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStore(cmd, func(c context.Context, store *jobs.Store) error {
				list, err := store.List(c, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, job := range list {
					rows = append(rows, []string{
						job.ID,
						string(job.Status),
						strconv.Itoa(job.Progress) + "%",
						string(job.InputType),
						truncate(job.Title, 32),
						job.UserIdentifier,
						job.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Status", "Progress", "Input", "Title", "User", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&user, "user", "", "Filter by user identifier")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to show")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, store *jobs.Store) error {
				job, err := store.Get(c, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderPairs(jobDetails(job)))
				return nil
			})
		},
	}
}

func jobDetails(job *jobs.Job) [][2]string {
	pairs := [][2]string{
		{"ID", job.ID},
		{"Status", string(job.Status)},
		{"Stage", dash(pipeline.CurrentStage(job.Status))},
		{"Progress", strconv.Itoa(job.Progress) + "%"},
		{"Title", dash(job.Title)},
		{"Input", string(job.InputType)},
	}
	if job.FetchURL != "" {
		pairs = append(pairs, [2]string{"Fetch URL", job.FetchURL})
	} else {
		pairs = append(pairs, [2]string{"Upload", dash(job.UploadFilename)})
	}
	if job.UserTempo != nil {
		pairs = append(pairs, [2]string{"Requested tempo", strconv.Itoa(*job.UserTempo)})
	}
	if job.DetectedTempo != nil {
		tempo := strconv.FormatFloat(*job.DetectedTempo, 'f', 1, 64)
		if job.TempoUnreliable {
			tempo += " (unreliable)"
		}
		pairs = append(pairs, [2]string{"Detected tempo", tempo})
	}
	if job.ConfidenceScore != nil {
		pairs = append(pairs, [2]string{"Confidence", strconv.FormatFloat(*job.ConfidenceScore, 'f', 2, 64)})
	}
	if len(job.HitSummary) > 0 {
		pairs = append(pairs, [2]string{"Hits", formatSummary(job.HitSummary)})
	}
	if len(job.Warnings) > 0 {
		pairs = append(pairs, [2]string{"Warnings", strings.Join(job.Warnings, "\n")})
	}
	pairs = append(pairs,
		[2]string{"MusicXML", dash(job.NotationPath)},
		[2]string{"PDF", dash(job.SecondaryPath)},
		[2]string{"Webhook", yesNo(job.WebhookURL != "")},
	)
	if job.ComputeTimeMs != nil {
		pairs = append(pairs, [2]string{"Compute time", (time.Duration(*job.ComputeTimeMs) * time.Millisecond).String()})
	}
	if job.ErrorMessage != "" {
		pairs = append(pairs, [2]string{"Error", job.ErrorMessage})
	}
	pairs = append(pairs,
		[2]string{"User", job.UserIdentifier},
		[2]string{"Created", job.CreatedAt.Local().Format(time.RFC3339)},
		[2]string{"Updated", job.UpdatedAt.Local().Format(time.RFC3339)},
	)
	return pairs
}

func newJobsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Cancel a job and remove its record and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.coord.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
			return nil
		},
	}
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(c context.Context, store *jobs.Store) error {
				stats, err := store.Stats(c)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(stats))
				total := 0
				for _, status := range jobs.AllStatuses() {
					rows = append(rows, []string{string(status), strconv.Itoa(stats[status])})
					total += stats[status]
				}
				rows = append(rows, []string{"total", strconv.Itoa(total)})
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func formatSummary(summary map[string]int) string {
	labels := make([]string, 0, len(summary))
	for label := range summary {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s=%d", label, summary[label]))
	}
	return strings.Join(parts, " ")
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
