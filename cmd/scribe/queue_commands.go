package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"scribed/internal/api"
	"scribed/internal/client"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(ctx, cmd)
		},
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueReorderCommand(ctx))
	queueCmd.AddCommand(newQueueJobsCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the backlog in scheduling order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(ctx, cmd)
		},
	}
}

func runQueueList(ctx *commandContext, cmd *cobra.Command) error {
	return ctx.withClient(func(c *client.Client) error {
		summary, err := c.Queue(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if summary.Running != nil {
			job := summary.Running
			fmt.Fprintf(out, "Running: %s (%s, %.1f%%) %s\n",
				job.ID, job.Progress.Phase, job.Progress.Percent, shortPath(job.SourceFile))
		}
		if summary.Interrupted != "" {
			fmt.Fprintf(out, "Interrupted: %s (resumes after the forced job finishes)\n", summary.Interrupted)
		}

		if len(summary.Queue) == 0 {
			fmt.Fprintln(out, "Queue is empty")
		} else {
			rows := make([][]string, 0, len(summary.Queue))
			for i, job := range summary.Queue {
				rows = append(rows, []string{
					fmt.Sprintf("%d", i+1),
					job.ID,
					shortPath(job.SourceFile),
					job.Status,
					job.Settings.Model,
				})
			}
			table := renderTable(
				[]string{"#", "ID", "Source", "Status", "Model"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintln(out, table)
		}

		if len(summary.Stats) > 0 {
			rows := buildStatsRows(summary.Stats)
			table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprintln(out, table)
		}
		return nil
	})
}

func buildStatsRows(stats map[string]int) [][]string {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func newQueueReorderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <job-id>...",
		Short: "Replace the backlog order",
		Long:  "Replace the backlog order. Every queued job must be listed exactly once.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				if err := c.Reorder(cmd.Context(), args); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue reordered")
				return nil
			})
		},
	}
}

func newQueueJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List catalog records, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				records, err := c.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, job := range records {
					rows = append(rows, buildJobRow(job))
				}
				table := renderTable(
					[]string{"ID", "Source", "Status", "Phase", "Progress", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	return cmd
}

func buildJobRow(job api.JobView) []string {
	return []string{
		job.ID,
		shortPath(job.SourceFile),
		job.Status,
		job.Progress.Phase,
		fmt.Sprintf("%.1f%%", job.Progress.Percent),
		job.CreatedAt,
	}
}
