package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribed/internal/client"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				status, err := c.Status(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				runKind := statusError
				runMsg := "not running"
				if status.Running {
					runKind = statusOK
					runMsg = fmt.Sprintf("pid %d", status.PID)
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", runKind, runMsg, colorize))
				fmt.Fprintln(out, renderStatusLine("Job catalog", statusInfo, status.JobDBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
				fmt.Fprintln(out, renderStatusLine("Cache version", statusInfo, fmt.Sprintf("%d", status.CacheVersion), colorize))

				if len(status.QueueStats) > 0 {
					for _, line := range renderSectionHeader("Queue", colorize) {
						fmt.Fprintln(out, line)
					}
					rows := buildStatsRows(status.QueueStats)
					fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				}

				if len(status.Dependencies) > 0 {
					for _, line := range renderSectionHeader("Dependencies", colorize) {
						fmt.Fprintln(out, line)
					}
					for _, dep := range status.Dependencies {
						kind := statusOK
						message := dep.Command
						if !dep.Available {
							kind = statusError
							if dep.Optional {
								kind = statusWarn
							}
							message = dep.Detail
						}
						fmt.Fprintln(out, renderStatusLine(dep.Name, kind, message, colorize))
					}
				}
				return nil
			})
		},
	}
}
