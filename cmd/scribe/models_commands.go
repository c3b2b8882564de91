package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scribed/internal/api"
	"scribed/internal/client"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and warm the model cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsList(ctx, cmd)
		},
	}

	modelsCmd.AddCommand(newModelsListCommand(ctx))
	modelsCmd.AddCommand(newModelsPreloadCommand(ctx))

	return modelsCmd
}

func newModelsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show cached models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelsList(ctx, cmd)
		},
	}
}

func runModelsList(ctx *commandContext, cmd *cobra.Command) error {
	return ctx.withClient(func(c *client.Client) error {
		view, err := c.Models(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if len(view.Entries) == 0 {
			fmt.Fprintln(out, "Model cache is empty")
		} else {
			rows := make([][]string, 0, len(view.Entries))
			for _, entry := range view.Entries {
				rows = append(rows, []string{
					entry.Model,
					entry.ComputeType,
					entry.Device,
					fmt.Sprintf("%d MB", entry.EstMemoryMB),
					entry.LastUsed,
				})
			}
			table := renderTable(
				[]string{"Model", "Compute", "Device", "Est. Memory", "Last Used"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(out, table)
		}

		fmt.Fprintf(out, "Cache version: %d\n", view.Version)
		if view.Preload.InProgress {
			fmt.Fprintf(out, "Preload in progress: %s (%d/%d)\n",
				view.Preload.CurrentTarget, view.Preload.Loaded, view.Preload.Total)
		}
		if view.Preload.FailureAttempts > 0 {
			fmt.Fprintf(out, "Consecutive failed preload runs: %d\n", view.Preload.FailureAttempts)
		}
		for _, msg := range view.Preload.Errors {
			fmt.Fprintf(out, "Preload error: %s\n", msg)
		}
		return nil
	})
}

func newModelsPreloadCommand(ctx *commandContext) *cobra.Command {
	var computeType string
	var device string

	cmd := &cobra.Command{
		Use:   "preload [model]...",
		Short: "Warm models into the cache",
		Long:  "Warm models into the cache. Without arguments the configured default model is warmed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.PreloadRequest{}
			for _, name := range args {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				req.Targets = append(req.Targets, api.PreloadTarget{
					Model:       name,
					ComputeType: computeType,
					Device:      device,
				})
			}

			return ctx.withClient(func(c *client.Client) error {
				view, err := c.Preload(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if view.InProgress {
					fmt.Fprintf(out, "Preload started (%d targets)\n", view.Total)
				} else {
					fmt.Fprintln(out, "Preload started")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&computeType, "compute-type", "", "Inference precision for the targets")
	cmd.Flags().StringVar(&device, "device", "", "Inference device for the targets")
	return cmd
}
