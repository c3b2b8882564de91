package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scribed/internal/api"
	"scribed/internal/client"
	"scribed/internal/config"
	"scribed/internal/subtitlelang"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var model string
	var computeType string
	var device string
	var batchSize int
	var wordTimestamps bool
	var language string

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Queue a media file for subtitle generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			if !filepath.IsAbs(source) {
				abs, absErr := filepath.Abs(source)
				if absErr != nil {
					return fmt.Errorf("resolve source path: %w", absErr)
				}
				source = abs
			}

			req := api.CreateJobRequest{
				SourceFile:  source,
				Model:       model,
				ComputeType: computeType,
				Device:      device,
				BatchSize:   batchSize,
				Language:    language,
			}
			if cmd.Flags().Changed("word-timestamps") {
				req.WordTimestamps = &wordTimestamps
			}

			return ctx.withClient(func(c *client.Client) error {
				job, err := c.CreateJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Queued %s as job %s\n", filepath.Base(job.SourceFile), job.ID)
				fmt.Fprintf(out, "Model %s (%s on %s)\n", job.Settings.Model, job.Settings.ComputeType, job.Settings.Device)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Whisper model name")
	cmd.Flags().StringVar(&computeType, "compute-type", "", "Inference precision")
	cmd.Flags().StringVar(&device, "device", "", "Inference device")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Transcription batch size")
	cmd.Flags().BoolVar(&wordTimestamps, "word-timestamps", false, "Emit word-level timestamps")
	cmd.Flags().StringVar(&language, "language", "", "Override language detection")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show details for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.DescribeJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printJob(cmd, job)
				return nil
			})
		},
	}
}

func printJob(cmd *cobra.Command, job *api.JobView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s\n", job.ID)
	fmt.Fprintf(out, "  Source:     %s\n", job.SourceFile)
	fmt.Fprintf(out, "  Status:     %s\n", job.Status)
	fmt.Fprintf(out, "  Phase:      %s (%.1f%%)\n", job.Progress.Phase, job.Progress.Percent)
	if job.Progress.Message != "" {
		fmt.Fprintf(out, "  Message:    %s\n", job.Progress.Message)
	}
	if job.TotalSegments > 0 {
		fmt.Fprintf(out, "  Segments:   %d/%d\n", job.ProcessedSegments, job.TotalSegments)
	}
	fmt.Fprintf(out, "  Model:      %s (%s on %s)\n", job.Settings.Model, job.Settings.ComputeType, job.Settings.Device)
	if job.DetectedLanguage != "" {
		if name := subtitlelang.DisplayName(job.DetectedLanguage); name != "" {
			fmt.Fprintf(out, "  Language:   %s (%s)\n", job.DetectedLanguage, name)
		} else {
			fmt.Fprintf(out, "  Language:   %s\n", job.DetectedLanguage)
		}
	}
	if job.ResultPath != "" {
		fmt.Fprintf(out, "  Subtitles:  %s\n", job.ResultPath)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:      %s\n", job.ErrorMessage)
	}
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <job-id>",
		Short: "Pause a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.Pause(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job.Status == "processing" {
					fmt.Fprintf(cmd.OutOrStdout(), "Pause requested for %s; it stops at the next segment boundary\n", job.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Paused %s\n", job.ID)
				}
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var deleteData bool

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				if err := c.Cancel(cmd.Context(), args[0], deleteData); err != nil {
					return err
				}
				if deleteData {
					fmt.Fprintf(cmd.OutOrStdout(), "Canceled %s and deleted its data\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Canceled %s\n", args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&deleteData, "delete-data", false, "Also remove the work directory and catalog record")
	return cmd
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "restart <job-id>",
		Aliases: []string{"start"},
		Short:   "Re-queue a paused or failed job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.Restart(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restarted %s (resumes from %d/%d segments)\n",
					job.ID, job.ProcessedSegments, job.TotalSegments)
				return nil
			})
		},
	}
}

func newPrioritizeCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "prioritize <job-id>",
		Short: "Move a queued job to the head of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := "gentle"
			if force {
				mode = "force"
			}
			return ctx.withClient(func(c *client.Client) error {
				job, err := c.Prioritize(cmd.Context(), args[0], mode)
				if err != nil {
					return err
				}
				if force {
					fmt.Fprintf(cmd.OutOrStdout(), "Prioritized %s; the running job is suspended and resumes afterwards\n", job.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Prioritized %s\n", job.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Suspend the running job so this one runs next")
	return cmd
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				if err := c.TestNotification(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				return nil
			})
		},
	}
}

func shortPath(path string) string {
	base := filepath.Base(path)
	if strings.TrimSpace(base) == "" || base == "." {
		return path
	}
	return base
}
