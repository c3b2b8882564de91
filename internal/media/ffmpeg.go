package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandResult captures one external command invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Toolkit runs the ffmpeg/ffprobe commands the pipeline needs.
type Toolkit struct {
	ffmpegBinary  string
	ffprobeBinary string
	runner        CommandRunner
}

// Option configures the toolkit.
type Option func(*Toolkit)

// WithRunner overrides the command runner (used in tests).
func WithRunner(runner CommandRunner) Option {
	return func(t *Toolkit) {
		if runner != nil {
			t.runner = runner
		}
	}
}

// NewToolkit constructs a toolkit for the given binaries. Empty binary names
// fall back to PATH lookup defaults.
func NewToolkit(ffmpegBinary, ffprobeBinary string, opts ...Option) *Toolkit {
	tk := &Toolkit{ffmpegBinary: ffmpegBinary, ffprobeBinary: ffprobeBinary, runner: execRunner{}}
	if tk.ffmpegBinary == "" {
		tk.ffmpegBinary = "ffmpeg"
	}
	if tk.ffprobeBinary == "" {
		tk.ffprobeBinary = "ffprobe"
	}
	for _, opt := range opts {
		opt(tk)
	}
	return tk
}

// ExtractMonoAudio produces a mono 16kHz pcm_s16le WAV from the source file.
func (t *Toolkit) ExtractMonoAudio(ctx context.Context, source, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	if result, err := t.runner.Run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("ffmpeg extract: %w: %s", err, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// ExtractSegment slices a time range out of an already extracted WAV track.
// startMS and durationMS are in milliseconds.
func (t *Toolkit) ExtractSegment(ctx context.Context, source string, startMS, durationMS int64, dest string) error {
	if durationMS <= 0 {
		return fmt.Errorf("extract segment: invalid duration %dms", durationMS)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(startMS),
		"-t", formatSeconds(durationMS),
		"-i", source,
		"-c", "copy",
		dest,
	}
	if result, err := t.runner.Run(ctx, t.ffmpegBinary, args...); err != nil {
		return fmt.Errorf("ffmpeg extract segment: %w: %s", err, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
