package media

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeDurationMS returns the container duration of a media file in
// milliseconds.
func (t *Toolkit) ProbeDurationMS(ctx context.Context, path string) (int64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	result, err := t.runner.Run(ctx, t.ffprobeBinary, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w: %s", err, strings.TrimSpace(result.Stderr))
	}
	raw := strings.TrimSpace(result.Stdout)
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: parse %q: %w", raw, err)
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("ffprobe duration: invalid value %q", raw)
	}
	return int64(math.Round(seconds * 1000)), nil
}
