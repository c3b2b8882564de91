package media

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SilenceRange is a detected stretch of silence, in milliseconds.
type SilenceRange struct {
	StartMS int64
	EndMS   int64
}

// DetectSilence runs ffmpeg's silencedetect filter over an audio file and
// returns the detected silence ranges. thresholdDB is the noise floor (for
// example -35) and minSilenceMS the minimum silence duration to report.
func (t *Toolkit) DetectSilence(ctx context.Context, path string, thresholdDB float64, minSilenceMS int) ([]SilenceRange, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%s", thresholdDB, formatSeconds(int64(minSilenceMS)))
	args := []string{
		"-hide_banner",
		"-nostats",
		"-i", path,
		"-af", filter,
		"-f", "null",
		"-",
	}
	// silencedetect reports on stderr; ffmpeg exits zero even when ranges
	// are found, so a run error is a real failure.
	result, err := t.runner.Run(ctx, t.ffmpegBinary, args...)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg silencedetect: %w: %s", err, strings.TrimSpace(result.Stderr))
	}
	return parseSilence(result.Stderr), nil
}

func parseSilence(output string) []SilenceRange {
	var ranges []SilenceRange
	var pendingStart int64 = -1

	for _, line := range strings.Split(output, "\n") {
		if idx := strings.Index(line, "silence_start:"); idx >= 0 {
			if ms, ok := parseSecondsField(line[idx+len("silence_start:"):]); ok {
				pendingStart = ms
			}
			continue
		}
		if idx := strings.Index(line, "silence_end:"); idx >= 0 {
			if pendingStart < 0 {
				continue
			}
			if ms, ok := parseSecondsField(line[idx+len("silence_end:"):]); ok && ms > pendingStart {
				ranges = append(ranges, SilenceRange{StartMS: pendingStart, EndMS: ms})
			}
			pendingStart = -1
		}
	}
	return ranges
}

func parseSecondsField(raw string) (int64, bool) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return int64(math.Round(seconds * 1000)), true
}
