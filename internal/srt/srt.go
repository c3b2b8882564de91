// Package srt renders subtitle cues in SubRip format with millisecond
// precision timestamps.
package srt

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Cue is one subtitle entry. Times are milliseconds from media start.
type Cue struct {
	StartMS int64
	EndMS   int64
	Text    string
}

// Render serializes cues to SubRip text. Cues whose end time does not exceed
// their start time are dropped; numbering is contiguous over the survivors.
func Render(cues []Cue) string {
	var b strings.Builder
	index := 1
	for _, cue := range cues {
		text := strings.TrimSpace(cue.Text)
		if text == "" || cue.EndMS <= cue.StartMS {
			continue
		}
		b.WriteString(strconv.Itoa(index))
		b.WriteByte('\n')
		b.WriteString(FormatTimestamp(cue.StartMS))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(cue.EndMS))
		b.WriteByte('\n')
		b.WriteString(text)
		b.WriteString("\n\n")
		index++
	}
	return b.String()
}

// WriteFile renders cues and writes them atomically to path.
func WriteFile(path string, cues []Cue) error {
	content := Render(cues)
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure srt directory: %w", err)
	}
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write srt temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename srt: %w", err)
	}
	return nil
}

// FormatTimestamp renders milliseconds as HH:MM:SS,mmm.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	seconds := (ms % 60_000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// ParseTimestamp converts an SRT timestamp back to milliseconds. Periods are
// accepted in place of the standard comma separator.
func ParseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ".", ","))
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return int64(hours)*3_600_000 + int64(minutes)*60_000 + int64(seconds)*1000 + int64(millis), nil
}

// CountCues returns the number of cue blocks in SubRip content.
func CountCues(content string) int {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}
	count := 0
	for _, block := range strings.Split(trimmed, "\n\n") {
		if strings.TrimSpace(block) != "" {
			count++
		}
	}
	return count
}
