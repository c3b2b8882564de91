package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const checkpointFile = "checkpoint.json"

// SegmentRef locates one audio segment within the job's work directory.
type SegmentRef struct {
	File       string `json:"file"`
	StartMS    int64  `json:"start_ms"`
	DurationMS int64  `json:"duration_ms"`
}

// WordResult is one aligned word, in absolute job time.
type WordResult struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// SegmentResult is one transcribed span, in absolute job time.
type SegmentResult struct {
	StartMS int64        `json:"start_ms"`
	EndMS   int64        `json:"end_ms"`
	Text    string       `json:"text"`
	Words   []WordResult `json:"words,omitempty"`
}

// Checkpoint is the durable pipeline state for one job. It is created at the
// end of the split phase, rewritten after every processed segment, and
// deleted when the subtitle artifact has been written.
type Checkpoint struct {
	JobID            string          `json:"job_id"`
	Phase            string          `json:"phase"`
	TotalSegments    int             `json:"total_segments"`
	ProcessedIndices []int           `json:"processed_indices"`
	Segments         []SegmentRef    `json:"segments"`
	Results          []SegmentResult `json:"results"`
	Language         string          `json:"language,omitempty"`
}

// CheckpointPath returns the checkpoint location for a work directory.
func CheckpointPath(workDir string) string {
	return filepath.Join(workDir, checkpointFile)
}

// LoadCheckpoint reads the checkpoint for workDir. A missing, unreadable, or
// malformed file is treated as no checkpoint: the job restarts fresh rather
// than staying blocked on a bad write.
func LoadCheckpoint(workDir string) *Checkpoint {
	data, err := os.ReadFile(CheckpointPath(workDir))
	if err != nil {
		return nil
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	if !cp.valid() {
		return nil
	}
	return &cp
}

func (c *Checkpoint) valid() bool {
	if c.TotalSegments != len(c.Segments) {
		return false
	}
	if len(c.ProcessedIndices) > c.TotalSegments {
		return false
	}
	seen := make(map[int]struct{}, len(c.ProcessedIndices))
	for _, idx := range c.ProcessedIndices {
		if idx < 0 || idx >= c.TotalSegments {
			return false
		}
		if _, dup := seen[idx]; dup {
			return false
		}
		seen[idx] = struct{}{}
	}
	return true
}

// Save writes the checkpoint atomically: temp file in the same directory,
// fsync, rename.
func (c *Checkpoint) Save(workDir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	target := CheckpointPath(workDir)
	tmp, err := os.CreateTemp(workDir, checkpointFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpoint removes the checkpoint file. Missing is not an error.
func DeleteCheckpoint(workDir string) error {
	err := os.Remove(CheckpointPath(workDir))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Processed reports whether segment index is in the processed set.
func (c *Checkpoint) Processed(index int) bool {
	for _, idx := range c.ProcessedIndices {
		if idx == index {
			return true
		}
	}
	return false
}

// MarkProcessed adds index to the processed set. The set only grows.
func (c *Checkpoint) MarkProcessed(index int) {
	if c.Processed(index) {
		return
	}
	c.ProcessedIndices = append(c.ProcessedIndices, index)
}
