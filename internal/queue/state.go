package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const stateFile = "queue_state.json"

// State is the persisted scheduler order. The job catalog itself lives in
// SQLite; this file only records which jobs are queued, running, or
// interrupted so a restart can rebuild the schedule.
type State struct {
	Queue       []string  `json:"queue"`
	Running     string    `json:"running,omitempty"`
	Interrupted string    `json:"interrupted,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// StatePath returns the snapshot location for a state directory.
func StatePath(dir string) string {
	return filepath.Join(dir, stateFile)
}

// saveState writes the snapshot atomically: temp file, fsync, rename.
func saveState(dir string, state State) error {
	state.Timestamp = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("write queue state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write queue state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync queue state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close queue state: %w", err)
	}
	if err := os.Rename(tmpName, StatePath(dir)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename queue state: %w", err)
	}
	return nil
}

// loadState reads the snapshot. Missing or corrupt snapshots read as empty:
// the catalog still holds every job, only the order is lost.
func loadState(dir string) State {
	data, err := os.ReadFile(StatePath(dir))
	if err != nil {
		return State{}
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}
	}
	return state
}
