package testsupport

import (
	"context"
	"testing"

	"scribed/internal/config"
	"scribed/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// NewJob creates a job record for tests using the provided store.
func NewJob(t testing.TB, store *jobs.Store, cfg *config.Config, sourceFile string) *jobs.Job {
	t.Helper()

	settings := jobs.Settings{
		Model:          cfg.Transcription.Model,
		ComputeType:    cfg.Transcription.ComputeType,
		Device:         cfg.Transcription.Device,
		BatchSize:      cfg.Transcription.BatchSize,
		WordTimestamps: cfg.Transcription.WordTimestamps,
		Language:       cfg.Transcription.Language,
	}
	job, err := store.Create(context.Background(), sourceFile, "", settings)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	job.WorkDir = cfg.JobDir(job.ID)
	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("store.Update: %v", err)
	}
	return job
}
