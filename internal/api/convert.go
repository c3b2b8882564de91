package api

import (
	"scribed/internal/jobs"
	"scribed/internal/modelcache"
)

// FromJob converts a catalog record to its API representation.
func FromJob(job *jobs.Job) JobView {
	if job == nil {
		return JobView{}
	}

	view := JobView{
		ID:         job.ID,
		SourceFile: job.SourceFile,
		WorkDir:    job.WorkDir,
		Settings: JobSettings{
			Model:          job.Settings.Model,
			ComputeType:    job.Settings.ComputeType,
			Device:         job.Settings.Device,
			BatchSize:      job.Settings.BatchSize,
			WordTimestamps: job.Settings.WordTimestamps,
			Language:       job.Settings.Language,
		},
		Status: string(job.Status),
		Progress: JobProgress{
			Phase:   string(job.Phase),
			Percent: job.ProgressPercent,
			Message: job.Message,
		},
		ErrorMessage:      job.ErrorMessage,
		ProcessedSegments: job.ProcessedSegments,
		TotalSegments:     job.TotalSegments,
		DetectedLanguage:  job.DetectedLanguage,
		ResultPath:        job.ResultPath,
	}
	if !job.CreatedAt.IsZero() {
		view.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		view.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return view
}

// FromJobs converts a slice of catalog records into API DTOs.
func FromJobs(records []*jobs.Job) []JobView {
	if len(records) == 0 {
		return nil
	}
	out := make([]JobView, 0, len(records))
	for _, job := range records {
		out = append(out, FromJob(job))
	}
	return out
}

// FromCacheEntry converts a cache entry view.
func FromCacheEntry(entry modelcache.EntryView) ModelView {
	view := ModelView{
		Model:       entry.Model,
		ComputeType: entry.ComputeType,
		Device:      entry.Device,
		EstMemoryMB: entry.EstMemoryMB,
	}
	if !entry.LoadedAt.IsZero() {
		view.LoadedAt = entry.LoadedAt.UTC().Format(dateTimeFormat)
	}
	if !entry.LastUsed.IsZero() {
		view.LastUsed = entry.LastUsed.UTC().Format(dateTimeFormat)
	}
	return view
}

// FromPreloadStatus converts the preload state.
func FromPreloadStatus(status modelcache.PreloadStatus) PreloadView {
	return PreloadView{
		InProgress:      status.InProgress,
		CurrentTarget:   status.CurrentTarget,
		Loaded:          status.Loaded,
		Total:           status.Total,
		Errors:          append([]string(nil), status.Errors...),
		FailureAttempts: status.FailureAttempts,
	}
}

// FromCache assembles the combined cache view.
func FromCache(cache *modelcache.Cache) CacheView {
	if cache == nil {
		return CacheView{}
	}
	entries := cache.Entries()
	views := make([]ModelView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, FromCacheEntry(entry))
	}
	return CacheView{
		Entries: views,
		Version: cache.Version(),
		Preload: FromPreloadStatus(cache.Status()),
	}
}

// StatsToCounts normalizes catalog stats for JSON payloads.
func StatsToCounts(stats map[jobs.Status]int) map[string]int {
	counts := make(map[string]int, len(stats))
	for status, n := range stats {
		counts[string(status)] = n
	}
	return counts
}
