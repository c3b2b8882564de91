// Package api defines wire-format types and converters for the HTTP API
// layer. It translates internal job and cache models into transport-friendly
// DTOs so consumers never couple to internal types.
//
// # Key Types
//
// JobView: transport representation of a job with settings, progress, and
// segment counters.
//
// QueueSummary: scheduler backlog in order, the running job, and catalog
// stats.
//
// CacheView: cached model entries, the cache version token, and preload
// state.
//
// DaemonStatus: aggregated runtime information including dependencies.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (jobs.Status, jobs.Phase) are
// exposed as lowercase strings. Timestamps use RFC3339 with milliseconds.
package api
