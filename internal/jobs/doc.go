// Package jobs defines the job data model and its SQLite-backed catalog
// store. The store is the durable record of every job the daemon has seen;
// scheduler ordering lives in the queue package's snapshot file and pipeline
// progress in each job's checkpoint.
package jobs
