// Package daemon hosts the long-running scribed process: it enforces
// single-instance execution with a file lock, recovers the persisted
// schedule, runs the queue worker, and serves the HTTP control API.
package daemon
