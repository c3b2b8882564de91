// Package logging builds the slog loggers used across scribed. It provides
// a console handler with key=value attribute formatting, a JSON handler for
// machine consumption, and small helpers for structured attributes so call
// sites stay consistent.
package logging
