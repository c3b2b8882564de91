package preflight

import (
	"context"

	"scribed/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	if cfg.Paths.MediaDir != "" {
		results = append(results, CheckDirectoryAccess("Media directory", cfg.Paths.MediaDir))
	}
	if cfg.Paths.ModelCacheDir != "" {
		results = append(results, CheckDirectoryAccess("Model cache directory", cfg.Paths.ModelCacheDir))
	}

	for _, status := range CheckSystemDeps(ctx, cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
		if status.Available && result.Detail == "" {
			result.Detail = status.Command
		}
		if status.Optional && !status.Available {
			result.Passed = true
			result.Detail = status.Detail + " (optional)"
		}
		results = append(results, result)
	}

	return results
}
