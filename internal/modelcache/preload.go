package modelcache

import (
	"context"
	"errors"
	"fmt"

	"scribed/internal/engine"
	"scribed/internal/logging"
)

// ErrPreloadActive is returned when a preload run is already in progress.
var ErrPreloadActive = errors.New("preload already in progress")

type preloadState struct {
	active          bool
	current         string
	loaded          int
	total           int
	errors          []string
	failureAttempts int
}

// PreloadStatus is a point-in-time snapshot of the preload record.
type PreloadStatus struct {
	InProgress      bool     `json:"in_progress"`
	CurrentTarget   string   `json:"current_target"`
	Loaded          int      `json:"loaded"`
	Total           int      `json:"total"`
	Errors          []string `json:"errors,omitempty"`
	FailureAttempts int      `json:"failure_attempts"`
	Version         uint64   `json:"version"`
}

// Preload warms every target in order. A second call while one is running
// returns ErrPreloadActive instead of starting a duplicate run. A failed
// target is recorded and the batch continues; the failure-attempt counter
// moves only on the run's overall outcome.
func (c *Cache) Preload(ctx context.Context, targets []engine.ModelSpec) error {
	if err := c.beginPreload(len(targets)); err != nil {
		return err
	}
	c.runPreload(ctx, targets)
	return nil
}

// StartPreload reserves the preload slot and warms the targets on a
// background goroutine. The reservation is atomic: exactly one of any set
// of concurrent callers gets nil, the rest get ErrPreloadActive.
func (c *Cache) StartPreload(ctx context.Context, targets []engine.ModelSpec) error {
	if err := c.beginPreload(len(targets)); err != nil {
		return err
	}
	go c.runPreload(ctx, targets)
	return nil
}

func (c *Cache) beginPreload(total int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preload.active {
		return ErrPreloadActive
	}
	c.preload.active = true
	c.preload.current = ""
	c.preload.loaded = 0
	c.preload.total = total
	c.preload.errors = nil
	return nil
}

func (c *Cache) runPreload(ctx context.Context, targets []engine.ModelSpec) {
	succeeded := 0
	for _, target := range targets {
		c.mu.Lock()
		c.preload.current = target.Name
		c.mu.Unlock()

		if _, err := c.Get(ctx, target); err != nil {
			c.mu.Lock()
			c.preload.errors = append(c.preload.errors, fmt.Sprintf("%s: %v", target.Name, err))
			c.mu.Unlock()
			c.logger.Warn("preload target failed",
				logging.String("model", target.Name),
				logging.Error(err))
			continue
		}
		succeeded++
		c.mu.Lock()
		c.preload.loaded++
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.preload.active = false
	c.preload.current = ""
	if succeeded == 0 && len(targets) > 0 {
		c.preload.failureAttempts++
	} else if succeeded > 0 {
		c.preload.failureAttempts = 0
	}
	c.mu.Unlock()
}

// Status returns a snapshot of the preload record and the version token.
func (c *Cache) Status() PreloadStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := PreloadStatus{
		InProgress:      c.preload.active,
		CurrentTarget:   c.preload.current,
		Loaded:          c.preload.loaded,
		Total:           c.preload.total,
		FailureAttempts: c.preload.failureAttempts,
		Version:         c.version,
	}
	if len(c.preload.errors) > 0 {
		status.Errors = append([]string(nil), c.preload.errors...)
	}
	return status
}
