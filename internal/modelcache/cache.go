// Package modelcache bounds the number of loaded transcription models and
// keeps hot models resident across jobs.
package modelcache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"scribed/internal/engine"
	"scribed/internal/logging"
	"scribed/internal/subtitlelang"
)

// Options configure a Cache.
type Options struct {
	Engine engine.Engine
	Logger *slog.Logger
	// Monitor reports free memory; nil uses the host monitor.
	Monitor MemoryMonitor
	// MaxModels bounds the transcription model cache.
	MaxModels int
	// MaxAlignModels bounds the alignment model cache.
	MaxAlignModels int
	// IdleWindow is how long an entry may sit unused before headroom
	// pressure may evict it ahead of the strict LRU rule.
	IdleWindow time.Duration
	// MinFreeMemMB is the headroom floor that triggers idle eviction.
	MinFreeMemMB int64
}

type entry struct {
	handle   *engine.Model
	loadedAt time.Time
	lastUsed time.Time
	estMB    int64
	elem     *list.Element
}

type alignEntry struct {
	handle   *engine.AlignModel
	lastUsed time.Time
	elem     *list.Element
}

// Cache is an LRU cache of loaded model handles. A single coarse lock guards
// lookup and load decisions; loads themselves run outside the lock with an
// in-flight marker so a key is never loaded twice concurrently.
type Cache struct {
	engine  engine.Engine
	logger  *slog.Logger
	monitor MemoryMonitor

	maxModels      int
	maxAlignModels int
	idleWindow     time.Duration
	minFreeMemMB   int64

	mu           sync.Mutex
	entries      map[engine.ModelSpec]*entry
	order        *list.List // front is most recently used
	alignEntries map[string]*alignEntry
	alignOrder   *list.List
	loading      map[engine.ModelSpec]chan struct{}
	version      uint64
	preload      preloadState

	now func() time.Time
}

// New creates a Cache. Engine is required.
func New(opts Options) (*Cache, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("modelcache: engine required")
	}
	if opts.MaxModels <= 0 {
		opts.MaxModels = 1
	}
	if opts.MaxAlignModels <= 0 {
		opts.MaxAlignModels = 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = HostMonitor{}
	}
	return &Cache{
		engine:         opts.Engine,
		logger:         logging.NewComponentLogger(logger, "modelcache"),
		monitor:        monitor,
		maxModels:      opts.MaxModels,
		maxAlignModels: opts.MaxAlignModels,
		idleWindow:     opts.IdleWindow,
		minFreeMemMB:   opts.MinFreeMemMB,
		entries:        make(map[engine.ModelSpec]*entry),
		order:          list.New(),
		alignEntries:   make(map[string]*alignEntry),
		alignOrder:     list.New(),
		loading:        make(map[engine.ModelSpec]chan struct{}),
		now:            time.Now,
	}, nil
}

// Get returns the handle for spec, loading it on a miss. Hits refresh the
// entry's recency. A load that races with another load of the same spec
// waits for the winner and reuses its handle.
func (c *Cache) Get(ctx context.Context, spec engine.ModelSpec) (*engine.Model, error) {
	for {
		c.mu.Lock()
		if ent, ok := c.entries[spec]; ok {
			ent.lastUsed = c.now()
			c.order.MoveToFront(ent.elem)
			handle := ent.handle
			c.mu.Unlock()
			return handle, nil
		}
		if inFlight, ok := c.loading[spec]; ok {
			c.mu.Unlock()
			select {
			case <-inFlight:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		done := make(chan struct{})
		c.loading[spec] = done
		c.makeRoomLocked()
		c.mu.Unlock()

		handle, err := c.engine.LoadModel(ctx, spec)

		c.mu.Lock()
		delete(c.loading, spec)
		close(done)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("load %s: %w", spec.Name, err)
		}
		// Concurrent loads of distinct specs can each have seen room before
		// dropping the lock. Re-enforce the bound here so the insert below
		// never pushes the cache past capacity; spec is not in the order
		// list yet, so eviction cannot pick the handle just loaded.
		c.makeRoomLocked()
		now := c.now()
		ent := &entry{handle: handle, loadedAt: now, lastUsed: now, estMB: estimateFootprintMB(spec.Name)}
		ent.elem = c.order.PushFront(spec)
		c.entries[spec] = ent
		c.version++
		c.mu.Unlock()

		c.logger.Info("model loaded",
			logging.String("model", spec.Name),
			logging.String("device", spec.Device),
			logging.String("compute_type", spec.ComputeType))
		return handle, nil
	}
}

// GetAlign returns the alignment model for language, loading it on a miss.
// The alignment cache has its own smaller capacity and the same LRU rule.
func (c *Cache) GetAlign(ctx context.Context, language, device string) (*engine.AlignModel, error) {
	lang := subtitlelang.Normalize(language)
	if lang == "" {
		return nil, fmt.Errorf("align model: language required")
	}

	c.mu.Lock()
	if ent, ok := c.alignEntries[lang]; ok {
		ent.lastUsed = c.now()
		c.alignOrder.MoveToFront(ent.elem)
		handle := ent.handle
		c.mu.Unlock()
		return handle, nil
	}
	for len(c.alignEntries) >= c.maxAlignModels {
		c.evictAlignLRULocked()
	}
	c.mu.Unlock()

	handle, err := c.engine.LoadAlignModel(ctx, lang, device)
	if err != nil {
		return nil, fmt.Errorf("load align %s: %w", lang, err)
	}

	c.mu.Lock()
	if existing, ok := c.alignEntries[lang]; ok {
		existing.lastUsed = c.now()
		c.alignOrder.MoveToFront(existing.elem)
		kept := existing.handle
		c.mu.Unlock()
		c.engine.UnloadAlignModel(handle)
		return kept, nil
	}
	ent := &alignEntry{handle: handle, lastUsed: c.now()}
	ent.elem = c.alignOrder.PushFront(lang)
	c.alignEntries[lang] = ent
	c.version++
	c.mu.Unlock()
	return handle, nil
}

// makeRoomLocked prepares for one incoming entry: under memory pressure it
// first drops entries idle past the window, then enforces the capacity bound
// by strict LRU eviction.
func (c *Cache) makeRoomLocked() {
	if c.minFreeMemMB > 0 {
		if free, err := c.monitor.FreeMemoryMB(); err == nil && free < c.minFreeMemMB {
			c.evictIdleLocked()
		}
	}
	for len(c.entries) >= c.maxModels {
		if !c.evictLRULocked() {
			break
		}
	}
}

// evictIdleLocked drops every entry whose last use is older than the idle
// window. Returns the number of evicted entries.
func (c *Cache) evictIdleLocked() int {
	if c.idleWindow <= 0 {
		return 0
	}
	cutoff := c.now().Add(-c.idleWindow)
	evicted := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		spec := elem.Value.(engine.ModelSpec)
		if ent := c.entries[spec]; ent.lastUsed.Before(cutoff) {
			c.removeLocked(spec, ent)
			evicted++
		}
		elem = prev
	}
	return evicted
}

// evictLRULocked drops the least recently used entry.
func (c *Cache) evictLRULocked() bool {
	elem := c.order.Back()
	if elem == nil {
		return false
	}
	spec := elem.Value.(engine.ModelSpec)
	c.removeLocked(spec, c.entries[spec])
	return true
}

func (c *Cache) removeLocked(spec engine.ModelSpec, ent *entry) {
	c.order.Remove(ent.elem)
	delete(c.entries, spec)
	c.engine.UnloadModel(ent.handle)
	c.version++
	c.logger.Info("model evicted", logging.String("model", spec.Name))
}

func (c *Cache) evictAlignLRULocked() bool {
	elem := c.alignOrder.Back()
	if elem == nil {
		return false
	}
	lang := elem.Value.(string)
	ent := c.alignEntries[lang]
	c.alignOrder.Remove(ent.elem)
	delete(c.alignEntries, lang)
	c.engine.UnloadAlignModel(ent.handle)
	c.version++
	return true
}

// ReclaimIdle drops entries idle past the window. The worker loop calls this
// between jobs.
func (c *Cache) ReclaimIdle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictIdleLocked()
}

// Clear drops every entry from both caches, resets preload progress, and
// forces memory reclamation.
func (c *Cache) Clear() {
	c.mu.Lock()
	for c.evictLRULocked() {
	}
	for c.evictAlignLRULocked() {
	}
	c.preload.loaded = 0
	c.preload.total = 0
	c.preload.current = ""
	c.preload.errors = nil
	c.version++
	c.mu.Unlock()
	debug.FreeOSMemory()
}

// Version returns the cache version token. It increases on every mutation.
func (c *Cache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Len returns the number of cached transcription models.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EntryView describes one cached model for status surfaces.
type EntryView struct {
	Model       string    `json:"model"`
	ComputeType string    `json:"compute_type"`
	Device      string    `json:"device"`
	LoadedAt    time.Time `json:"loaded_at"`
	LastUsed    time.Time `json:"last_used"`
	EstMemoryMB int64     `json:"est_memory_mb"`
}

// Entries returns the cached models ordered most recently used first.
func (c *Cache) Entries() []EntryView {
	c.mu.Lock()
	defer c.mu.Unlock()
	views := make([]EntryView, 0, len(c.entries))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		spec := elem.Value.(engine.ModelSpec)
		ent := c.entries[spec]
		views = append(views, EntryView{
			Model:       spec.Name,
			ComputeType: spec.ComputeType,
			Device:      spec.Device,
			LoadedAt:    ent.loadedAt,
			LastUsed:    ent.lastUsed,
			EstMemoryMB: ent.estMB,
		})
	}
	return views
}

// estimateFootprintMB maps well-known Whisper model names to rough resident
// sizes. Unknown names get a conservative middle estimate.
func estimateFootprintMB(model string) int64 {
	switch {
	case model == "tiny" || model == "tiny.en":
		return 150
	case model == "base" || model == "base.en":
		return 300
	case model == "small" || model == "small.en":
		return 900
	case model == "medium" || model == "medium.en":
		return 2600
	case len(model) >= 5 && model[:5] == "large":
		return 4500
	default:
		return 1500
	}
}
