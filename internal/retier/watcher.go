// Package retier watches the collection tier file and applies live
// re-tiering. Tier changes are a cache-invalidation event: the metadata
// store is updated and every cached query result is purged, so the next
// query re-ranks against the new tiers.
package retier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/scriptorium/scriptorium/internal/authority"
)

// TierReloader applies a new collection tier mapping.
type TierReloader interface {
	ReloadCollectionTiers(ctx context.Context, tiers map[string]authority.Tier) error
}

// CacheInvalidator drops cached query results after a tier change.
type CacheInvalidator interface {
	InvalidateCache()
}

// DefaultDebounce coalesces editor write bursts into one reload.
const DefaultDebounce = 200 * time.Millisecond

// Watcher monitors a tier file for changes.
type Watcher struct {
	path     string
	store    TierReloader
	cache    CacheInvalidator
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopped bool
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithDebounce sets the event coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// New creates a watcher for the tier file at path.
func New(path string, store TierReloader, cache CacheInvalidator, opts ...Option) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("tier file path is empty")
	}
	if store == nil {
		return nil, fmt.Errorf("tier reloader is nil")
	}

	w := &Watcher{
		path:     path,
		store:    store,
		cache:    cache,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start applies the current tier file, then watches for changes until the
// context is cancelled or Stop is called. Watching the parent directory
// instead of the file itself survives the rename-and-replace pattern most
// editors use.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Reload(ctx); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create tier watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch tier directory: %w", err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: restart the window on every event burst.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Error("tier reload failed",
					slog.String("path", w.path),
					slog.String("error", err.Error()))
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("tier watcher error", slog.String("error", err.Error()))
		}
	}
}

// Reload reads the tier file and applies it: metadata store first, then
// cache purge, so no query can be served a stale ordering against the new
// tiers.
func (w *Watcher) Reload(ctx context.Context) error {
	tiers, err := LoadTierFile(w.path)
	if err != nil {
		return err
	}

	if err := w.store.ReloadCollectionTiers(ctx, tiers); err != nil {
		return fmt.Errorf("apply collection tiers: %w", err)
	}
	if w.cache != nil {
		w.cache.InvalidateCache()
	}

	w.logger.Info("collection tiers reloaded",
		slog.String("path", w.path),
		slog.Int("collections", len(tiers)))
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

// LoadTierFile parses a YAML mapping of collection name to tier and
// validates every tier against the 1-10 scale.
func LoadTierFile(path string) (map[string]authority.Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier file: %w", err)
	}

	var raw map[string]int
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tier file %s: %w", path, err)
	}

	tiers := make(map[string]authority.Tier, len(raw))
	for name, tier := range raw {
		t := authority.Tier(tier)
		if !t.Valid() {
			return nil, fmt.Errorf("collection %q: tier %d outside valid range %d-%d",
				name, tier, authority.MinTier, authority.MaxTier)
		}
		tiers[name] = t
	}
	return tiers, nil
}
