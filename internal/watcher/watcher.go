// Package watcher reloads the configuration when the file changes on disk.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"devgate/internal/config"
)

// DefaultDebounce coalesces the burst of filesystem events an editor
// produces for a single save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes one config file and swaps the registry on change.
type Watcher struct {
	path     string
	registry *config.Registry
	debounce time.Duration
	log      *slog.Logger

	// onReload, when set, runs after every successful registry swap with
	// the new config. The HTTPS listener uses it to re-mint certificates.
	onReload func(*config.FileConfig)
}

func New(path string, reg *config.Registry, debounce time.Duration, log *slog.Logger, onReload func(*config.FileConfig)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		path:     path,
		registry: reg,
		debounce: debounce,
		log:      log,
		onReload: onReload,
	}
}

// Reload parses the config file and swaps it into the registry. A parse
// or validation failure leaves the previous config in place.
func (w *Watcher) Reload() error {
	fc, err := config.Load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return err
	}
	w.registry.Swap(fc)
	w.log.Info("config reloaded", "path", w.path, "projects", len(fc.Projects), "mappings", len(fc.Mappings))
	if w.onReload != nil {
		w.onReload(fc)
	}
	return nil
}

// Run watches until ctx is cancelled. The parent directory is watched
// rather than the file itself because editors typically replace the file,
// which would orphan a direct watch.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	base := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
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
			_ = w.Reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watch error", "error", err)
		}
	}
}
