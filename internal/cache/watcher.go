package cache

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called after a watcher-driven lifecycle change.
// kind is currently always "cache.activated".
type EventCallback func(kind, generation string)

// Watch observes the precache manifest until ctx is cancelled. When the
// manifest content changes, the new generation it names is installed and
// activated, superseding the running one. Events are debounced because
// editors typically emit several writes per save.
//
// The parent directory is watched rather than the file itself so that
// replace-by-rename saves keep being observed.
func Watch(ctx context.Context, mgr *Manager, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(mgr.manifestPath)
	base := filepath.Base(mgr.manifestPath)
	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("manifest", mgr.manifestPath))

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(200 * time.Millisecond)
			debounceCh = debounce.C
		} else {
			debounce.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-debounceCh:
			upgrade(ctx, mgr, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// upgrade installs and activates the generation the manifest currently
// names, if it differs from the running one. Failures leave the running
// generation authoritative.
func upgrade(ctx context.Context, mgr *Manager, logger *slog.Logger, cb EventCallback) {
	_, gen, err := LoadManifest(mgr.manifestPath)
	if err != nil {
		logger.Warn("watcher: manifest unreadable", slog.String("error", err.Error()))
		return
	}
	if gen == mgr.Generation() {
		return
	}

	logger.Info("watcher: new generation detected", slog.String("generation", gen))
	if err := mgr.Install(ctx); err != nil {
		logger.Warn("watcher: install failed", slog.String("generation", gen), slog.String("error", err.Error()))
		return
	}
	if err := mgr.Activate(ctx); err != nil {
		logger.Warn("watcher: activate failed", slog.String("generation", gen), slog.String("error", err.Error()))
		return
	}
	if cb != nil {
		cb("cache.activated", gen)
	}
}
