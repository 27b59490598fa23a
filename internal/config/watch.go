package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration file whenever it changes on disk and
// calls fn with each successfully parsed result. Files that fail to parse
// are logged and skipped so a half-written save never reaches fn. Watch
// blocks until ctx is cancelled or the watcher fails.
func Watch(ctx context.Context, path string, log *slog.Logger, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		// Best-effort watcher close; no actionable error handling path.
		_ = w.Close()
	}()

	// Watch the directory rather than the file so editors that replace the
	// file on save (rename over the original) keep triggering events.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("config reload skipped", slog.String("path", abs), slog.String("err", err.Error()))
				continue
			}
			log.Info("config reloaded", slog.String("path", abs))
			fn(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", slog.String("err", err.Error()))
		}
	}
}
