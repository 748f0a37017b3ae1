package redact

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the redaction config whenever the file changes. Editors
// replace files with rename+create, so the watch is on the parent
// directory. A broken edit keeps the previous rule set active.
// Blocks until ctx is done.
func (r *Redactor) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				logger.Warn("redact config reload failed", zap.Error(err))
				continue
			}
			if err := r.SetConfig(cfg); err != nil {
				logger.Warn("redact config rejected", zap.Error(err))
				continue
			}
			logger.Info("redact config reloaded", zap.String("path", path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("redact config watcher error", zap.Error(err))
		}
	}
}
