package meta

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchSnapshot reloads the snapshot at path whenever the file changes and
// hands each freshly parsed Snapshot to onChange. Parse failures are logged
// and the previous snapshot stays in effect. It blocks until ctx is done.
func WatchSnapshot(ctx context.Context, path string, logger *slog.Logger, onChange func(*Snapshot)) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create metadata watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so editors that replace the file are seen too.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve metadata path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			snap, err := LoadSnapshotFile(abs)
			if err != nil {
				logger.Warn("ignoring invalid metadata snapshot", slog.String("path", abs), slog.Any("error", err))
				continue
			}
			logger.Debug("metadata snapshot reloaded", slog.String("path", abs))
			onChange(snap)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("metadata watcher error", slog.Any("error", err))
		}
	}
}
