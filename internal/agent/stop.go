package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchStopFile returns a channel that is closed once path exists. The
// parent directory is watched, so the file does not need to exist yet.
// The watcher stops with ctx.
func WatchStopFile(ctx context.Context, path string, logger *slog.Logger) (<-chan struct{}, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve stop file: %w", err)
	}
	ch := make(chan struct{})
	if _, err := os.Stat(abs); err == nil {
		logger.Info("stop file already present", "path", abs)
		close(ch)
		return ch, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				logger.Info("stop file detected", "path", abs)
				close(ch)
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("stop file watcher error", "error", err)
			}
		}
	}()
	return ch, nil
}
