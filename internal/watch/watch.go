package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long File waits after the last event before firing.
const DefaultDebounce = 200 * time.Millisecond

// File monitors path and calls onChange once the file has been written or
// replaced and then stayed quiet for debounce. It runs until ctx is
// cancelled. onChange runs on the watching goroutine, so a slow callback
// delays (and coalesces) later notifications.
//
// The parent directory is watched rather than the file itself, so
// atomic-save editors and writers that rename a temp file into place are
// picked up as well as in-place writes.
func File(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch: %q: %w", path, err)
	}
	slog.Info("watch: watching for changes", "path", target)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			slog.Debug("watch: change detected", "path", target, "op", event.Op.String())
			timer.Reset(debounce)

		case <-timer.C:
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch: watcher error", "path", target, "err", err)
		}
	}
}
