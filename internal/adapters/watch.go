package adapters

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchManifestDir watches the adapter manifest directory and logs a restart
// notice when a manifest changes. Manifests are immutable after load; the
// watcher only surfaces that the on-disk state has drifted from the running
// registry. Returns a stop function; a nil error with a no-op stop is
// returned when the directory does not exist.
func WatchManifestDir(ctx context.Context, dir string) (func(), error) {
	if dir == "" {
		return func() {}, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".yaml") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					slog.Warn("adapter manifest changed on disk; restart required to apply",
						"path", event.Name, "op", event.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("manifest watcher error", "error", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
