package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads c from path whenever the file changes, until ctx is done.
// A file that fails to parse is logged and the previous contents are kept.
func Watch(ctx context.Context, c *Catalog, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve catalog path: %w", err)
	}

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger.Info("Watching resource catalog", slog.String("path", abs))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			reload(c, abs, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Catalog watcher error", slog.String("error", err.Error()))
		}
	}
}

func reload(c *Catalog, path string, logger *slog.Logger) {
	resources, err := ReadFile(path)
	if err != nil {
		logger.Warn("Keeping previous resource catalog",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	c.Replace(resources)
	logger.Info("Reloaded resource catalog",
		slog.String("path", path),
		slog.Int("resources", len(resources)),
	)
}
