package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jarsater/taskbridge/internal/metrics"
)

// reloadDelay is how long the manifest must stay unchanged before it is read.
var reloadDelay = 100 * time.Millisecond

// errEmptyManifest is returned when a changed manifest has no content,
// usually because it was read between truncate and write.
var errEmptyManifest = errors.New("manifest is empty")

// Watch reloads the manifest at path into s whenever it changes, until ctx is
// done. A burst of events triggers a single reload once the file has been
// quiet for reloadDelay. A manifest that fails to load, or is empty, is
// logged and the previous commands stay in place. The returned error only
// reports watcher setup failures.
func Watch(ctx context.Context, logger *zap.SugaredLogger, path string, s *Set) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so that replace-by-rename saves are seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}

	logger.Infof("Watching %s for changes", path)

	// settle fires once no event has been seen for reloadDelay; nil while idle.
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			logger.Debugf("Registry manifest changed: %s", event.Op)
			settle = time.After(reloadDelay)

		case <-settle:
			settle = nil
			if err := s.reloadFromFile(path); err != nil {
				metrics.RecordRegistryReload("error")
				logger.Errorf("Failed to reload registry: %v", err)
			} else {
				metrics.RecordRegistryReload("ok")
				logger.Infof("Registry reloaded: %d commands", len(s.Commands()))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("File watcher error: %v", err)
		}
	}
}

// reloadFromFile is LoadFromFile for a file that changed under a running
// registry: blank content is rejected instead of clearing the commands.
func (s *Set) reloadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s: %w", path, errEmptyManifest)
	}
	return s.LoadFromBytes(data, FormatForPath(path))
}
