package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/acmetech/docchat/internal/log"
)

// Watcher keeps the index in sync with a documents directory: new or changed
// files are re-ingested, deleted files are removed from the index. Events are
// handled one at a time, so a burst of writes never ingests concurrently.
type Watcher struct {
	ingester *Ingester
	logger   log.Logger
}

// NewWatcher creates a Watcher driving the given ingester.
func NewWatcher(ingester *Ingester, logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Watcher{ingester: ingester, logger: logger}
}

// Watch blocks processing filesystem events for dir until ctx is cancelled.
// Individual event failures are logged and do not stop the watch.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	w.logger.Info("watching documents directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if !Supported(event.Name) {
		return
	}
	name := filepath.Base(event.Name)

	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		if _, err := w.ingester.IngestFile(ctx, event.Name); err != nil {
			w.logger.Warn("re-ingestion failed", "document", name, "error", err)
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if err := w.ingester.Remove(ctx, name); err != nil {
			w.logger.Warn("index removal failed", "document", name, "error", err)
		}
	}
}
